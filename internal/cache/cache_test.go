package cache

import (
	"testing"
	"time"
)

func TestKeyNamespacing(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		domain Domain
		symbol string
	}{
		{"quote", Key(DomainQuote, "aapl"), DomainQuote, "AAPL"},
		{"historical with params", Key(DomainHistorical, "MSFT", "30"), DomainHistorical, "MSFT"},
		{"technical indicator", Key(DomainTechnical, " nvda ", "sma"), DomainTechnical, "NVDA"},
		{"search", Key(DomainSearch, "apple"), DomainSearch, "APPLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DomainOf(tt.key); got != tt.domain {
				t.Errorf("DomainOf(%q) = %q, want %q", tt.key, got, tt.domain)
			}
			if got := SymbolOf(tt.key); got != tt.symbol {
				t.Errorf("SymbolOf(%q) = %q, want %q", tt.key, got, tt.symbol)
			}
		})
	}

	if got := SymbolOf("nosymbol"); got != "" {
		t.Errorf("SymbolOf without namespace = %q, want empty", got)
	}
}

func TestPutGetFreshAndStale(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	key := Key(DomainQuote, "AAPL")
	e := s.Put(key, map[string]float64{"last": 206.8}, time.Minute, OriginFresh)

	if !e.ExpiresAt.After(e.WrittenAt) {
		t.Fatal("entry must expire after it was written")
	}

	if _, ok := s.GetFresh(key); !ok {
		t.Fatal("fresh entry should be returned by GetFresh")
	}

	// Walk past the TTL: GetFresh misses, Get still serves the entry.
	now = now.Add(2 * time.Minute)

	if _, ok := s.GetFresh(key); ok {
		t.Error("expired entry must be absent from GetFresh")
	}
	stale, ok := s.Get(key)
	if !ok {
		t.Fatal("expired entry must remain readable via Get")
	}
	if !stale.Expired(now) {
		t.Error("entry should report expired")
	}
}

func TestGetMissingKey(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("quote:NOPE"); ok {
		t.Error("Get on missing key should report absent")
	}
	if _, ok := s.GetFresh("quote:NOPE"); ok {
		t.Error("GetFresh on missing key should report absent")
	}
}

func TestPutReplacesWholeEntry(t *testing.T) {
	s := NewStore()
	key := Key(DomainQuote, "AAPL")

	s.Put(key, "first", time.Minute, OriginFresh)
	s.Put(key, "second", time.Minute, OriginSynthetic)

	e, ok := s.Get(key)
	if !ok {
		t.Fatal("entry missing after replacement")
	}
	if e.Data != "second" || e.Origin != OriginSynthetic {
		t.Errorf("replacement incomplete: data=%v origin=%v", e.Data, e.Origin)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestDeleteReturnsSize(t *testing.T) {
	s := NewStore()
	key := Key(DomainSearch, "AAPL")

	e := s.Put(key, []string{"AAPL", "AAPL.L"}, time.Minute, OriginFresh)
	if e.Size <= 0 {
		t.Fatal("entry size estimate must be positive")
	}

	if freed := s.Delete(key); freed != e.Size {
		t.Errorf("Delete freed %d, want %d", freed, e.Size)
	}
	if freed := s.Delete(key); freed != 0 {
		t.Errorf("second Delete freed %d, want 0", freed)
	}
}

func TestRangeAndTotalSize(t *testing.T) {
	s := NewStore()
	s.Put(Key(DomainQuote, "AAPL"), 1, time.Minute, OriginFresh)
	s.Put(Key(DomainQuote, "MSFT"), 2, time.Minute, OriginFresh)
	s.Put(Key(DomainHistorical, "AAPL", "30"), 3, time.Minute, OriginFresh)

	seen := map[string]bool{}
	var total int64
	s.Range(func(e Entry) bool {
		seen[e.Key] = true
		total += e.Size
		return true
	})

	if len(seen) != 3 {
		t.Errorf("Range visited %d entries, want 3", len(seen))
	}
	if total != s.TotalSize() {
		t.Errorf("Range size sum %d != TotalSize %d", total, s.TotalSize())
	}

	// Early termination.
	visits := 0
	s.Range(func(Entry) bool {
		visits++
		return false
	})
	if visits != 1 {
		t.Errorf("Range after false = %d visits, want 1", visits)
	}
}

func TestGetBumpsLastAccess(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	key := Key(DomainQuote, "AAPL")
	s.Put(key, 1, time.Minute, OriginFresh)

	now = now.Add(10 * time.Second)
	e, _ := s.Get(key)
	if !e.LastAccess.Equal(now) {
		t.Errorf("LastAccess = %v, want %v", e.LastAccess, now)
	}
	if !e.WrittenAt.Equal(now.Add(-10 * time.Second)) {
		t.Errorf("WrittenAt moved on read: %v", e.WrittenAt)
	}
}

func TestNonPositiveTTLGetsFloor(t *testing.T) {
	s := NewStore()
	e := s.Put(Key(DomainQuote, "AAPL"), 1, 0, OriginFresh)
	if !e.ExpiresAt.After(e.WrittenAt) {
		t.Error("expiresAt must stay strictly after writtenAt even for zero TTL")
	}
}
