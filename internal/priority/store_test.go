package priority

import (
	"errors"
	"testing"
	"time"

	"github.com/marketdeck/marketdata/internal/cache"
)

func TestEvictNoOpUnderBudget(t *testing.T) {
	c := cache.NewStore()
	s := newEvictStore(t, c)
	c.Put("quote:AAPL", "payload", time.Minute, cache.OriginFresh)

	report, err := s.Evict(1 << 20)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if report.Evicted != 0 {
		t.Errorf("evicted %d entries under budget", report.Evicted)
	}
	if c.Len() != 1 {
		t.Errorf("entry removed while under budget")
	}
}

// Retention-expired entries go first, most-evictable tier first, before any
// live entry is touched.
func TestEvictRetentionExpiredFirst(t *testing.T) {
	c := cache.NewStore()
	s := newEvictStore(t, c)

	temp := c.Put("search:apple", "temp payload", time.Minute, cache.OriginFresh)
	c.Put("quote:AAPL", "medium payload", time.Minute, cache.OriginFresh)
	c.Put("historical:AAPL:30", "high payload", time.Minute, cache.OriginFresh)

	// Everything bounded is past retention from 40 days out; the budget only
	// requires one eviction, so tier order decides which.
	s.now = func() time.Time { return time.Now().Add(40 * 24 * time.Hour) }
	budget := c.TotalSize() - temp.Size

	report, err := s.Evict(budget)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if report.Evicted != 1 {
		t.Fatalf("evicted %d entries, want 1", report.Evicted)
	}
	if _, ok := c.Get("search:apple"); ok {
		t.Error("TEMPORARY entry should be evicted first")
	}
	if _, ok := c.Get("quote:AAPL"); !ok {
		t.Error("MEDIUM entry evicted before TEMPORARY")
	}
	if _, ok := c.Get("historical:AAPL:30"); !ok {
		t.Error("HIGH entry evicted before TEMPORARY")
	}
}

// With nothing past retention, eviction removes live entries from the
// lowest tier present, least recently accessed first.
func TestEvictLRUWithinLowestTier(t *testing.T) {
	c := cache.NewStore()
	s := newEvictStore(t, c)

	old := c.Put("search:old", "temp payload a", time.Minute, cache.OriginFresh)
	c.Put("search:new", "temp payload b", time.Minute, cache.OriginFresh)
	c.Put("historical:AAPL:30", "high payload", time.Minute, cache.OriginFresh)

	// Touch the newer entry so its LastAccess is strictly later.
	if _, ok := c.Get("search:new"); !ok {
		t.Fatal("setup: search:new missing")
	}

	budget := c.TotalSize() - old.Size
	report, err := s.Evict(budget)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if report.Evicted != 1 {
		t.Fatalf("evicted %d entries, want 1", report.Evicted)
	}
	if _, ok := c.Get("search:old"); ok {
		t.Error("least recently accessed entry should go first")
	}
	if _, ok := c.Get("search:new"); !ok {
		t.Error("recently accessed entry evicted out of order")
	}
	if _, ok := c.Get("historical:AAPL:30"); !ok {
		t.Error("HIGH entry evicted while a lower tier had candidates")
	}
}

func TestEvictNeverTouchesCritical(t *testing.T) {
	c := cache.NewStore()
	s := newEvictStore(t, c)

	c.Put("quote:PORTFOLIO", "critical payload", time.Minute, cache.OriginFresh)
	if err := s.ChangePriority("quote:PORTFOLIO", Critical); err != nil {
		t.Fatalf("ChangePriority: %v", err)
	}
	// Age it far past every retention bound; CRITICAL has none.
	s.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }

	report, err := s.Evict(0)
	if !errors.Is(err, ErrBudgetUnmet) {
		t.Fatalf("err = %v, want ErrBudgetUnmet", err)
	}
	if report.Evicted != 0 {
		t.Errorf("evicted %d CRITICAL entries", report.Evicted)
	}
	if _, ok := c.Get("quote:PORTFOLIO"); !ok {
		t.Error("CRITICAL entry evicted")
	}
	if report.Remaining != c.TotalSize() {
		t.Errorf("Remaining = %d, want %d", report.Remaining, c.TotalSize())
	}
}

func TestEvictReportAccounting(t *testing.T) {
	c := cache.NewStore()
	s := newEvictStore(t, c)

	a := c.Put("search:a", "payload a", time.Minute, cache.OriginFresh)
	b := c.Put("search:b", "payload bb", time.Minute, cache.OriginFresh)

	report, err := s.Evict(0)
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if report.Evicted != 2 {
		t.Errorf("Evicted = %d, want 2", report.Evicted)
	}
	if want := a.Size + b.Size; report.FreedBytes != want {
		t.Errorf("FreedBytes = %d, want %d", report.FreedBytes, want)
	}
	if report.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", report.Remaining)
	}
}

func TestStats(t *testing.T) {
	c := cache.NewStore()
	s := newEvictStore(t, c)

	q := c.Put("quote:AAPL", "payload", time.Minute, cache.OriginFresh)
	c.Put("quote:MSFT", "payload", time.Minute, cache.OriginFresh)
	h := c.Put("historical:AAPL:30", "longer payload", time.Minute, cache.OriginFresh)

	st := s.Stats()
	if st.TotalItems != 3 {
		t.Errorf("TotalItems = %d, want 3", st.TotalItems)
	}
	if want := 2*q.Size + h.Size; st.TotalSize != want {
		t.Errorf("TotalSize = %d, want %d", st.TotalSize, want)
	}
	if st.ItemsByPriority[Medium] != 2 {
		t.Errorf("MEDIUM items = %d, want 2", st.ItemsByPriority[Medium])
	}
	if st.ItemsByPriority[High] != 1 {
		t.Errorf("HIGH items = %d, want 1", st.ItemsByPriority[High])
	}
	if st.SizeByPriority[High] != h.Size {
		t.Errorf("HIGH bytes = %d, want %d", st.SizeByPriority[High], h.Size)
	}
}

func newEvictStore(t *testing.T, c *cache.Store) *Store {
	t.Helper()
	s, err := NewStore(c, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}
