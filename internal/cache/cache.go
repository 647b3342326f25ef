// Package cache is the tiered, TTL-bounded store behind the fetch pipeline.
// It is TTL-agnostic: callers supply domain-specific lifetimes, the store
// just enforces them. Eviction policy lives in the priority store; nothing
// here evicts on read.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/marketdeck/marketdata/internal/observ"
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// Store is a sharded keyed store. Reads and writes are independent per key;
// only the owning shard locks.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*Entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Put stores data under key with the caller-supplied TTL and origin tag.
// Replacement is the only mutation an existing entry ever sees.
func (s *Store) Put(key string, data any, ttl time.Duration, origin Origin) *Entry {
	if ttl <= 0 {
		ttl = time.Second
	}
	now := s.now()
	e := &Entry{
		Key:        key,
		Data:       data,
		WrittenAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		Origin:     origin,
		Size:       sizeOf(data),
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = e
	sh.mu.Unlock()

	observ.IncCounter("cache_set_total", map[string]string{
		"domain": string(DomainOf(key)),
		"origin": string(origin),
	})
	return e
}

// Get returns the entry for key regardless of expiry, enabling the stale
// fallback tier. The second return is false only when no entry exists.
func (s *Store) Get(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		observ.IncCounter("cache_miss_total", map[string]string{"domain": string(DomainOf(key))})
		return Entry{}, false
	}
	e.LastAccess = s.now()

	labels := map[string]string{"domain": string(DomainOf(key))}
	observ.IncCounter("cache_hit_total", labels)
	if e.Expired(s.now()) {
		observ.IncCounter("cache_stale_read_total", labels)
	}
	return *e, true
}

// GetFresh is the strict variant used on the primary lookup path: absent
// if the entry is expired.
func (s *Store) GetFresh(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || e.Expired(s.now()) {
		observ.IncCounter("cache_miss_total", map[string]string{"domain": string(DomainOf(key))})
		return Entry{}, false
	}
	e.LastAccess = s.now()
	observ.IncCounter("cache_hit_total", map[string]string{"domain": string(DomainOf(key))})
	return *e, true
}

// Delete removes key. Returns the removed entry's size for budget
// accounting by the eviction pass.
func (s *Store) Delete(key string) int64 {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return 0
	}
	delete(sh.entries, key)
	return e.Size
}

// Len reports the number of entries across all shards.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// TotalSize reports the summed size estimate of all entries.
func (s *Store) TotalSize() int64 {
	var total int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			total += e.Size
		}
		sh.mu.RUnlock()
	}
	return total
}

// Range calls fn with a copy of every entry until fn returns false.
// Iteration order is unspecified.
func (s *Store) Range(fn func(Entry) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		snapshot := make([]Entry, 0, len(sh.entries))
		for _, e := range sh.entries {
			snapshot = append(snapshot, *e)
		}
		sh.mu.RUnlock()

		for _, e := range snapshot {
			if !fn(e) {
				return
			}
		}
	}
}

// sizeOf estimates an entry's storage footprint via its JSON encoding.
// Close enough for budget-driven eviction; exact heap accounting is not
// the goal.
func sizeOf(data any) int64 {
	b, err := json.Marshal(data)
	if err != nil {
		return 64
	}
	return int64(len(b))
}
