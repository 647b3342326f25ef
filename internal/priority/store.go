package priority

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marketdeck/marketdata/internal/cache"
	"github.com/marketdeck/marketdata/internal/observ"
)

// ErrBudgetUnmet reports that eviction could not reach the storage budget
// without touching CRITICAL entries. A warning condition, never data loss.
var ErrBudgetUnmet = errors.New("eviction budget unmet: no evictable candidates")

// Store derives retention priorities for cache keys and performs
// budget-driven eviction over the tiered cache. Priorities are re-derived
// from the rule list on every lookup, so rule edits apply retroactively.
type Store struct {
	mu        sync.RWMutex
	rules     []Rule
	overrides map[string]Priority // per-key manual exceptions

	cache *cache.Store
	now   func() time.Time
}

// Stats is the diagnostics snapshot of the offline store.
type Stats struct {
	TotalItems      int                `json:"total_items"`
	TotalSize       int64              `json:"total_size"`
	ItemsByPriority map[Priority]int   `json:"items_by_priority"`
	SizeByPriority  map[Priority]int64 `json:"size_by_priority"`
}

// EvictReport summarizes one eviction pass.
type EvictReport struct {
	Evicted    int   `json:"evicted"`
	FreedBytes int64 `json:"freed_bytes"`
	Remaining  int64 `json:"remaining_bytes"`
}

// NewStore creates a priority store over c. An empty rule list gets the
// defaults. Invalid rules are rejected.
func NewStore(c *cache.Store, rules []Rule) (*Store, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled := make([]Rule, len(rules))
	copy(compiled, rules)
	for i := range compiled {
		if err := compiled[i].compile(); err != nil {
			return nil, err
		}
	}
	return &Store{
		rules:     compiled,
		overrides: make(map[string]Priority),
		cache:     c,
		now:       time.Now,
	}, nil
}

// PriorityOf evaluates rules in list order; the first enabled match wins.
// Manual per-key overrides take precedence; unmatched keys are MEDIUM.
func (s *Store) PriorityOf(key string) Priority {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.overrides[key]; ok {
		return p
	}
	for i := range s.rules {
		if s.rules[i].matches(key) {
			return s.rules[i].Priority
		}
	}
	return Medium
}

// ChangePriority sets a manual override for a single key, independent of
// rule evaluation. Stored as an exception, not a rule mutation.
func (s *Store) ChangePriority(key string, p Priority) error {
	if !p.Valid() {
		return fmt.Errorf("unknown priority %q", p)
	}
	s.mu.Lock()
	s.overrides[key] = p
	s.mu.Unlock()
	return nil
}

// ClearOverride removes a manual override, returning the key to rule
// evaluation.
func (s *Store) ClearOverride(key string) {
	s.mu.Lock()
	delete(s.overrides, key)
	s.mu.Unlock()
}

// AddRule appends a rule to the end of the list.
func (s *Store) AddRule(r Rule) (Rule, error) {
	if err := r.compile(); err != nil {
		return Rule{}, err
	}
	s.mu.Lock()
	s.rules = append(s.rules, r)
	s.mu.Unlock()
	return r, nil
}

// UpdateRule replaces the rule with the same ID, keeping its position.
func (s *Store) UpdateRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if err := r.compile(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == r.ID {
			s.rules[i] = r
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", r.ID)
}

// DeleteRule removes the rule with the given ID.
func (s *Store) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %s not found", id)
}

// ListRules returns the rules in evaluation order.
func (s *Store) ListRules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// ResetToDefaults restores the default rule list and drops it on the floor
// if a default fails to compile (it cannot; defaults are static).
func (s *Store) ResetToDefaults() {
	rules := DefaultRules()
	for i := range rules {
		_ = rules[i].compile()
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// Evict brings total cache size under budget. Pass one removes entries
// whose age exceeds their tier's retention bound, most-evictable tier
// first. Pass two, if still over budget, removes live entries from the
// lowest non-critical tier present in least-recently-accessed order.
// CRITICAL entries are never touched; if only CRITICAL remains over
// budget, ErrBudgetUnmet is returned.
func (s *Store) Evict(budget int64) (EvictReport, error) {
	var report EvictReport
	now := s.now()

	total := s.cache.TotalSize()
	if total <= budget {
		report.Remaining = total
		return report, nil
	}

	// Bucket one snapshot by derived tier.
	byTier := make(map[Priority][]cache.Entry)
	s.cache.Range(func(e cache.Entry) bool {
		byTier[s.PriorityOf(e.Key)] = append(byTier[s.PriorityOf(e.Key)], e)
		return true
	})

	evict := func(e cache.Entry) {
		freed := s.cache.Delete(e.Key)
		total -= freed
		report.Evicted++
		report.FreedBytes += freed
	}

	// Pass 1: retention-expired entries, TEMPORARY -> HIGH.
	for _, tier := range evictionOrder {
		maxAge, bounded := MaxAge(tier)
		if !bounded {
			continue
		}
		deadline := now.Add(-maxAge)
		remaining := byTier[tier][:0]
		for _, e := range byTier[tier] {
			if total <= budget {
				break
			}
			if e.WrittenAt.Before(deadline) {
				evict(e)
				continue
			}
			remaining = append(remaining, e)
		}
		if total <= budget {
			break
		}
		byTier[tier] = remaining
	}

	// Pass 2: live entries, lowest tier first, LRU within the tier.
	for _, tier := range evictionOrder {
		if total <= budget {
			break
		}
		entries := byTier[tier]
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].LastAccess.Before(entries[j].LastAccess)
		})
		for _, e := range entries {
			if total <= budget {
				break
			}
			evict(e)
		}
	}

	report.Remaining = total
	s.publishStats()

	if total > budget {
		observ.Warn("eviction_budget_unmet", map[string]any{
			"budget_bytes":    budget,
			"remaining_bytes": total,
			"evicted":         report.Evicted,
		})
		return report, ErrBudgetUnmet
	}

	observ.Log("eviction_pass", map[string]any{
		"budget_bytes": budget,
		"evicted":      report.Evicted,
		"freed_bytes":  report.FreedBytes,
	})
	return report, nil
}

// Stats snapshots item and size counts per derived priority tier.
func (s *Store) Stats() Stats {
	st := Stats{
		ItemsByPriority: make(map[Priority]int),
		SizeByPriority:  make(map[Priority]int64),
	}
	s.cache.Range(func(e cache.Entry) bool {
		p := s.PriorityOf(e.Key)
		st.TotalItems++
		st.TotalSize += e.Size
		st.ItemsByPriority[p]++
		st.SizeByPriority[p] += e.Size
		return true
	})
	return st
}

func (s *Store) publishStats() {
	st := s.Stats()
	observ.SetGauge("offline_store_items", float64(st.TotalItems), nil)
	observ.SetGauge("offline_store_bytes", float64(st.TotalSize), nil)
}
