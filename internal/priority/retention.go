// Package priority assigns offline-retention tiers to cache keys via
// ordered pattern rules, and performs budget-driven eviction over the
// tiered cache. CRITICAL data is never auto-evicted.
package priority

import "time"

// Priority is a retention classification controlling how long an entry
// survives eviction pressure.
type Priority string

const (
	Critical  Priority = "critical"
	High      Priority = "high"
	Medium    Priority = "medium"
	Low       Priority = "low"
	Temporary Priority = "temporary"
)

// evictionOrder lists tiers from most to least evictable. CRITICAL is
// deliberately absent.
var evictionOrder = []Priority{Temporary, Low, Medium, High}

// retentionTable maps each tier to its maximum entry age. CRITICAL has no
// bound and is therefore not in the table.
var retentionTable = map[Priority]time.Duration{
	High:      30 * 24 * time.Hour,
	Medium:    7 * 24 * time.Hour,
	Low:       3 * 24 * time.Hour,
	Temporary: 24 * time.Hour,
}

// MaxAge returns the retention bound for p. ok is false for CRITICAL
// (unbounded) and unknown tiers.
func MaxAge(p Priority) (time.Duration, bool) {
	d, ok := retentionTable[p]
	return d, ok
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	switch p {
	case Critical, High, Medium, Low, Temporary:
		return true
	}
	return false
}
