package cache

import (
	"strings"
	"time"
)

// Origin tags which tier produced an entry's data. Callers must surface it
// so UIs can badge cached or simulated values.
type Origin string

const (
	OriginFresh     Origin = "fresh"
	OriginCached    Origin = "cached"
	OriginSynthetic Origin = "synthetic"
)

// Domain partitions the cache by data kind. Partitioning is by key
// namespace, not separate stores, so one get/put contract covers all four.
type Domain string

const (
	DomainQuote      Domain = "quote"
	DomainTechnical  Domain = "technical"
	DomainHistorical Domain = "historical"
	DomainSearch     Domain = "search"
)

// Key builds a namespaced cache key: "domain:symbol" or
// "domain:symbol:params".
func Key(domain Domain, symbol string, params ...string) string {
	parts := append([]string{string(domain), strings.ToUpper(strings.TrimSpace(symbol))}, params...)
	return strings.Join(parts, ":")
}

// SymbolOf extracts the symbol segment from a namespaced cache key,
// or "" when the key has no symbol segment.
func SymbolOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// DomainOf extracts the domain namespace from a cache key.
func DomainOf(key string) Domain {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return Domain(key[:i])
	}
	return Domain(key)
}

// Entry is one cached value with its lifecycle metadata. Entries are
// replaced whole, never partially updated; an entry past ExpiresAt stays
// readable as a stale fallback until evicted.
type Entry struct {
	Key        string    `json:"key"`
	Data       any       `json:"data"`
	WrittenAt  time.Time `json:"written_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastAccess time.Time `json:"last_access"`
	Origin     Origin    `json:"origin"`
	Size       int64     `json:"size"`
}

// Expired reports whether the entry is past its TTL at t.
func (e *Entry) Expired(t time.Time) bool {
	return !t.Before(e.ExpiresAt)
}
