// Package pipeline orchestrates the three-tier degrade that keeps the
// dashboard total under a metered, unreliable upstream: fresh fetch, then
// stale cache, then synthetic data. Callers learn which tier answered via
// the Origin tag and must surface it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marketdeck/marketdata/internal/cache"
	"github.com/marketdeck/marketdata/internal/observ"
	"github.com/marketdeck/marketdata/internal/priority"
	"github.com/marketdeck/marketdata/internal/provider"
	"github.com/marketdeck/marketdata/internal/scheduler"
)

// ErrNoFallback is the pipeline's only hard failure: no cached entry and
// synthesis impossible for the key's domain.
var ErrNoFallback = errors.New("no cached data and no synthetic fallback available")

// syntheticTTL keeps placeholder values short-lived so a recovering
// upstream replaces them quickly.
const syntheticTTL = 30 * time.Second

// Result is what every resolve returns: data plus enough provenance for
// the UI to badge cached or simulated values.
type Result struct {
	Data   any          `json:"data"`
	Origin cache.Origin `json:"origin"`
	Stale  bool         `json:"stale"`
	AsOf   time.Time    `json:"as_of"`
}

// Pipeline wires the tiered cache, the quota-mediated scheduler, and the
// synthetic generator into one resolve path.
type Pipeline struct {
	cache      *cache.Store
	sched      *scheduler.Scheduler
	priorities *priority.Store
	sf         singleflight.Group
	now        func() time.Time
}

// New creates a pipeline. The priority store is consulted only for
// observability; retention derivation stays rule-table-driven by key.
func New(c *cache.Store, s *scheduler.Scheduler, p *priority.Store) *Pipeline {
	return &Pipeline{cache: c, sched: s, priorities: p, now: time.Now}
}

// Resolve returns data for key, degrading fresh -> scheduled fetch ->
// stale cache -> synthetic. It fails only when every tier is unavailable.
// Quota exhaustion is not an error here: the fetch stays queued until the
// caller's ctx gives up, then the fallback chain takes over.
func (p *Pipeline) Resolve(ctx context.Context, key string, fetch scheduler.Task, ttl time.Duration) (Result, error) {
	return p.resolve(ctx, key, fetch, ttl, false)
}

// ForceRefresh bypasses the fresh-cache lookup for user-triggered
// refreshes but still participates in the full fallback chain: an explicit
// refresh must degrade, never throw.
func (p *Pipeline) ForceRefresh(ctx context.Context, key string, fetch scheduler.Task, ttl time.Duration) (Result, error) {
	return p.resolve(ctx, key, fetch, ttl, true)
}

func (p *Pipeline) resolve(ctx context.Context, key string, fetch scheduler.Task, ttl time.Duration, skipFresh bool) (Result, error) {
	observ.IncCounter("pipeline_resolve_total", map[string]string{"domain": string(cache.DomainOf(key))})

	// Tier 1: fresh cache.
	if !skipFresh {
		if e, ok := p.cache.GetFresh(key); ok {
			return Result{Data: e.Data, Origin: cache.OriginCached, AsOf: e.WrittenAt}, nil
		}
	}

	// Tier 2: quota-mediated fetch. Concurrent resolves of the same key
	// collapse into one upstream request.
	data, err, _ := p.sf.Do(key, func() (any, error) {
		return p.sched.Enqueue(ctx, key, fetch).Wait(ctx)
	})
	if err == nil {
		e := p.cache.Put(key, data, ttl, cache.OriginFresh)
		observ.IncCounter("pipeline_fresh_total", map[string]string{"domain": string(cache.DomainOf(key))})
		observ.Log("pipeline_fetch_ok", map[string]any{
			"key":      key,
			"priority": string(p.priorities.PriorityOf(key)),
		})
		return Result{Data: data, Origin: cache.OriginFresh, AsOf: e.WrittenAt}, nil
	}

	reason := "upstream_error"
	if provider.IsRateLimit(err) {
		reason = "rate_limited"
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		reason = "gave_up_waiting"
	}
	observ.IncCounter("pipeline_fetch_failed_total", map[string]string{"reason": reason})
	observ.Log("pipeline_fetch_failed", map[string]any{"key": key, "reason": reason, "error": err.Error()})

	// Tier 3: last cached value, stale allowed.
	if e, ok := p.cache.Get(key); ok {
		observ.IncCounter("pipeline_stale_serve_total", map[string]string{"domain": string(cache.DomainOf(key))})
		return Result{
			Data:   e.Data,
			Origin: cache.OriginCached,
			Stale:  e.Expired(p.now()),
			AsOf:   e.WrittenAt,
		}, nil
	}

	// Tier 4: synthetic placeholder, cached briefly so repeated misses
	// don't regenerate and requeue. Anchor the walk on the symbol's last
	// known quote when one is still around.
	var prev any
	if sym := cache.SymbolOf(key); sym != "" {
		if q, ok := p.cache.Get(cache.Key(cache.DomainQuote, sym)); ok {
			prev = q.Data
		}
	}
	synthetic, serr := Synthesize(cache.DomainOf(key), key, prev, p.now())
	if serr != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", key, ErrNoFallback)
	}
	e := p.cache.Put(key, synthetic, syntheticTTL, cache.OriginSynthetic)
	observ.IncCounter("pipeline_synthetic_serve_total", map[string]string{"domain": string(cache.DomainOf(key))})
	return Result{Data: synthetic, Origin: cache.OriginSynthetic, AsOf: e.WrittenAt}, nil
}
