// Package quota guards the metered upstream API with hard per-minute and
// per-day request windows. Admission is all-or-nothing per batch; windows
// replenish on wall-clock timers, never on request activity.
package quota

import (
	"sync"
	"time"

	"github.com/marketdeck/marketdata/internal/observ"
)

// Limits are the externally-configured admission bounds.
type Limits struct {
	PerMinute     int `json:"per_minute"`
	PerDay        int `json:"per_day"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Counter tracks requests issued in the current minute and day windows.
// The single mutex is the one hard mutual-exclusion requirement in the
// engine: a race on admit-and-increment is exactly the quota-overshoot bug
// this exists to prevent.
type Counter struct {
	mu            sync.Mutex
	limits        Limits
	countMinute   int
	countDay      int
	minuteResetAt time.Time
	dayResetAt    time.Time
	onReset       []func()

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Snapshot is the diagnostics view of the counter.
type Snapshot struct {
	RequestsThisMinute int       `json:"requests_this_minute"`
	RequestsToday      int       `json:"requests_today"`
	Limits             Limits    `json:"limits"`
	CanMakeRequest     bool      `json:"can_make_request"`
	MinuteResetAt      time.Time `json:"minute_reset_at"`
	DayResetAt         time.Time `json:"day_reset_at"`
}

// NewCounter creates a counter with sane free-tier defaults for any
// unset limit.
func NewCounter(limits Limits) *Counter {
	if limits.PerMinute <= 0 {
		limits.PerMinute = 5
	}
	if limits.PerDay <= 0 {
		limits.PerDay = 500
	}
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 5
	}
	now := time.Now
	return &Counter{
		limits:        limits,
		minuteResetAt: now().Add(time.Minute),
		dayResetAt:    now().Add(24 * time.Hour),
		now:           now,
		stopCh:        make(chan struct{}),
	}
}

// TryAdmit atomically admits n requests iff both windows have room.
// Refusal has no side effect, so a batch is all-or-nothing.
func (c *Counter) TryAdmit(n int) bool {
	if n <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.countMinute+n > c.limits.PerMinute || c.countDay+n > c.limits.PerDay {
		observ.IncCounter("quota_admission_refused_total", nil)
		c.publishGauges()
		return false
	}
	c.countMinute += n
	c.countDay += n
	observ.IncCounterBy("quota_admitted_total", nil, float64(n))
	c.publishGauges()
	return true
}

// ResetMinute zeroes the minute window and notifies subscribers.
func (c *Counter) ResetMinute() {
	c.mu.Lock()
	c.countMinute = 0
	c.minuteResetAt = c.now().Add(time.Minute)
	subs := append([]func(){}, c.onReset...)
	c.publishGauges()
	c.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// ResetDay zeroes the day window and notifies subscribers.
func (c *Counter) ResetDay() {
	c.mu.Lock()
	c.countDay = 0
	c.dayResetAt = c.now().Add(24 * time.Hour)
	subs := append([]func(){}, c.onReset...)
	c.publishGauges()
	c.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// OnReset registers a callback invoked after every window reset. The
// scheduler uses this to re-trigger its drain loop when capacity frees up.
func (c *Counter) OnReset(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = append(c.onReset, fn)
}

// Start launches the reset timers. They fire even when the engine is idle,
// so a long quiet period still yields a full window at the next boundary.
func (c *Counter) Start() {
	go func() {
		minute := time.NewTicker(time.Minute)
		day := time.NewTicker(24 * time.Hour)
		defer minute.Stop()
		defer day.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-minute.C:
				c.ResetMinute()
			case <-day.C:
				c.ResetDay()
			}
		}
	}()
}

// Stop halts the reset timers. Safe to call more than once.
func (c *Counter) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Limits returns the configured admission bounds.
func (c *Counter) Limits() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// Snapshot returns the current window state for diagnostics.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RequestsThisMinute: c.countMinute,
		RequestsToday:      c.countDay,
		Limits:             c.limits,
		CanMakeRequest:     c.countMinute < c.limits.PerMinute && c.countDay < c.limits.PerDay,
		MinuteResetAt:      c.minuteResetAt,
		DayResetAt:         c.dayResetAt,
	}
}

// publishGauges must be called with c.mu held.
func (c *Counter) publishGauges() {
	can := 0.0
	if c.countMinute < c.limits.PerMinute && c.countDay < c.limits.PerDay {
		can = 1.0
	}
	observ.SetGauge("quota_can_make_request", can, nil)
	observ.SetGauge("quota_requests_this_minute", float64(c.countMinute), nil)
	observ.SetGauge("quota_requests_today", float64(c.countDay), nil)
}
