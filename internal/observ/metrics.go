package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	k := canonLabels(labels)
	m[k] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	k := canonLabels(labels)
	m[k] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordHistogram records a histogram observation
func RecordHistogram(name string, value float64, labels map[string]string) {
	Observe(name, value, labels)
}

// RecordGauge records a gauge value
func RecordGauge(name string, value float64, labels map[string]string) {
	SetGauge(name, value, labels)
}

// RecordDuration records a duration metric
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Basic text/JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the payload served by HealthHandler.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics holds the key data-engine indicators.
type HealthMetrics struct {
	CacheHitRate       float64 `json:"cache_hit_rate"`
	StaleServeRate     float64 `json:"stale_serve_rate"`     // share of resolves served stale
	SyntheticServeRate float64 `json:"synthetic_serve_rate"` // share of resolves served synthetic
	QuotaCanRequest    bool    `json:"quota_can_request"`
	QueueDepth         int64   `json:"queue_depth"`
}

var (
	startTime = time.Now()
	version   = "dev" // set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

func counterTotal(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func gaugeValue(name string) float64 {
	for _, v := range reg.gauges[name] {
		return v
	}
	return 0
}

// HealthHandler reports engine health derived from the telemetry the
// pipeline, scheduler, and quota counter emit. Degraded means the engine is
// still answering but leaning on stale or synthetic tiers.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()

		hits := counterTotal("cache_hit_total")
		misses := counterTotal("cache_miss_total")
		resolves := counterTotal("pipeline_resolve_total")
		stale := counterTotal("pipeline_stale_serve_total")
		synth := counterTotal("pipeline_synthetic_serve_total")

		m := HealthMetrics{
			QuotaCanRequest: gaugeValue("quota_can_make_request") > 0.5,
			QueueDepth:      int64(gaugeValue("scheduler_queue_depth")),
		}
		if hits+misses > 0 {
			m.CacheHitRate = float64(hits) / float64(hits+misses)
		}
		if resolves > 0 {
			m.StaleServeRate = float64(stale) / float64(resolves)
			m.SyntheticServeRate = float64(synth) / float64(resolves)
		}
		reg.mu.Unlock()

		status := "healthy"
		// Degraded: a meaningful share of answers is non-live data, or
		// fetches are queueing behind an exhausted quota.
		if m.SyntheticServeRate > 0.25 || (!m.QuotaCanRequest && m.QueueDepth > 0) {
			status = "degraded"
		}

		health := HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   m,
		}

		code := http.StatusOK
		if status == "degraded" {
			code = http.StatusPartialContent
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health)
	})
}
