// Package stubs provides a local stand-in for the metered upstream API,
// for development and integration tests. It serves sim-generated data and
// can inject latency, failures, and forced throttling.
package stubs

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marketdeck/marketdata/internal/provider"
)

// APIServer mimics the upstream vendor endpoints.
type APIServer struct {
	sim *provider.SimProvider

	mu           sync.Mutex
	requests     int64
	failureRate  float64 // 0..1 probability of a 500
	latency      time.Duration
	throttleAt   int64 // force 429 once requests exceed this, 0 = never
	throttleNote bool  // answer 200 with a throttle note instead of 429
	random       *rand.Rand
}

// NewAPIServer creates a stub server with no fault injection.
func NewAPIServer() *APIServer {
	return &APIServer{
		sim:    provider.NewSimProvider(),
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetFailureRate injects random 500s with the given probability.
func (s *APIServer) SetFailureRate(rate float64) {
	s.mu.Lock()
	s.failureRate = rate
	s.mu.Unlock()
}

// SetLatency delays every response by d.
func (s *APIServer) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// ThrottleAfter forces rate-limit responses once n requests have been
// served. asNote answers 200 with a throttle payload instead of 429,
// mimicking vendors that never send the status code.
func (s *APIServer) ThrottleAfter(n int64, asNote bool) {
	s.mu.Lock()
	s.throttleAt = n
	s.throttleNote = asNote
	s.mu.Unlock()
}

// Requests reports how many requests the stub has served.
func (s *APIServer) Requests() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Handler returns the stub's route mux.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", s.wrap(s.handleQuote))
	mux.HandleFunc("/history", s.wrap(s.handleHistory))
	mux.HandleFunc("/indicator", s.wrap(s.handleIndicator))
	mux.HandleFunc("/search", s.wrap(s.handleSearch))
	return mux
}

// wrap applies fault injection and request accounting around a handler.
func (s *APIServer) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		n := s.requests
		latency := s.latency
		failureRate := s.failureRate
		throttleAt := s.throttleAt
		throttleNote := s.throttleNote
		roll := s.random.Float64()
		s.mu.Unlock()

		if latency > 0 {
			time.Sleep(latency)
		}

		if throttleAt > 0 && n > throttleAt {
			if throttleNote {
				writeJSON(w, http.StatusOK, map[string]string{
					"note": "API call frequency exceeded, upgrade your plan",
				})
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if failureRate > 0 && roll < failureRate {
			http.Error(w, "simulated upstream failure", http.StatusInternalServerError)
			return
		}

		next(w, r)
	}
}

func (s *APIServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.sim.FetchQuote(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *APIServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	series, err := s.sim.FetchHistory(r.Context(), r.URL.Query().Get("symbol"), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *APIServer) handleIndicator(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	series, err := s.sim.FetchIndicator(r.Context(), q.Get("symbol"), q.Get("name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *APIServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	matches, err := s.sim.SearchSymbols(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("stub: failed to encode response: %v", err)
	}
}
