// Package diag exposes the operational snapshots of the data engine over
// HTTP: quota windows, offline-store composition, metrics, and health.
package diag

import (
	"encoding/json"
	"net/http"

	"github.com/marketdeck/marketdata/internal/observ"
	"github.com/marketdeck/marketdata/internal/priority"
	"github.com/marketdeck/marketdata/internal/quota"
	"github.com/marketdeck/marketdata/internal/scheduler"
)

// Server bundles the diagnostics handlers.
type Server struct {
	counter *quota.Counter
	sched   *scheduler.Scheduler
	store   *priority.Store
}

func New(counter *quota.Counter, sched *scheduler.Scheduler, store *priority.Store) *Server {
	return &Server{counter: counter, sched: sched, store: store}
}

// Register mounts the diagnostics routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/diag/quota", s.handleQuota)
	mux.HandleFunc("/diag/storage", s.handleStorage)
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler())
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	snap := s.counter.Snapshot()
	writeJSON(w, map[string]any{
		"requests_this_minute": snap.RequestsThisMinute,
		"requests_today":       snap.RequestsToday,
		"limits":               snap.Limits,
		"can_make_request":     snap.CanMakeRequest,
		"minute_reset_at":      snap.MinuteResetAt,
		"day_reset_at":         snap.DayResetAt,
		"queue_depth":          s.sched.QueueDepth(),
	})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	writeJSON(w, map[string]any{
		"total_items":       st.TotalItems,
		"total_size":        st.TotalSize,
		"items_by_priority": st.ItemsByPriority,
		"size_by_priority":  st.SizeByPriority,
		"rules":             s.store.ListRules(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
