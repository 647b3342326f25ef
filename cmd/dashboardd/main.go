package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/marketdeck/marketdata/internal/cache"
	"github.com/marketdeck/marketdata/internal/config"
	"github.com/marketdeck/marketdata/internal/diag"
	"github.com/marketdeck/marketdata/internal/observ"
	"github.com/marketdeck/marketdata/internal/pipeline"
	"github.com/marketdeck/marketdata/internal/priority"
	"github.com/marketdeck/marketdata/internal/provider"
	"github.com/marketdeck/marketdata/internal/quota"
	"github.com/marketdeck/marketdata/internal/scheduler"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (optional)")
		addr       = flag.String("addr", "", "listen address override")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	prov, err := buildProvider(cfg.Provider)
	if err != nil {
		log.Fatalf("provider: %v", err)
	}
	defer prov.Close()

	counter := quota.NewCounter(quota.Limits{
		PerMinute:     cfg.Quota.PerMinute,
		PerDay:        cfg.Quota.PerDay,
		MaxConcurrent: cfg.Quota.MaxConcurrent,
	})
	counter.Start()
	defer counter.Stop()

	sched := scheduler.New(counter)
	store := cache.NewStore()
	priorities, err := priority.NewStore(store, cfg.PriorityRules)
	if err != nil {
		log.Fatalf("priority rules: %v", err)
	}
	pipe := pipeline.New(store, sched, priorities)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periodic eviction against the configured storage budget.
	go func() {
		ticker := time.NewTicker(cfg.EvictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := priorities.Evict(cfg.Storage.BudgetBytes); err != nil &&
					!errors.Is(err, priority.ErrBudgetUnmet) {
					log.Printf("eviction pass: %v", err)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/data", dataHandler(&cfg, pipe, prov))
	diag.New(counter, sched, priorities).Register(mux)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	observ.Log("dashboardd_started", map[string]any{
		"addr":          cfg.ListenAddr,
		"provider_mode": cfg.Provider.Mode,
		"per_minute":    cfg.Quota.PerMinute,
		"per_day":       cfg.Quota.PerDay,
	})

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
	sched.Wait()
	observ.Log("dashboardd_stopped", nil)
}

func buildProvider(cfg config.Provider) (provider.Provider, error) {
	switch cfg.Mode {
	case "sim":
		return provider.NewSimProvider(), nil
	case "http":
		return provider.NewHTTPProvider(provider.HTTPConfig{
			BaseURL:            cfg.BaseURL,
			APIKey:             cfg.APIKey,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			TimeoutSeconds:     cfg.TimeoutSeconds,
			MaxRetries:         cfg.MaxRetries,
			BackoffBaseMs:      cfg.BackoffBaseMs,
		})
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Mode)
	}
}

// dataHandler serves GET /v1/data?domain=quote&symbol=AAPL[&param=sma][&refresh=1].
// The response always carries origin and as_of so the UI can badge
// cached or simulated data.
func dataHandler(cfg *config.Root, pipe *pipeline.Pipeline, prov provider.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		domain := cache.Domain(q.Get("domain"))
		symbol := q.Get("symbol")
		param := q.Get("param")
		refresh, _ := strconv.ParseBool(q.Get("refresh"))

		key, task, err := buildFetch(domain, symbol, param, prov)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resolve := pipe.Resolve
		if refresh {
			resolve = pipe.ForceRefresh
		}
		result, err := resolve(r.Context(), key, task, cfg.TTLFor(domain))
		if err != nil {
			// Only keys with no cached value and no synthetic shape land here.
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func buildFetch(domain cache.Domain, symbol, param string, prov provider.Provider) (string, scheduler.Task, error) {
	if symbol == "" {
		return "", nil, fmt.Errorf("symbol is required")
	}

	switch domain {
	case cache.DomainQuote:
		return cache.Key(domain, symbol), func(ctx context.Context) (any, error) {
			return prov.FetchQuote(ctx, symbol)
		}, nil
	case cache.DomainHistorical:
		days, _ := strconv.Atoi(param)
		if days <= 0 {
			days = 30
		}
		return cache.Key(domain, symbol, strconv.Itoa(days)), func(ctx context.Context) (any, error) {
			return prov.FetchHistory(ctx, symbol, days)
		}, nil
	case cache.DomainTechnical:
		indicator := param
		if indicator == "" {
			indicator = "sma"
		}
		return cache.Key(domain, symbol, indicator), func(ctx context.Context) (any, error) {
			return prov.FetchIndicator(ctx, symbol, indicator)
		}, nil
	case cache.DomainSearch:
		return cache.Key(domain, symbol), func(ctx context.Context) (any, error) {
			return prov.SearchSymbols(ctx, symbol)
		}, nil
	default:
		return "", nil, fmt.Errorf("unknown domain %q", domain)
	}
}
