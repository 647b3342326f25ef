package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// HTTPProvider talks to the metered upstream API over HTTP. A smoothing
// rate limiter spreads requests inside the minute so bursts from the
// scheduler don't trip the vendor's own throttle.
type HTTPProvider struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	config      HTTPConfig
}

// HTTPConfig holds configuration for the HTTP provider.
type HTTPConfig struct {
	BaseURL            string
	APIKey             string
	RateLimitPerMinute int
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// NewHTTPProvider creates an HTTP provider with defaults suitable for a
// free-tier upstream.
func NewHTTPProvider(config HTTPConfig) (*HTTPProvider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 5
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 1000
	}

	return &HTTPProvider{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1),
		config:      config,
	}, nil
}

// FetchQuote fetches a single normalized quote.
func (p *HTTPProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	params := url.Values{"symbol": {symbol}}
	if err := p.getJSON(ctx, symbol, "/quote", params, &q); err != nil {
		return nil, err
	}
	q.Source = "http"
	if err := ValidateQuote(&q); err != nil {
		return nil, NewProviderError(symbol, "invalid quote payload", err)
	}
	return &q, nil
}

// FetchHistory fetches a daily candle series covering the last `days` days.
func (p *HTTPProvider) FetchHistory(ctx context.Context, symbol string, days int) (*Series, error) {
	var s Series
	params := url.Values{"symbol": {symbol}, "days": {strconv.Itoa(days)}}
	if err := p.getJSON(ctx, symbol, "/history", params, &s); err != nil {
		return nil, err
	}
	if len(s.Candles) == 0 {
		return nil, NewBadSymbolError(symbol, "no historical data returned")
	}
	s.Source = "http"
	return &s, nil
}

// FetchIndicator fetches a computed technical indicator series.
func (p *HTTPProvider) FetchIndicator(ctx context.Context, symbol, indicator string) (*IndicatorSeries, error) {
	var s IndicatorSeries
	params := url.Values{"symbol": {symbol}, "name": {indicator}}
	if err := p.getJSON(ctx, symbol, "/indicator", params, &s); err != nil {
		return nil, err
	}
	if len(s.Points) == 0 {
		return nil, NewBadSymbolError(symbol, "no indicator data returned")
	}
	s.Source = "http"
	return &s, nil
}

// SearchSymbols runs a symbol search against the upstream.
func (p *HTTPProvider) SearchSymbols(ctx context.Context, query string) ([]SymbolMatch, error) {
	var out struct {
		Matches []SymbolMatch `json:"matches"`
	}
	params := url.Values{"q": {query}}
	if err := p.getJSON(ctx, query, "/search", params, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// HealthCheck probes the upstream with a lightweight search.
func (p *HTTPProvider) HealthCheck(ctx context.Context) error {
	_, err := p.SearchSymbols(ctx, "A")
	return err
}

// Close performs cleanup. No persistent connections to close.
func (p *HTTPProvider) Close() error { return nil }

// getJSON performs the request with rate smoothing, retries with
// exponential backoff, and rate-limit classification.
func (p *HTTPProvider) getJSON(ctx context.Context, subject, path string, params url.Values, out any) error {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return NewNetworkError(subject, "rate limit wait cancelled", err)
	}

	if p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}
	requestURL := p.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(p.config.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return NewNetworkError(subject, "retry cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return NewNetworkError(subject, "failed to create request", err)
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = NewNetworkError(subject, "request failed", err)
			continue
		}

		func() {
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				// Do not retry locally: the pipeline decides whether to
				// degrade, the scheduler owns the quota.
				lastErr = NewRateLimitError(subject, "upstream rate limit exceeded")
				return
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				lastErr = NewProviderError(subject,
					fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
				return
			}

			var envelope struct {
				Note string `json:"note"`
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				lastErr = NewNetworkError(subject, "failed to read response", err)
				return
			}
			// Some vendors answer 200 with a throttle note instead of 429.
			if json.Unmarshal(raw, &envelope) == nil && envelope.Note != "" {
				lastErr = NewRateLimitError(subject, envelope.Note)
				return
			}
			if err := json.Unmarshal(raw, out); err != nil {
				lastErr = NewProviderError(subject, "failed to parse response", err)
				return
			}
			lastErr = nil
		}()

		if lastErr == nil {
			return nil
		}
		if IsRateLimit(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
