package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is the upstream market-data collaborator. The engine treats it as
// opaque: it only needs the returned shapes and a distinguishable
// rate-limit error.
type Provider interface {
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
	FetchHistory(ctx context.Context, symbol string, days int) (*Series, error)
	FetchIndicator(ctx context.Context, symbol, indicator string) (*IndicatorSeries, error)
	SearchSymbols(ctx context.Context, query string) ([]SymbolMatch, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Quote is a normalized snapshot from any provider.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Volume    int64     `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "http"|"sim"|"synth"
}

// Candle is one bar of a historical series.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Series is a historical price series, newest candle last.
type Series struct {
	Symbol  string   `json:"symbol"`
	Candles []Candle `json:"candles"`
	Source  string   `json:"source"`
}

// IndicatorPoint is one value of a technical indicator.
type IndicatorPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// IndicatorSeries holds computed technical-indicator values (SMA, RSI, ...).
type IndicatorSeries struct {
	Symbol    string           `json:"symbol"`
	Indicator string           `json:"indicator"`
	Points    []IndicatorPoint `json:"points"`
	Source    string           `json:"source"`
}

// SymbolMatch is one symbol-search result.
type SymbolMatch struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Region string  `json:"region"`
	Score  float64 `json:"score"`
}

// ValidateQuote performs fail-closed validation on provider output.
func ValidateQuote(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if q.Bid <= 0 || q.Ask <= 0 || q.Last <= 0 {
		return fmt.Errorf("invalid quote prices: bid=%.4f ask=%.4f last=%.4f",
			q.Bid, q.Ask, q.Last)
	}
	if q.Ask < q.Bid {
		return fmt.Errorf("invalid spread: ask(%.4f) < bid(%.4f)", q.Ask, q.Bid)
	}
	if q.Volume < 0 {
		return fmt.Errorf("negative volume: %d", q.Volume)
	}
	if q.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", q.Timestamp)
	}
	return nil
}
