package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateQuote(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		quote   *Quote
		wantErr bool
	}{
		{
			name:  "valid",
			quote: &Quote{Symbol: "AAPL", Bid: 206.75, Ask: 206.85, Last: 206.80, Volume: 1000, Timestamp: now},
		},
		{
			name:  "lowercase symbol normalized",
			quote: &Quote{Symbol: " aapl ", Bid: 206.75, Ask: 206.85, Last: 206.80, Volume: 1000, Timestamp: now},
		},
		{
			name:    "nil quote",
			quote:   nil,
			wantErr: true,
		},
		{
			name:    "empty symbol",
			quote:   &Quote{Bid: 1, Ask: 1, Last: 1, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "zero bid",
			quote:   &Quote{Symbol: "AAPL", Bid: 0, Ask: 206.85, Last: 206.80, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "negative last",
			quote:   &Quote{Symbol: "AAPL", Bid: 206.75, Ask: 206.85, Last: -1, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "crossed spread",
			quote:   &Quote{Symbol: "AAPL", Bid: 206.85, Ask: 206.75, Last: 206.80, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "negative volume",
			quote:   &Quote{Symbol: "AAPL", Bid: 206.75, Ask: 206.85, Last: 206.80, Volume: -5, Timestamp: now},
			wantErr: true,
		},
		{
			name:    "timestamp in the future",
			quote:   &Quote{Symbol: "AAPL", Bid: 206.75, Ask: 206.85, Last: 206.80, Timestamp: now.Add(time.Hour)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuote(tt.quote)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuote() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.quote.Symbol != "AAPL" {
				t.Errorf("symbol not normalized: %q", tt.quote.Symbol)
			}
		})
	}
}

func TestSimFetchQuote(t *testing.T) {
	sim := NewSimProvider()
	ctx := context.Background()

	q, err := sim.FetchQuote(ctx, "aapl")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if err := ValidateQuote(q); err != nil {
		t.Errorf("sim quote failed validation: %v", err)
	}
	if q.Symbol != "AAPL" {
		t.Errorf("Symbol = %q", q.Symbol)
	}
	if q.Source != "sim" {
		t.Errorf("Source = %q", q.Source)
	}
	// Random walk per minute stays near the base price.
	if q.Last < 150 || q.Last > 280 {
		t.Errorf("Last = %v, implausibly far from base 206.80", q.Last)
	}
}

func TestSimFetchQuoteUnknownSymbol(t *testing.T) {
	sim := NewSimProvider()

	_, err := sim.FetchQuote(context.Background(), "UNKNOWN")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("want *FetchError, got %T", err)
	}
	if fe.Kind != "bad_symbol" {
		t.Errorf("Kind = %q, want bad_symbol", fe.Kind)
	}
}

func TestSimFetchQuoteCancelledContext(t *testing.T) {
	sim := NewSimProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sim.FetchQuote(ctx, "AAPL"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSimFetchHistory(t *testing.T) {
	sim := NewSimProvider()

	series, err := sim.FetchHistory(context.Background(), "NVDA", 30)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(series.Candles) != 30 {
		t.Fatalf("got %d candles, want 30", len(series.Candles))
	}
	for i, c := range series.Candles {
		if c.High < c.Low || c.Open <= 0 || c.Close <= 0 {
			t.Errorf("candle %d malformed: %+v", i, c)
		}
		if i > 0 && !series.Candles[i-1].Date.Before(c.Date) {
			t.Errorf("candle %d: dates out of order", i)
		}
	}

	// Non-positive day counts fall back to the default window.
	series, err = sim.FetchHistory(context.Background(), "NVDA", 0)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(series.Candles) != 30 {
		t.Errorf("got %d candles for days=0, want 30", len(series.Candles))
	}
}

func TestSimFetchIndicator(t *testing.T) {
	sim := NewSimProvider()

	ind, err := sim.FetchIndicator(context.Background(), "MSFT", "sma")
	if err != nil {
		t.Fatalf("FetchIndicator: %v", err)
	}
	if ind.Indicator != "sma" {
		t.Errorf("Indicator = %q", ind.Indicator)
	}
	if len(ind.Points) == 0 {
		t.Fatal("no indicator points")
	}
	for i, p := range ind.Points {
		if p.Value <= 0 {
			t.Errorf("point %d: non-positive value %v", i, p.Value)
		}
	}
}

func TestSimSearchSymbols(t *testing.T) {
	sim := NewSimProvider()

	matches, err := sim.SearchSymbols(context.Background(), "apple")
	if err != nil {
		t.Fatalf("SearchSymbols: %v", err)
	}
	if len(matches) == 0 || matches[0].Symbol != "AAPL" {
		t.Fatalf("query apple: got %+v, want AAPL first", matches)
	}

	// Prefix matches on the ticker outrank name matches.
	matches, err = sim.SearchSymbols(context.Background(), "M")
	if err != nil {
		t.Fatalf("SearchSymbols: %v", err)
	}
	if len(matches) == 0 || matches[0].Symbol != "MSFT" {
		t.Fatalf("query M: got %+v, want MSFT first", matches)
	}
	if matches[0].Score != 1.0 {
		t.Errorf("prefix match score = %v, want 1.0", matches[0].Score)
	}
}

func TestSimAddSymbol(t *testing.T) {
	sim := NewSimProvider()
	sim.AddSymbol("zvzz", "Test Listing", 25.00, 0.02, 50000)

	q, err := sim.FetchQuote(context.Background(), "ZVZZ")
	if err != nil {
		t.Fatalf("FetchQuote: %v", err)
	}
	if q.Symbol != "ZVZZ" {
		t.Errorf("Symbol = %q", q.Symbol)
	}
}
