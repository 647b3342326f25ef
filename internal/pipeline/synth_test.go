package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/marketdeck/marketdata/internal/cache"
	"github.com/marketdeck/marketdata/internal/provider"
)

func TestSynthesizeDeterministicWithinMinute(t *testing.T) {
	key := cache.Key(cache.DomainQuote, "AAPL")
	base := time.Date(2026, 3, 2, 14, 30, 5, 0, time.UTC)

	a, err := Synthesize(cache.DomainQuote, key, nil, base)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	b, err := Synthesize(cache.DomainQuote, key, nil, base.Add(40*time.Second))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.(*provider.Quote).Last != b.(*provider.Quote).Last {
		t.Error("same key and minute should generate identical values")
	}

	c, err := Synthesize(cache.DomainQuote, key, nil, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.(*provider.Quote).Last == c.(*provider.Quote).Last {
		t.Error("a different minute should reseed the generator")
	}

	d, err := Synthesize(cache.DomainQuote, cache.Key(cache.DomainQuote, "MSFT"), nil, base)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if a.(*provider.Quote).Last == d.(*provider.Quote).Last {
		t.Error("a different key should reseed the generator")
	}
}

func TestSynthesizeQuoteAnchoredWalk(t *testing.T) {
	prev := &provider.Quote{Symbol: "NVDA", Last: 450.00}
	now := time.Now()

	for minute := 0; minute < 10; minute++ {
		out, err := Synthesize(cache.DomainQuote, "quote:NVDA", prev, now.Add(time.Duration(minute)*time.Minute))
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		q := out.(*provider.Quote)
		if drift := math.Abs(q.Last-prev.Last) / prev.Last; drift > 0.051 {
			t.Errorf("minute %d: anchored quote drifted %.1f%% from %v to %v", minute, drift*100, prev.Last, q.Last)
		}
		if q.Bid <= 0 || q.Ask <= 0 || q.Last <= 0 {
			t.Errorf("minute %d: non-positive price in %+v", minute, q)
		}
		if q.Bid > q.Ask {
			t.Errorf("minute %d: bid %v above ask %v", minute, q.Bid, q.Ask)
		}
	}
}

func TestSynthesizeQuoteUnanchoredRange(t *testing.T) {
	now := time.Now()
	for minute := 0; minute < 20; minute++ {
		out, err := Synthesize(cache.DomainQuote, "quote:ZZZZ", nil, now.Add(time.Duration(minute)*time.Minute))
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		q := out.(*provider.Quote)
		if q.Last < synthPriceFloor || q.Last > synthPriceCeiling {
			t.Errorf("minute %d: unanchored price %v outside [%v, %v]", minute, q.Last, synthPriceFloor, synthPriceCeiling)
		}
	}
}

func TestSynthesizeSeriesShape(t *testing.T) {
	out, err := Synthesize(cache.DomainHistorical, "historical:AAPL:30", &provider.Quote{Last: 206.80}, time.Now())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	s := out.(*provider.Series)
	if s.Symbol != "AAPL" {
		t.Errorf("Symbol = %q", s.Symbol)
	}
	if len(s.Candles) != 30 {
		t.Fatalf("got %d candles, want 30", len(s.Candles))
	}
	for i, candle := range s.Candles {
		if candle.Low <= 0 {
			t.Errorf("candle %d: non-positive low %v", i, candle.Low)
		}
		if candle.High < candle.Low {
			t.Errorf("candle %d: high %v below low %v", i, candle.High, candle.Low)
		}
		if i > 0 && !s.Candles[i-1].Date.Before(candle.Date) {
			t.Errorf("candle %d: dates out of order", i)
		}
	}
}

func TestSynthesizeIndicatorName(t *testing.T) {
	out, err := Synthesize(cache.DomainTechnical, "technical:AAPL:rsi", nil, time.Now())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	ind := out.(*provider.IndicatorSeries)
	if ind.Indicator != "rsi" {
		t.Errorf("Indicator = %q, want rsi", ind.Indicator)
	}
	if len(ind.Points) != 30 {
		t.Errorf("got %d points, want 30", len(ind.Points))
	}

	out, err = Synthesize(cache.DomainTechnical, "technical:AAPL", nil, time.Now())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := out.(*provider.IndicatorSeries).Indicator; got != "sma" {
		t.Errorf("Indicator = %q, want sma default", got)
	}
}

func TestSynthesizeSearchPlaceholder(t *testing.T) {
	out, err := Synthesize(cache.DomainSearch, "search:apple", nil, time.Now())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	matches := out.([]provider.SymbolMatch)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Symbol != "APPLE" {
		t.Errorf("Symbol = %q", matches[0].Symbol)
	}
}

func TestSynthesizeUnknownDomain(t *testing.T) {
	if _, err := Synthesize(cache.Domain("feeds"), "feeds:x", nil, time.Now()); err == nil {
		t.Error("unknown domain must not fabricate data")
	}
}
