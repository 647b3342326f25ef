package pipeline

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/marketdeck/marketdata/internal/cache"
	"github.com/marketdeck/marketdata/internal/provider"
)

// Synthetic price bounds when no anchor value is available. Documented
// plausible range for an unanchored placeholder quote.
const (
	synthPriceFloor   = 50.0
	synthPriceCeiling = 1000.0
)

// Synthesize generates a shape-preserving placeholder value for the key's
// domain. Pure function of (domain, key, prev, now): the same inputs
// within the same minute produce the same output, so repeated fallbacks
// render stable data. prev, when non-nil, anchors prices within a few
// percent of the last known value.
func Synthesize(domain cache.Domain, key string, prev any, now time.Time) (any, error) {
	rng := rand.New(rand.NewSource(synthSeed(key, now)))
	symbol := cache.SymbolOf(key)
	if symbol == "" {
		symbol = strings.ToUpper(key)
	}

	switch domain {
	case cache.DomainQuote:
		anchor, anchored := anchorPrice(prev, rng)
		return synthQuote(symbol, anchor, anchored, rng, now), nil
	case cache.DomainHistorical:
		anchor, _ := anchorPrice(prev, rng)
		return synthSeries(symbol, anchor, rng, now), nil
	case cache.DomainTechnical:
		anchor, _ := anchorPrice(prev, rng)
		return synthIndicator(key, symbol, anchor, rng, now), nil
	case cache.DomainSearch:
		return synthSearch(symbol), nil
	default:
		return nil, fmt.Errorf("no synthetic generator for domain %q", domain)
	}
}

// synthSeed makes generation deterministic per (key, minute).
func synthSeed(key string, now time.Time) int64 {
	return int64(xxhash.Sum64String(key) ^ uint64(now.Unix()/60))
}

// anchorPrice extracts a last-known price from prev, or draws one from the
// documented plausible range. anchored distinguishes the two so bounds only
// apply to invented prices.
func anchorPrice(prev any, rng *rand.Rand) (price float64, anchored bool) {
	switch v := prev.(type) {
	case *provider.Quote:
		if v != nil && v.Last > 0 {
			return v.Last, true
		}
	case provider.Quote:
		if v.Last > 0 {
			return v.Last, true
		}
	case *provider.Series:
		if v != nil && len(v.Candles) > 0 {
			return v.Candles[len(v.Candles)-1].Close, true
		}
	}
	return synthPriceFloor + rng.Float64()*(synthPriceCeiling-synthPriceFloor), false
}

func synthQuote(symbol string, anchor float64, anchored bool, rng *rand.Rand, now time.Time) *provider.Quote {
	// Walk at most 5% off the anchor; always positive.
	last := anchor * (1 + (rng.Float64()-0.5)*0.10)
	if !anchored {
		// Unanchored placeholders stay inside the documented 50-1000 range.
		last = math.Min(math.Max(last, synthPriceFloor), synthPriceCeiling)
	}
	spread := last * 0.0005
	return &provider.Quote{
		Symbol:    symbol,
		Bid:       round2(last - spread/2),
		Ask:       round2(last + spread/2),
		Last:      round2(last),
		Volume:    int64(100000 + rng.Intn(900000)),
		Timestamp: now,
		Source:    "synth",
	}
}

func synthSeries(symbol string, anchor float64, rng *rand.Rand, now time.Time) *provider.Series {
	const days = 30
	candles := make([]provider.Candle, 0, days)
	// Forward walk starting from the anchor, oldest candle first.
	price := anchor
	for i := days - 1; i >= 0; i-- {
		open := price
		close := price * (1 + rng.NormFloat64()*0.02)
		high := math.Max(open, close) * (1 + rng.Float64()*0.01)
		low := math.Min(open, close) * (1 - rng.Float64()*0.01)
		candles = append(candles, provider.Candle{
			Date:   now.AddDate(0, 0, -i),
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(close),
			Volume: int64(100000 + rng.Intn(900000)),
		})
		price = close
	}
	return &provider.Series{Symbol: symbol, Candles: candles, Source: "synth"}
}

func synthIndicator(key, symbol string, anchor float64, rng *rand.Rand, now time.Time) *provider.IndicatorSeries {
	name := "sma"
	if parts := strings.SplitN(key, ":", 3); len(parts) == 3 && parts[2] != "" {
		name = parts[2]
	}
	const points = 30
	out := make([]provider.IndicatorPoint, 0, points)
	value := anchor
	for i := points - 1; i >= 0; i-- {
		out = append(out, provider.IndicatorPoint{
			Date:  now.AddDate(0, 0, -i),
			Value: round2(value),
		})
		value *= 1 + rng.NormFloat64()*0.005
	}
	return &provider.IndicatorSeries{
		Symbol:    symbol,
		Indicator: name,
		Points:    out,
		Source:    "synth",
	}
}

func synthSearch(symbol string) []provider.SymbolMatch {
	symbol = strings.ToUpper(symbol)
	return []provider.SymbolMatch{{
		Symbol: symbol,
		Name:   symbol + " (offline placeholder)",
		Region: "US",
		Score:  0,
	}}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
