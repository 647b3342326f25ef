package provider

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// SimProvider serves simulated market data with realistic behavior. Used in
// dev/offline mode and in tests, where the metered upstream is unavailable.
type SimProvider struct {
	baseQuotes map[string]*baseQuote
	random     *rand.Rand
}

type baseQuote struct {
	Symbol     string
	Name       string
	BasePrice  float64
	Volatility float64 // daily volatility as decimal
	Volume     int64
}

// NewSimProvider creates a sim provider with a small built-in universe.
func NewSimProvider() *SimProvider {
	return &SimProvider{
		baseQuotes: map[string]*baseQuote{
			"AAPL":  {Symbol: "AAPL", Name: "Apple Inc", BasePrice: 206.80, Volatility: 0.025, Volume: 15000000},
			"NVDA":  {Symbol: "NVDA", Name: "NVIDIA Corp", BasePrice: 450.00, Volatility: 0.035, Volume: 10000000},
			"MSFT":  {Symbol: "MSFT", Name: "Microsoft Corp", BasePrice: 415.75, Volatility: 0.022, Volume: 12000000},
			"GOOGL": {Symbol: "GOOGL", Name: "Alphabet Inc", BasePrice: 172.50, Volatility: 0.028, Volume: 8000000},
			"BIOX":  {Symbol: "BIOX", Name: "Bioxcel Therapeutics", BasePrice: 12.50, Volatility: 0.055, Volume: 200000},
		},
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FetchQuote generates a quote with random-walk price movement.
func (s *SimProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base, exists := s.baseQuotes[symbol]
	if !exists {
		return nil, NewBadSymbolError(symbol, "symbol not supported by sim provider")
	}

	price := base.BasePrice * (1 + s.priceMovement(base.Volatility))

	// Typical spread 0.01-0.05%, wider for cheap stocks.
	spreadPct := 0.0001 + s.random.Float64()*0.0004
	if base.BasePrice < 50 {
		spreadPct *= 2
	}
	spread := price * spreadPct

	bid := roundToTick(price - spread/2)
	ask := roundToTick(price + spread/2)
	last := roundToTick(price + (s.random.Float64()-0.5)*spread)

	volumeVariation := 0.7 + s.random.Float64()*0.6
	return &Quote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Volume:    int64(float64(base.Volume) * volumeVariation),
		Timestamp: time.Now(),
		Source:    "sim",
	}, nil
}

// FetchHistory generates a daily candle series ending today.
func (s *SimProvider) FetchHistory(ctx context.Context, symbol string, days int) (*Series, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	base, exists := s.baseQuotes[symbol]
	if !exists {
		return nil, NewBadSymbolError(symbol, "symbol not supported by sim provider")
	}
	if days <= 0 {
		days = 30
	}

	candles := make([]Candle, 0, days)
	price := base.BasePrice
	day := time.Now().AddDate(0, 0, -days)
	for i := 0; i < days; i++ {
		move := s.random.NormFloat64() * base.Volatility
		open := price
		close := price * (1 + move)
		high := math.Max(open, close) * (1 + s.random.Float64()*base.Volatility/2)
		low := math.Min(open, close) * (1 - s.random.Float64()*base.Volatility/2)
		candles = append(candles, Candle{
			Date:   day.AddDate(0, 0, i),
			Open:   roundToTick(open),
			High:   roundToTick(high),
			Low:    roundToTick(low),
			Close:  roundToTick(close),
			Volume: int64(float64(base.Volume) * (0.7 + s.random.Float64()*0.6)),
		})
		price = close
	}

	return &Series{Symbol: symbol, Candles: candles, Source: "sim"}, nil
}

// FetchIndicator computes a simple moving average over simulated history.
func (s *SimProvider) FetchIndicator(ctx context.Context, symbol, indicator string) (*IndicatorSeries, error) {
	series, err := s.FetchHistory(ctx, symbol, 60)
	if err != nil {
		return nil, err
	}

	const window = 14
	points := make([]IndicatorPoint, 0, len(series.Candles))
	for i := window; i < len(series.Candles); i++ {
		var sum float64
		for _, c := range series.Candles[i-window : i] {
			sum += c.Close
		}
		points = append(points, IndicatorPoint{
			Date:  series.Candles[i].Date,
			Value: roundToTick(sum / window),
		})
	}

	return &IndicatorSeries{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Indicator: indicator,
		Points:    points,
		Source:    "sim",
	}, nil
}

// SearchSymbols matches the query against the sim universe.
func (s *SimProvider) SearchSymbols(ctx context.Context, query string) ([]SymbolMatch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	query = strings.ToUpper(strings.TrimSpace(query))
	var matches []SymbolMatch
	for sym, base := range s.baseQuotes {
		if strings.Contains(sym, query) || strings.Contains(strings.ToUpper(base.Name), query) {
			score := 0.5
			if strings.HasPrefix(sym, query) {
				score = 1.0
			}
			matches = append(matches, SymbolMatch{
				Symbol: sym,
				Name:   base.Name,
				Region: "US",
				Score:  score,
			})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Symbol < matches[j].Symbol
	})
	return matches, nil
}

// HealthCheck always passes for the sim provider.
func (s *SimProvider) HealthCheck(ctx context.Context) error { return nil }

// Close performs cleanup (no-op for sim).
func (s *SimProvider) Close() error { return nil }

// AddSymbol extends the simulated universe.
func (s *SimProvider) AddSymbol(symbol, name string, basePrice, volatility float64, volume int64) {
	symbol = strings.ToUpper(symbol)
	s.baseQuotes[symbol] = &baseQuote{
		Symbol:     symbol,
		Name:       name,
		BasePrice:  basePrice,
		Volatility: volatility,
		Volume:     volume,
	}
}

// priceMovement converts daily volatility to a per-minute random move.
func (s *SimProvider) priceMovement(dailyVol float64) float64 {
	// 6.5 trading hours = 390 minutes
	minuteVol := dailyVol / math.Sqrt(390)
	return s.random.NormFloat64() * minuteVol
}

func roundToTick(price float64) float64 {
	tick := 0.01
	if price < 1.00 {
		tick = 0.0001
	}
	return math.Round(price/tick) * tick
}
