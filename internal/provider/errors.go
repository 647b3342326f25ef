package provider

import (
	"errors"
	"fmt"
	"time"
)

// FetchError classifies upstream failures so the pipeline can tell a
// quota/rate signal apart from ordinary turbulence.
type FetchError struct {
	Kind    string // "network", "rate_limit", "provider_error", "bad_symbol", "stale"
	Symbol  string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *FetchError {
	return &FetchError{Kind: "rate_limit", Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *FetchError {
	return &FetchError{Kind: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *FetchError {
	return &FetchError{Kind: "bad_symbol", Symbol: symbol, Message: message}
}

func NewStaleError(symbol string, staleness time.Duration) *FetchError {
	return &FetchError{
		Kind:    "stale",
		Symbol:  symbol,
		Message: fmt.Sprintf("data too stale: %v", staleness),
	}
}

// IsRateLimit reports whether err carries an upstream quota/rate signal
// (HTTP 429 or the provider's throttle payload).
func IsRateLimit(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == "rate_limit"
}
