// Package market adapts third-party quote APIs into the two lookups the
// valuation engine needs: a live price and a historical close. All transport
// concerns (pacing, retries, circuit breaking) stay inside the adapter;
// callers see typed failures and decide their own fallback.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peerfolio/valuation/internal/dates"
)

// Kind classifies an adapter failure. Callers fall back the same way for
// every kind; the distinction exists for logs and counters.
type Kind int

const (
	// KindNotFound: the symbol is unknown upstream, excluded, or has no
	// close in the searched window.
	KindNotFound Kind = iota
	// KindRateLimited: upstream throttled us and retries did not clear it.
	KindRateLimited
	// KindUnavailable: network failure, timeout, 5xx, or an open breaker.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the adapter's failure type.
type Error struct {
	Kind       Kind
	Symbol     string
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("market %s: %s %s (status %d): %s", e.Provider, e.Kind, e.Symbol, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("market %s: %s %s: %s", e.Provider, e.Kind, e.Symbol, e.Message)
}

func isKind(err error, k Kind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == k
}

// IsNotFound reports a KindNotFound failure.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsRateLimited reports a KindRateLimited failure.
func IsRateLimited(err error) bool { return isKind(err, KindRateLimited) }

// IsUnavailable reports a KindUnavailable failure.
func IsUnavailable(err error) bool { return isKind(err, KindUnavailable) }

// Quote is a live price.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"asOf"`
}

// Close is a historical closing price. Day is the trading day the close
// belongs to, which may be earlier than the requested day when that day had
// no session.
type Close struct {
	Symbol string     `json:"symbol"`
	Day    dates.Date `json:"day"`
	Price  float64    `json:"price"`
}

// Source is the lookup contract the valuation engine consumes.
type Source interface {
	// Current returns the live price for one symbol.
	Current(ctx context.Context, symbol string) (Quote, error)
	// HistoricalClose returns the close for the nearest trading day at or
	// before day, searching at most seven calendar days back.
	HistoricalClose(ctx context.Context, symbol string, day dates.Date) (Close, error)
}
