package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/symbols"
)

const (
	providerName = "quoteapi"

	// historyWindowDays bounds the backward search for a prior trading
	// day. Seven calendar days covers any weekend plus holiday run.
	historyWindowDays = 7

	maxResponseBytes = 1 << 20
)

// Telemetry receives request outcomes for counters. Implementations must be
// safe for concurrent use.
type Telemetry interface {
	RecordProviderRequest(provider, outcome string)
}

// Options configure the quote API client. Zero fields take defaults.
type Options struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	// Excluded symbols short-circuit to a not-found failure without a
	// network call. Used for tickers the upstream is known to mis-serve.
	Excluded  []string
	Telemetry Telemetry
}

// QuoteAPI fetches prices from a Yahoo-chart-style quote endpoint. All
// pacing, retrying and circuit breaking happens here; callers only ever see
// a Quote, a Close, or a typed Error.
type QuoteAPI struct {
	baseURL     string
	userAgent   string
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	excluded    map[string]struct{}
	telemetry   Telemetry
	log         zerolog.Logger
}

// NewQuoteAPI builds a guarded client.
func NewQuoteAPI(opts Options) *QuoteAPI {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://query2.finance.yahoo.com"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 250 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}

	logger := log.With().Str("provider", providerName).Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	excluded := make(map[string]struct{}, len(opts.Excluded))
	for _, s := range opts.Excluded {
		excluded[symbols.Normalize(s)] = struct{}{}
	}

	return &QuoteAPI{
		baseURL:     opts.BaseURL,
		userAgent:   opts.UserAgent,
		client:      &http.Client{Timeout: opts.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		breaker:     breaker,
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		excluded:    excluded,
		telemetry:   opts.Telemetry,
		log:         logger,
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Current implements Source.
func (p *QuoteAPI) Current(ctx context.Context, symbol string) (Quote, error) {
	sym := symbols.Normalize(symbol)
	if p.isExcluded(sym) {
		p.observe(KindNotFound.String())
		return Quote{}, &Error{Kind: KindNotFound, Symbol: sym, Provider: providerName, Message: "symbol excluded"}
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d",
		p.baseURL, url.PathEscape(providerSymbol(sym)))

	var payload chartResponse
	if err := p.fetch(ctx, sym, endpoint, &payload); err != nil {
		p.observeErr(err)
		return Quote{}, err
	}

	if len(payload.Chart.Result) == 0 {
		p.observe(KindNotFound.String())
		return Quote{}, &Error{Kind: KindNotFound, Symbol: sym, Provider: providerName, Message: "empty chart result"}
	}
	meta := payload.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		p.observe(KindNotFound.String())
		return Quote{}, &Error{Kind: KindNotFound, Symbol: sym, Provider: providerName, Message: "no live price"}
	}

	asOf := time.Now().UTC()
	if meta.RegularMarketTime > 0 {
		asOf = time.Unix(meta.RegularMarketTime, 0).UTC()
	}

	p.observe("success")
	p.log.Debug().Str("symbol", sym).Float64("price", meta.RegularMarketPrice).Msg("live quote")
	return Quote{Symbol: sym, Price: meta.RegularMarketPrice, AsOf: asOf}, nil
}

// HistoricalClose implements Source. The request covers the window
// [day-7, day] and the latest non-null close at or before day wins.
func (p *QuoteAPI) HistoricalClose(ctx context.Context, symbol string, day dates.Date) (Close, error) {
	sym := symbols.Normalize(symbol)
	if p.isExcluded(sym) {
		p.observe(KindNotFound.String())
		return Close{}, &Error{Kind: KindNotFound, Symbol: sym, Provider: providerName, Message: "symbol excluded"}
	}

	from := day.Add(-historyWindowDays).Time().Unix()
	until := day.Add(1).Time().Unix()
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d",
		p.baseURL, url.PathEscape(providerSymbol(sym)), from, until)

	var payload chartResponse
	if err := p.fetch(ctx, sym, endpoint, &payload); err != nil {
		p.observeErr(err)
		return Close{}, err
	}

	found, ok := latestCloseAtOrBefore(payload, sym, day)
	if !ok {
		p.observe(KindNotFound.String())
		return Close{}, &Error{Kind: KindNotFound, Symbol: sym, Provider: providerName,
			Message: fmt.Sprintf("no close within %d days of %s", historyWindowDays, day)}
	}

	p.observe("success")
	p.log.Debug().Str("symbol", sym).Stringer("day", found.Day).Float64("close", found.Price).Msg("historical close")
	return found, nil
}

func latestCloseAtOrBefore(payload chartResponse, sym string, day dates.Date) (Close, bool) {
	if len(payload.Chart.Result) == 0 {
		return Close{}, false
	}
	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return Close{}, false
	}
	closes := result.Indicators.Quote[0].Close

	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		d := dates.At(time.Unix(result.Timestamp[i], 0))
		if d.After(day) || day.DaysSince(d) > historyWindowDays {
			continue
		}
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		return Close{Symbol: sym, Day: d, Price: *closes[i]}, true
	}
	return Close{}, false
}

type httpResult struct {
	status int
	body   []byte
}

// fetch runs the guarded request pipeline: limiter, breaker, retry with
// backoff, decode. Not-found answers return immediately; rate-limit and
// availability failures retry up to maxRetries.
func (p *QuoteAPI) fetch(ctx context.Context, sym, endpoint string, dst any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
			Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.backoff(attempt, lastErr)
			p.log.Debug().Str("symbol", sym).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
					Message: fmt.Sprintf("canceled during backoff: %v", ctx.Err())}
			}
		}

		body, err := p.do(ctx, sym, endpoint)
		if err == nil {
			if err := json.Unmarshal(body, dst); err != nil {
				return &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
					Message: fmt.Sprintf("malformed response: %v", err)}
			}
			return nil
		}

		if IsNotFound(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// do performs one HTTP attempt through the circuit breaker. Server errors
// and throttling count as breaker failures; not-found is a valid upstream
// answer and does not.
func (p *QuoteAPI) do(ctx context.Context, sym, endpoint string) ([]byte, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", p.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &Error{Kind: KindRateLimited, Symbol: sym, Provider: providerName,
				StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp.Header), Message: "throttled"}
		case resp.StatusCode >= 500:
			return nil, &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
				StatusCode: resp.StatusCode, Message: "server error"}
		}
		return httpResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		var me *Error
		if errors.As(err, &me) {
			return nil, me
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
				Message: "circuit breaker open"}
		}
		return nil, &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
			Message: fmt.Sprintf("request failed: %v", err)}
	}

	r := res.(httpResult)
	switch {
	case r.status == http.StatusOK:
		return r.body, nil
	case r.status == http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Symbol: sym, Provider: providerName,
			StatusCode: r.status, Message: "symbol unknown upstream"}
	default:
		return nil, &Error{Kind: KindUnavailable, Symbol: sym, Provider: providerName,
			StatusCode: r.status, Message: "unexpected status"}
	}
}

// backoff returns exponential backoff with jitter, honoring an upstream
// Retry-After when it is longer.
func (p *QuoteAPI) backoff(attempt int, lastErr error) time.Duration {
	d := p.backoffBase * time.Duration(1<<uint(attempt-1))
	if d > p.backoffMax {
		d = p.backoffMax
	}
	if half := d / 2; half > 0 {
		jitter := time.Duration(rand.Int63n(int64(half))) - d/4
		d += jitter
	}

	var me *Error
	if errors.As(lastErr, &me) && me.RetryAfter > d {
		d = me.RetryAfter
	}
	return d
}

func retryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (p *QuoteAPI) isExcluded(sym string) bool {
	_, ok := p.excluded[sym]
	return ok
}

func (p *QuoteAPI) observe(outcome string) {
	if p.telemetry != nil {
		p.telemetry.RecordProviderRequest(providerName, outcome)
	}
}

func (p *QuoteAPI) observeErr(err error) {
	var me *Error
	if errors.As(err, &me) {
		p.observe(me.Kind.String())
		return
	}
	p.observe(KindUnavailable.String())
}

// providerSymbol maps engine symbols onto the upstream's naming: crypto
// symbols trade as USD pairs, equities pass through.
func providerSymbol(sym string) string {
	if symbols.IsCrypto(sym) {
		return symbols.Ticker(sym) + "-USD"
	}
	return sym
}

// Health is a point-in-time snapshot for the diagnostics surface.
type Health struct {
	Provider        string `json:"provider"`
	BreakerState    string `json:"breaker_state"`
	Requests        uint32 `json:"requests"`
	TotalFailures   uint32 `json:"total_failures"`
	ConsecFailures  uint32 `json:"consecutive_failures"`
	ExcludedSymbols int    `json:"excluded_symbols"`
}

// Health reports breaker state and rolling counts.
func (p *QuoteAPI) Health() Health {
	counts := p.breaker.Counts()
	return Health{
		Provider:        providerName,
		BreakerState:    p.breaker.State().String(),
		Requests:        counts.Requests,
		TotalFailures:   counts.TotalFailures,
		ConsecFailures:  counts.ConsecutiveFailures,
		ExcludedSymbols: len(p.excluded),
	}
}
