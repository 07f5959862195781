package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/market"
	"github.com/peerfolio/valuation/internal/symbols"
	"github.com/peerfolio/valuation/internal/telemetry/metrics"
)

// Service is the engine's downstream surface: portfolio valuation,
// performance series and user cache invalidation, bound to a lot store.
type Service struct {
	store   lots.Store
	cache   cache.Store
	calc    *Calculator
	series  *SeriesBuilder
	metrics *metrics.Registry
	log     zerolog.Logger
}

// NewService wires the full engine. The metrics registry may be nil.
func NewService(store lots.Store, cacheStore cache.Store, source market.Source, reg *metrics.Registry) *Service {
	calc := NewCalculator(cacheStore, source, reg)
	return &Service{
		store:   store,
		cache:   cacheStore,
		calc:    calc,
		series:  NewSeriesBuilder(cacheStore, calc),
		metrics: reg,
		log:     log.With().Str("component", "valuation_service").Logger(),
	}
}

// Calculator exposes the underlying calculator for callers that already
// hold a lot list.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

// GetPortfolioValue values the user's holdings as of the given day.
func (s *Service) GetPortfolioValue(ctx context.Context, userID uuid.UUID, on dates.Date, forceRefresh bool) (ValuationResult, error) {
	if s.metrics != nil {
		timer := s.metrics.StartTimer("valuation")
		defer timer.Stop()
	}

	ls, err := s.store.ListLots(ctx, userID)
	if err != nil {
		return ValuationResult{}, fmt.Errorf("list lots for %s: %w", userID, err)
	}
	return s.calc.PortfolioValue(ctx, ls, on, forceRefresh)
}

// GetPerformanceSeries returns the user's chart series for the lookback
// window.
func (s *Service) GetPerformanceSeries(ctx context.Context, userID uuid.UUID, lookbackDays int, forceRefresh, refreshToday bool) (PerformanceSeries, error) {
	if s.metrics != nil {
		timer := s.metrics.StartTimer("series")
		defer timer.Stop()
	}

	ls, err := s.store.ListLots(ctx, userID)
	if err != nil {
		return PerformanceSeries{}, fmt.Errorf("list lots for %s: %w", userID, err)
	}
	return s.series.Build(ctx, userID, ls, lookbackDays, forceRefresh, refreshToday)
}

// InvalidateUserCaches drops every cached series of the user and the
// valuation sheets for the user's current symbol set. Lot mutations must
// call this so the next read rebuilds from the changed holdings.
func (s *Service) InvalidateUserCaches(ctx context.Context, userID uuid.UUID) error {
	removedSeries, err := s.cache.DeleteMatching(ctx, cache.UserSeriesPattern(userID))
	if err != nil {
		return fmt.Errorf("invalidate series for %s: %w", userID, err)
	}

	// The symbol set is read after the mutation, so entries keyed by a
	// previous set can linger until their TTL. Sheets hold per-symbol
	// prices, never user totals, so a lingering entry is stale, not wrong.
	removedValuations := 0
	ls, err := s.store.ListLots(ctx, userID)
	if err != nil {
		return fmt.Errorf("list lots for %s: %w", userID, err)
	}
	if setKey := symbols.SetKey(lots.Symbols(ls)); setKey != "" {
		removedValuations, err = s.cache.DeleteMatching(ctx, cache.ValuationSetPattern(setKey))
		if err != nil {
			return fmt.Errorf("invalidate valuations for %s: %w", userID, err)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordInvalidation()
	}
	s.log.Info().
		Str("user", userID.String()).
		Int("series_removed", removedSeries).
		Int("valuations_removed", removedValuations).
		Msg("user caches invalidated")
	return nil
}

// withNow pins the engine clock, for tests.
func (s *Service) withNow(now func() time.Time) *Service {
	s.calc.now = now
	s.series.now = now
	return s
}
