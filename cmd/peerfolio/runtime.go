package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/term"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/config"
	"github.com/peerfolio/valuation/internal/leaderboard"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/lots/postgres"
	"github.com/peerfolio/valuation/internal/market"
	"github.com/peerfolio/valuation/internal/telemetry/metrics"
	"github.com/peerfolio/valuation/internal/valuation"
)

// runtime wires the engine once per invocation from the loaded config.
type runtime struct {
	cfg     config.Config
	cache   cache.Store
	source  *market.QuoteAPI
	store   lots.Store
	service *valuation.Service
	board   *leaderboard.Aggregator
	metrics *metrics.Registry
	db      *sqlx.DB
}

// newRuntime builds the full stack. Commands that never touch lots may run
// without a Postgres DSN; everything else fails fast on a missing one.
func newRuntime(needsStore bool) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	setLogLevel(cfg.Log.Level)

	reg := metrics.NewRegistry()

	rt := &runtime{
		cfg:     cfg,
		metrics: reg,
		cache:   buildCache(cfg),
		source: market.NewQuoteAPI(market.Options{
			BaseURL:           cfg.Provider.BaseURL,
			UserAgent:         cfg.Provider.UserAgent,
			Timeout:           cfg.ProviderTimeout(),
			RequestsPerSecond: cfg.Provider.RequestsPerSecond,
			Burst:             cfg.Provider.Burst,
			MaxRetries:        cfg.Provider.MaxRetries,
			BackoffBase:       cfg.ProviderBackoffBase(),
			BackoffMax:        cfg.ProviderBackoffMax(),
			Excluded:          cfg.Provider.ExcludedSymbols,
			Telemetry:         reg,
		}),
	}

	if needsStore {
		if cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres dsn is required (set postgres.dsn or PEERFOLIO_POSTGRES_DSN)")
		}
		db, err := sqlx.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		rt.db = db
		rt.store = postgres.NewStore(db, cfg.PostgresTimeout())
		rt.service = valuation.NewService(rt.store, rt.cache, rt.source, reg)
		rt.board = leaderboard.NewAggregator(rt.store, rt.cache, rt.source, rt.service.Calculator(), reg)
	}

	return rt, nil
}

func (rt *runtime) close() {
	if rt.db != nil {
		rt.db.Close()
	}
	if mem, ok := rt.cache.(*cache.Memory); ok {
		mem.Close()
	}
}

func buildCache(cfg config.Config) cache.Store {
	if cfg.Cache.Backend == "redis" {
		return cache.Auto(cfg.Cache.RedisAddr)
	}
	return cache.NewMemory()
}

// wantJSON reports whether output should be machine-readable: forced by
// --json, or implied by a piped stdout.
func wantJSON() bool {
	return flagJSON || !term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
