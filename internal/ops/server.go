// Package ops serves the engine's read-only diagnostics: liveness, the
// prometheus exposition and a JSON status rollup. None of the application's
// user-facing routes live here; the server binds to localhost by default and
// exposes observability only.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerfolio/valuation/internal/market"
	"github.com/peerfolio/valuation/internal/telemetry/metrics"
)

// ProviderHealth is implemented by price adapters that can report breaker
// state and rolling counts.
type ProviderHealth interface {
	Health() market.Health
}

// CacheStats is implemented by cache backends with local counters. The Redis
// backend does not; its traffic shows up in the metrics snapshot instead.
type CacheStats interface {
	Stats() (entries int, hits, misses uint64)
}

// Options configure the diagnostics server.
type Options struct {
	Addr         string
	Version      string
	CacheBackend string
	Metrics      *metrics.Registry
	Provider     ProviderHealth
	Cache        CacheStats
}

// Server is the diagnostics HTTP server.
type Server struct {
	srv     *http.Server
	opts    Options
	started time.Time
	log     zerolog.Logger
}

// NewServer builds the router and server. Run starts it.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8090"
	}

	s := &Server{
		opts: opts,
		log:  log.With().Str("component", "ops").Logger(),
	}

	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.started = time.Now()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("diagnostics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("diagnostics server shutdown: %w", err)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusPayload is the /status response body.
type statusPayload struct {
	Version      string            `json:"version"`
	UptimeSecs   float64           `json:"uptime_secs"`
	CacheBackend string            `json:"cache_backend"`
	Cache        *cacheStatus      `json:"cache,omitempty"`
	Provider     *market.Health    `json:"provider,omitempty"`
	Metrics      *metrics.Snapshot `json:"metrics,omitempty"`
}

type cacheStatus struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := statusPayload{
		Version:      s.opts.Version,
		UptimeSecs:   time.Since(s.started).Seconds(),
		CacheBackend: s.opts.CacheBackend,
	}
	if s.opts.Cache != nil {
		entries, hits, misses := s.opts.Cache.Stats()
		payload.Cache = &cacheStatus{Entries: entries, Hits: hits, Misses: misses}
	}
	if s.opts.Provider != nil {
		h := s.opts.Provider.Health()
		payload.Provider = &h
	}
	if s.opts.Metrics != nil {
		snap := s.opts.Metrics.Snapshot()
		payload.Metrics = &snap
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
