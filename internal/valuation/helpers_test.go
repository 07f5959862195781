package valuation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peerfolio/valuation/internal/cache"
	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/market"
)

// stubSource scripts provider answers per symbol and day and counts calls.
type stubSource struct {
	mu           sync.Mutex
	closes       map[string]float64 // "AAPL@2024-02-01" -> close
	quotes       map[string]float64 // "AAPL" -> live price
	errs         map[string]error   // symbol -> forced failure
	histCalls    int
	currentCalls int
}

func newStubSource() *stubSource {
	return &stubSource{
		closes: map[string]float64{},
		quotes: map[string]float64{},
		errs:   map[string]error{},
	}
}

func (s *stubSource) setClose(sym string, day dates.Date, price float64) {
	s.closes[sym+"@"+day.String()] = price
}

func (s *stubSource) failWith(sym string, kind market.Kind) {
	s.errs[sym] = &market.Error{Kind: kind, Symbol: sym, Provider: "stub", Message: "scripted failure"}
}

func (s *stubSource) HistoricalClose(_ context.Context, sym string, day dates.Date) (market.Close, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histCalls++
	if err, ok := s.errs[sym]; ok {
		return market.Close{}, err
	}
	if p, ok := s.closes[sym+"@"+day.String()]; ok {
		return market.Close{Symbol: sym, Day: day, Price: p}, nil
	}
	return market.Close{}, &market.Error{Kind: market.KindNotFound, Symbol: sym, Provider: "stub", Message: "no close"}
}

func (s *stubSource) Current(_ context.Context, sym string) (market.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCalls++
	if err, ok := s.errs[sym]; ok {
		return market.Quote{}, err
	}
	if p, ok := s.quotes[sym]; ok {
		return market.Quote{Symbol: sym, Price: p, AsOf: time.Now()}, nil
	}
	return market.Quote{}, &market.Error{Kind: market.KindNotFound, Symbol: sym, Provider: "stub", Message: "no quote"}
}

func (s *stubSource) histCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histCalls
}

// recordingStore wraps a Store and remembers the TTL and count of every Set.
type recordingStore struct {
	cache.Store
	mu     sync.Mutex
	ttls   map[string]time.Duration
	counts map[string]int
}

func newRecordingStore(inner cache.Store) *recordingStore {
	return &recordingStore{Store: inner, ttls: map[string]time.Duration{}, counts: map[string]int{}}
}

func (r *recordingStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	r.mu.Lock()
	r.ttls[key] = ttl
	r.counts[key]++
	r.mu.Unlock()
	return r.Store.Set(ctx, key, val, ttl)
}

func (r *recordingStore) ttlOf(key string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ttl, ok := r.ttls[key]
	return ttl, ok
}

func (r *recordingStore) setCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

// downStore fails every operation, as a dead Redis would.
type downStore struct{}

func (downStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

func (downStore) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

func (downStore) Delete(context.Context, string) error {
	return fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

func (downStore) DeleteMatching(context.Context, string) (int, error) {
	return 0, fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
}

// stubLotStore serves scripted holdings.
type stubLotStore struct {
	mu      sync.Mutex
	byUser  map[uuid.UUID][]lots.Lot
	listErr error
}

func newStubLotStore() *stubLotStore {
	return &stubLotStore{byUser: map[uuid.UUID][]lots.Lot{}}
}

func (s *stubLotStore) ListLots(_ context.Context, userID uuid.UUID) ([]lots.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.byUser[userID], nil
}

func (s *stubLotStore) AddLot(_ context.Context, userID uuid.UUID, buy lots.NewLot) (lots.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := lots.Lot{
		ID:            uuid.New(),
		Symbol:        buy.Symbol,
		Quantity:      buy.Quantity,
		PurchasePrice: buy.PurchasePrice,
		PurchaseDate:  buy.PurchaseDate,
	}
	s.byUser[userID] = append(s.byUser[userID], l)
	return l, nil
}

func (s *stubLotStore) UpdateLot(context.Context, uuid.UUID, uuid.UUID, float64, decimal.Decimal) (lots.Lot, error) {
	return lots.Lot{}, lots.ErrLotNotFound
}

func (s *stubLotStore) DeleteLot(context.Context, uuid.UUID, uuid.UUID) error {
	return lots.ErrLotNotFound
}

func (s *stubLotStore) ListUserIDs(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.byUser))
	for id := range s.byUser {
		ids = append(ids, id)
	}
	return ids, nil
}

func memStore(t *testing.T) *cache.Memory {
	t.Helper()
	m := cache.NewMemory()
	t.Cleanup(m.Close)
	return m
}

func day(s string) dates.Date {
	d, err := dates.Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// clockAt pins the engine clock to noon UTC of the given day.
func clockAt(s string) func() time.Time {
	d := day(s)
	return func() time.Time { return d.Time().Add(12 * time.Hour) }
}

func aaplLot(qty float64, price string, purchased string) lots.Lot {
	return lots.Lot{
		ID:            uuid.New(),
		Symbol:        "AAPL",
		Quantity:      qty,
		PurchasePrice: decimal.RequireFromString(price),
		PurchaseDate:  day(purchased),
	}
}

func lotOf(sym string, qty float64, price string, purchased string) lots.Lot {
	return lots.Lot{
		ID:            uuid.New(),
		Symbol:        sym,
		Quantity:      qty,
		PurchasePrice: decimal.RequireFromString(price),
		PurchaseDate:  day(purchased),
	}
}
