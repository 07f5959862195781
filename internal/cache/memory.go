package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

const janitorInterval = time.Minute

type entry struct {
	val []byte
	exp time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && now.After(e.exp)
}

// Memory is the in-process Store. Expiry is enforced on read, with a janitor
// goroutine sweeping expired entries so an idle key set does not pin memory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	hits    uint64
	misses  uint64
	stop    chan struct{}
	once    sync.Once
}

// NewMemory returns a running in-process store. Call Close to stop the
// janitor when the store is no longer needed.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || e.expired(time.Now()) {
		m.misses++
		return nil, false, nil
	}
	m.hits++
	return e.val, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteMatching(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return removed, err
		}
		if ok {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Stats reports entry count and hit/miss totals since start.
func (m *Memory) Stats() (entries int, hits, misses uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), m.hits, m.misses
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Memory) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}
