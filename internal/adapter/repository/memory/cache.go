package memory

import (
	"context"
	"sync"
	"time"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// BalanceCache implements usecase.BalanceCache in process memory.
type BalanceCache struct {
	mu     sync.Mutex
	values map[domain.AccountKey]usecase.CachedBalance
}

// NewBalanceCache creates an empty cache.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{values: make(map[domain.AccountKey]usecase.CachedBalance)}
}

func (c *BalanceCache) Get(_ context.Context, key domain.AccountKey) (usecase.CachedBalance, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.values[key]

	return v, ok, nil
}

// Set never moves a cached value backwards.
func (c *BalanceCache) Set(_ context.Context, key domain.AccountKey, value usecase.CachedBalance) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.values[key]; ok && current.Offset > value.Offset {
		return nil
	}

	c.values[key] = value

	return nil
}

func (c *BalanceCache) Delete(_ context.Context, keys ...domain.AccountKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.values, k)
	}

	return nil
}

// Locker implements usecase.Locker for a single process.
type Locker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock usecase.Clock
}

// NewLocker creates a Locker using clock for expiry.
func NewLocker(clock usecase.Clock) *Locker {
	return &Locker{held: make(map[string]time.Time), clock: clock}
}

func (l *Locker) Acquire(_ context.Context, name string, ttl time.Duration) (usecase.Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if expires, ok := l.held[name]; ok && now.Before(expires) {
		return nil, false, nil
	}

	expires := now.Add(ttl)
	l.held[name] = expires

	return &memoryLock{locker: l, name: name, expires: expires}, true, nil
}

type memoryLock struct {
	locker  *Locker
	name    string
	expires time.Time
}

// Release frees the lock unless it expired and was taken by someone else.
func (m *memoryLock) Release(_ context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if current, ok := m.locker.held[m.name]; ok && current.Equal(m.expires) {
		delete(m.locker.held, m.name)
	}

	return nil
}

// NotificationGuard implements usecase.NotificationGuard in memory.
type NotificationGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewNotificationGuard creates an empty guard.
func NewNotificationGuard() *NotificationGuard {
	return &NotificationGuard{seen: make(map[string]struct{})}
}

func (g *NotificationGuard) CheckAndMark(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[id]; ok {
		return true, nil
	}

	g.seen[id] = struct{}{}

	return false, nil
}

func (g *NotificationGuard) Forget(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.seen, id)

	return nil
}

// IdempotencyStore implements usecase.IdempotencyStore in memory.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	clock   usecase.Clock
}

type idempotencyEntry struct {
	response []byte
	expires  time.Time
}

// NewIdempotencyStore creates an empty store using clock for expiry.
func NewIdempotencyStore(clock usecase.Clock) *IdempotencyStore {
	return &IdempotencyStore{entries: make(map[string]idempotencyEntry), clock: clock}
}

func (s *IdempotencyStore) CheckAndSet(_ context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return true, e.response, nil
	}

	if response == nil {
		response = []byte("processing")
	}
	s.entries[key] = idempotencyEntry{response: response, expires: now.Add(ttl)}

	return false, nil, nil
}

func (s *IdempotencyStore) Update(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = idempotencyEntry{response: response, expires: s.clock.Now().Add(ttl)}

	return nil
}
