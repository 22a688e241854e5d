// Package memory is a process-local storage backend. Every transaction runs
// alone against a private copy of the state that replaces the committed state
// on commit, which gives the same all-or-nothing and row-lock behavior the
// services rely on from Postgres.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

var errForeignTx = errors.New("memory: transaction does not belong to this store")

type state struct {
	accounts map[domain.AccountKey]domain.LedgerAccount
	// entries is append-only; committed elements are never modified.
	entries []*domain.LedgerEntry

	orders     map[string]domain.Order
	orderByRef map[string]string
	listings   map[string]domain.Listing

	licenses       map[string]domain.DigitalLicense
	licenseByOrder map[string]string
	licenseByKey   map[string]string

	disputes       map[string]domain.Dispute
	disputeByOrder map[string]string

	batches   map[string]domain.PayoutBatch
	lines     map[string]domain.PayoutLine
	lineByRef map[string]string
	profiles  map[string]domain.SellerPayoutProfile

	outbox []domain.OutboxEvent
	audit  []domain.AuditLog
}

func newState() *state {
	return &state{
		accounts:       make(map[domain.AccountKey]domain.LedgerAccount),
		orders:         make(map[string]domain.Order),
		orderByRef:     make(map[string]string),
		listings:       make(map[string]domain.Listing),
		licenses:       make(map[string]domain.DigitalLicense),
		licenseByOrder: make(map[string]string),
		licenseByKey:   make(map[string]string),
		disputes:       make(map[string]domain.Dispute),
		disputeByOrder: make(map[string]string),
		batches:        make(map[string]domain.PayoutBatch),
		lines:          make(map[string]domain.PayoutLine),
		lineByRef:      make(map[string]string),
		profiles:       make(map[string]domain.SellerPayoutProfile),
	}
}

// clone copies the maps. Values are stored by value so a shallow copy is
// enough; the entry slice is capped so appends never touch the original.
func (s *state) clone() *state {
	return &state{
		accounts:       cloneMap(s.accounts),
		entries:        s.entries[:len(s.entries):len(s.entries)],
		orders:         cloneMap(s.orders),
		orderByRef:     cloneMap(s.orderByRef),
		listings:       cloneMap(s.listings),
		licenses:       cloneMap(s.licenses),
		licenseByOrder: cloneMap(s.licenseByOrder),
		licenseByKey:   cloneMap(s.licenseByKey),
		disputes:       cloneMap(s.disputes),
		disputeByOrder: cloneMap(s.disputeByOrder),
		batches:        cloneMap(s.batches),
		lines:          cloneMap(s.lines),
		lineByRef:      cloneMap(s.lineByRef),
		profiles:       cloneMap(s.profiles),
		outbox:         s.outbox[:len(s.outbox):len(s.outbox)],
		audit:          s.audit[:len(s.audit):len(s.audit)],
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store holds the committed state and serializes transactions.
type Store struct {
	// sem admits one transaction at a time.
	sem chan struct{}

	mu        sync.RWMutex
	committed *state
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
	}
}

// Repositories returns every repository backed by this store.
func (s *Store) Repositories() usecase.Repositories {
	return usecase.Repositories{
		TxManager: &TxManager{store: s},
		Accounts:  &AccountRepository{store: s},
		Entries:   &EntryRepository{store: s},
		Orders:    &OrderRepository{store: s},
		Listings:  &ListingRepository{store: s},
		Licenses:  &LicenseRepository{store: s},
		Disputes:  &DisputeRepository{store: s},
		Payouts:   &PayoutRepository{store: s},
		Profiles:  &ProfileRepository{store: s},
		Outbox:    &OutboxRepository{store: s},
		Audit:     &AuditRepository{store: s},
	}
}

// TxManager implements usecase.TransactionManager.
type TxManager struct {
	store *Store
}

// Begin waits for the running transaction to finish and starts a new one.
func (m *TxManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	return m.store.begin(ctx)
}

func (s *Store) begin(ctx context.Context) (*Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	working := s.committed.clone()
	s.mu.RUnlock()

	return &Tx{store: s, state: working}, nil
}

// Tx is a memory transaction.
type Tx struct {
	store *Store
	state *state
	done  bool
}

// Commit publishes the working state.
func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("memory: transaction already finished")
	}

	t.store.mu.Lock()
	t.store.committed = t.state
	t.store.mu.Unlock()

	t.finish()

	return nil
}

// Rollback discards the working state. It is a no-op after Commit.
func (t *Tx) Rollback(_ context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *Tx) finish() {
	t.done = true
	t.state = nil
	<-t.store.sem
}

// working returns the state a transactional call operates on.
func (s *Store) working(tx usecase.Transaction) (*state, error) {
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, errForeignTx
	}

	if t.done {
		return nil, errors.New("memory: transaction already finished")
	}

	return t.state, nil
}

// view runs fn against the committed state.
func (s *Store) view(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.committed)
}

// update runs fn in its own transaction.
func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx.state); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
