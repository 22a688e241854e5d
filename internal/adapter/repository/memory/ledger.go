package memory

import (
	"context"
	"sort"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// AccountRepository implements usecase.LedgerAccountRepository.
type AccountRepository struct {
	store *Store
}

// LockForUpdate returns the accounts for keys, creating missing ones. The
// transaction already excludes every other writer.
func (r *AccountRepository) LockForUpdate(_ context.Context, tx usecase.Transaction, keys []domain.AccountKey) ([]*domain.LedgerAccount, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	accounts := make([]*domain.LedgerAccount, 0, len(keys))

	for _, key := range keys {
		a, ok := st.accounts[key]
		if !ok {
			a = domain.LedgerAccount{Key: key}
			st.accounts[key] = a
		}
		accounts = append(accounts, &a)
	}

	return accounts, nil
}

func (r *AccountRepository) Save(_ context.Context, tx usecase.Transaction, account *domain.LedgerAccount) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	st.accounts[account.Key] = *account

	return nil
}

func (r *AccountRepository) Get(_ context.Context, key domain.AccountKey) (*domain.LedgerAccount, error) {
	var (
		a  domain.LedgerAccount
		ok bool
	)

	r.store.view(func(st *state) { a, ok = st.accounts[key] })

	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	return &a, nil
}

func (r *AccountRepository) ListByParty(_ context.Context, party string) ([]*domain.LedgerAccount, error) {
	var accounts []*domain.LedgerAccount

	r.store.view(func(st *state) {
		for key, a := range st.accounts {
			if key.Party == party {
				a := a
				accounts = append(accounts, &a)
			}
		}
	})

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Key.Less(accounts[j].Key) })

	return accounts, nil
}

// EntryRepository implements usecase.EntryRepository. It has no update or
// delete path.
type EntryRepository struct {
	store *Store
}

func (r *EntryRepository) CreateBatch(_ context.Context, tx usecase.Transaction, entries []*domain.LedgerEntry) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	for _, e := range entries {
		stored := *e
		st.entries = append(st.entries, &stored)
	}

	return nil
}

func (r *EntryRepository) ListByParty(_ context.Context, party string, d domain.Denomination, afterVersion int64, limit int) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry

	r.store.view(func(st *state) {
		for _, e := range st.entries {
			if e.Denomination != d || (e.FromParty != party && e.ToParty != party) {
				continue
			}
			if e.VersionFor(party) <= afterVersion {
				continue
			}
			copied := *e
			out = append(out, &copied)
		}
	})

	sort.Slice(out, func(i, j int) bool { return out[i].VersionFor(party) < out[j].VersionFor(party) })

	return page(out, limit, 0), nil
}

func (r *EntryRepository) ListByOrder(_ context.Context, orderID string) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry

	r.store.view(func(st *state) {
		for _, e := range st.entries {
			if e.OrderID != nil && *e.OrderID == orderID {
				copied := *e
				out = append(out, &copied)
			}
		}
	})

	return out, nil
}

func (r *EntryRepository) SumByPartyTx(_ context.Context, tx usecase.Transaction, party string, d domain.Denomination) (int64, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return 0, err
	}

	return sumFor(st.entries, party, d, func(*domain.LedgerEntry) bool { return true }), nil
}

func (r *EntryRepository) SumUpTo(_ context.Context, party string, d domain.Denomination, version int64) (int64, error) {
	var sum int64

	r.store.view(func(st *state) {
		sum = sumFor(st.entries, party, d, func(e *domain.LedgerEntry) bool {
			return e.VersionFor(party) <= version
		})
	})

	return sum, nil
}

func (r *EntryRepository) SumForOrders(_ context.Context, party string, d domain.Denomination, orderIDs []string) (int64, error) {
	var sum int64

	r.store.view(func(st *state) {
		sum = sumForOrders(st, party, d, orderIDs)
	})

	return sum, nil
}

func (r *EntryRepository) SumForOrdersTx(_ context.Context, tx usecase.Transaction, party string, d domain.Denomination, orderIDs []string) (int64, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return 0, err
	}

	return sumForOrders(st, party, d, orderIDs), nil
}

func sumForOrders(st *state, party string, d domain.Denomination, orderIDs []string) int64 {
	wanted := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}

	return sumFor(st.entries, party, d, func(e *domain.LedgerEntry) bool {
		return e.OrderID != nil && wanted[*e.OrderID]
	})
}

func (r *EntryRepository) ListImbalances(_ context.Context) ([]domain.UnbalancedEntrySetError, error) {
	type group struct {
		orderID string
		d       domain.Denomination
	}

	sums := make(map[group]int64)

	r.store.view(func(st *state) {
		for _, e := range st.entries {
			if e.OrderID == nil {
				continue
			}
			sums[group{*e.OrderID, e.Denomination}] += e.ClearingSigned()
		}
	})

	var out []domain.UnbalancedEntrySetError
	for g, sum := range sums {
		if sum != 0 {
			out = append(out, domain.UnbalancedEntrySetError{OrderID: g.orderID, Denomination: g.d, Imbalance: sum})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Denomination < out[j].Denomination
	})

	return out, nil
}

func sumFor(entries []*domain.LedgerEntry, party string, d domain.Denomination, include func(*domain.LedgerEntry) bool) int64 {
	var sum int64
	for _, e := range entries {
		if e.Denomination != d || !include(e) {
			continue
		}
		sum += e.SignedFor(party)
	}
	return sum
}
