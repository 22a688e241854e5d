package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// PayoutRepository implements usecase.PayoutRepository.
type PayoutRepository struct {
	store *Store
}

func (r *PayoutRepository) CreateBatch(_ context.Context, tx usecase.Transaction, batch *domain.PayoutBatch) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	for _, b := range st.batches {
		if b.Method == batch.Method && !b.Status.IsTerminal() {
			return domain.ErrBatchInProgress
		}
	}

	stored := *batch
	stored.Lines = nil
	st.batches[batch.ID] = stored

	return nil
}

func (r *PayoutRepository) CreateLine(_ context.Context, tx usecase.Transaction, line *domain.PayoutLine) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.lineByRef[line.TransferReference]; exists {
		return fmt.Errorf("%w: transfer reference %s already used", domain.ErrConflict, line.TransferReference)
	}

	st.lines[line.ID] = *line
	st.lineByRef[line.TransferReference] = line.ID

	return nil
}

func (r *PayoutRepository) GetBatch(_ context.Context, id string) (*domain.PayoutBatch, error) {
	var (
		b  domain.PayoutBatch
		ok bool
	)

	r.store.view(func(st *state) { b, ok = st.batches[id] })

	if !ok {
		return nil, domain.ErrBatchNotFound
	}

	return &b, nil
}

func (r *PayoutRepository) GetBatchForUpdate(_ context.Context, tx usecase.Transaction, id string) (*domain.PayoutBatch, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	b, ok := st.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}

	return &b, nil
}

func (r *PayoutRepository) UpdateBatch(_ context.Context, tx usecase.Transaction, batch *domain.PayoutBatch) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.batches[batch.ID]; !exists {
		return domain.ErrBatchNotFound
	}

	stored := *batch
	stored.Lines = nil
	st.batches[batch.ID] = stored

	return nil
}

func (r *PayoutRepository) ListLines(_ context.Context, batchID string) ([]*domain.PayoutLine, error) {
	var out []*domain.PayoutLine

	r.store.view(func(st *state) { out = linesOf(st, batchID) })

	return out, nil
}

func (r *PayoutRepository) ListLinesTx(_ context.Context, tx usecase.Transaction, batchID string) ([]*domain.PayoutLine, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	return linesOf(st, batchID), nil
}

func linesOf(st *state, batchID string) []*domain.PayoutLine {
	var out []*domain.PayoutLine

	for _, l := range st.lines {
		if l.BatchID == batchID {
			l := l
			out = append(out, &l)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })

	return out
}

func (r *PayoutRepository) GetLineByReferenceForUpdate(_ context.Context, tx usecase.Transaction, ref string) (*domain.PayoutLine, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return nil, err
	}

	id, ok := st.lineByRef[ref]
	if !ok {
		return nil, domain.ErrLineNotFound
	}

	l := st.lines[id]

	return &l, nil
}

func (r *PayoutRepository) UpdateLine(_ context.Context, tx usecase.Transaction, line *domain.PayoutLine) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	if _, exists := st.lines[line.ID]; !exists {
		return domain.ErrLineNotFound
	}

	st.lines[line.ID] = *line

	return nil
}

func (r *PayoutRepository) HasInFlightLine(_ context.Context, tx usecase.Transaction, sellerID string) (bool, error) {
	st, err := r.store.working(tx)
	if err != nil {
		return false, err
	}

	for _, l := range st.lines {
		if l.SellerID == sellerID && (l.Status.IsInFlight() || l.IsUnconfirmed()) {
			return true, nil
		}
	}

	return false, nil
}

func (r *PayoutRepository) ListStaleLines(_ context.Context, updatedBefore time.Time, limit int) ([]*domain.PayoutLine, error) {
	var out []*domain.PayoutLine

	r.store.view(func(st *state) {
		for _, l := range st.lines {
			if l.Status.IsInFlight() && l.UpdatedAt.Before(updatedBefore) {
				l := l
				out = append(out, &l)
			}
		}
	})

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })

	return page(out, limit, 0), nil
}

func (r *PayoutRepository) ListUnconfirmedLines(_ context.Context, method string, limit int) ([]*domain.PayoutLine, error) {
	var out []*domain.PayoutLine

	r.store.view(func(st *state) {
		for _, l := range st.lines {
			if l.IsUnconfirmed() && st.batches[l.BatchID].Method == method {
				l := l
				out = append(out, &l)
			}
		}
	})

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })

	return page(out, limit, 0), nil
}

// ProfileRepository implements usecase.PayoutProfileRepository.
type ProfileRepository struct {
	store *Store
}

func (r *ProfileRepository) Upsert(ctx context.Context, profile *domain.SellerPayoutProfile) error {
	return r.store.update(ctx, func(st *state) error {
		if existing, ok := st.profiles[profile.SellerID]; ok {
			profile.CreatedAt = existing.CreatedAt
		}
		st.profiles[profile.SellerID] = *profile
		return nil
	})
}

func (r *ProfileRepository) GetBySeller(_ context.Context, sellerID string) (*domain.SellerPayoutProfile, error) {
	var (
		p  domain.SellerPayoutProfile
		ok bool
	)

	r.store.view(func(st *state) { p, ok = st.profiles[sellerID] })

	if !ok {
		return nil, domain.ErrProfileNotFound
	}

	return &p, nil
}

func (r *ProfileRepository) ListEnabledByMethod(_ context.Context, method string) ([]*domain.SellerPayoutProfile, error) {
	var out []*domain.SellerPayoutProfile

	r.store.view(func(st *state) {
		for _, p := range st.profiles {
			if p.Enabled && p.Method == method {
				p := p
				out = append(out, &p)
			}
		}
	})

	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })

	return out, nil
}

func (r *ProfileRepository) ListMethods(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)

	r.store.view(func(st *state) {
		for _, p := range st.profiles {
			if p.Enabled {
				seen[p.Method] = true
			}
		}
	})

	methods := make([]string, 0, len(seen))
	for m := range seen {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	return methods, nil
}
