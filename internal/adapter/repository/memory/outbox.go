package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	store *Store
}

func (r *OutboxRepository) Create(_ context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	st.outbox = append(st.outbox, *event)

	return nil
}

func (r *OutboxRepository) GetUnpublished(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var out []*domain.OutboxEvent

	r.store.view(func(st *state) {
		for _, e := range st.outbox {
			if !e.Published {
				e := e
				out = append(out, &e)
			}
		}
	})

	return page(out, limit, 0), nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	return r.store.update(ctx, func(st *state) error {
		st.outbox = slices.Clone(st.outbox)
		for i := range st.outbox {
			if st.outbox[i].ID == id {
				st.outbox[i].Published = true
				st.outbox[i].PublishedAt = &publishedAt
			}
		}
		return nil
	})
}

func (r *OutboxRepository) GetByAggregate(_ context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	var out []*domain.OutboxEvent

	r.store.view(func(st *state) {
		for _, e := range st.outbox {
			if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
				e := e
				out = append(out, &e)
			}
		}
	})

	return page(out, limit, offset), nil
}

func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	return r.store.update(ctx, func(st *state) error {
		kept := make([]domain.OutboxEvent, 0, len(st.outbox))
		for _, e := range st.outbox {
			if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
				continue
			}
			kept = append(kept, e)
		}
		st.outbox = kept
		return nil
	})
}

// AuditRepository implements usecase.AuditRepository.
type AuditRepository struct {
	store *Store
}

func (r *AuditRepository) CreateTx(_ context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	st, err := r.store.working(tx)
	if err != nil {
		return err
	}

	st.audit = append(st.audit, *log)

	return nil
}

func (r *AuditRepository) List(_ context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	var out []*domain.AuditLog

	r.store.view(func(st *state) {
		for _, l := range st.audit {
			if matchesAudit(l, filter) {
				l := l
				out = append(out, &l)
			}
		}
	})

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return page(out, filter.Limit, filter.Offset), nil
}

func matchesAudit(l domain.AuditLog, f domain.AuditFilter) bool {
	switch {
	case f.Actor != "" && l.Actor != f.Actor:
		return false
	case f.Action != "" && l.Action != f.Action:
		return false
	case f.ResourceType != "" && l.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && l.ResourceID != f.ResourceID:
		return false
	case f.StartDate != nil && l.CreatedAt.Before(*f.StartDate):
		return false
	case f.EndDate != nil && l.CreatedAt.After(*f.EndDate):
		return false
	}
	return true
}
