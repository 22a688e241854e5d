package usecase

import (
	"context"

	"github.com/iho/settlement/internal/domain"
)

// Retrier retries an operation on transient storage failures such as
// serialization conflicts and deadlocks.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

type noRetry struct{}

func (noRetry) Retry(_ context.Context, operation func() error) error {
	return operation()
}

// txRunner runs a unit of work in its own transaction. The work function may
// be invoked more than once when the retrier decides to retry, so it must
// load everything it mutates from tx.
type txRunner struct {
	txManager TransactionManager
	retrier   Retrier
}

func newTxRunner(txManager TransactionManager) txRunner {
	return txRunner{txManager: txManager, retrier: noRetry{}}
}

func (r txRunner) run(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error {
	return r.retrier.Retry(ctx, func() error {
		ctx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
		defer cancel()

		tx, err := r.txManager.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, tx); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// outboxWriter appends domain events inside a transaction.
type outboxWriter struct {
	repo  OutboxRepository
	idGen IDGenerator
	clock Clock
}

func (w outboxWriter) write(ctx context.Context, tx Transaction, aggregateType, aggregateID, eventType string, payload any) error {
	if w.repo == nil {
		return nil
	}

	return w.repo.Create(ctx, tx, &domain.OutboxEvent{
		ID:            w.idGen.Generate(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       domain.ToPayload(payload),
		CreatedAt:     w.clock.Now(),
	})
}

// auditWriter appends audit log rows inside a transaction.
type auditWriter struct {
	repo  AuditRepository
	idGen IDGenerator
	clock Clock
}

func (w auditWriter) write(ctx context.Context, tx Transaction, actor string, action domain.AuditAction, resourceType, resourceID string, before, after any) error {
	if w.repo == nil {
		return nil
	}

	if actor == "" {
		actor = domain.ActorSystem
	}

	return w.repo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           w.idGen.Generate(),
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    RequestIDFromContext(ctx),
		BeforeState:  domain.MarshalState(before),
		AfterState:   domain.MarshalState(after),
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    w.clock.Now(),
	})
}

type requestIDKey struct{}

// ContextWithRequestID attaches the inbound request ID for audit records.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID attached by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
