package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

type pendingOrderExpirer interface {
	ExpirePendingOrders(ctx context.Context) (int, error)
}

type disputeEscalator interface {
	EscalateOverdue(ctx context.Context) (int, error)
}

type payoutRunner interface {
	RunAll(ctx context.Context) ([]*domain.PayoutBatch, error)
	RecoverStaleLines(ctx context.Context) (int, error)
}

type consistencyChecker interface {
	CheckConsistency(ctx context.Context) (*usecase.ConsistencyReport, error)
}

// funcJob adapts a counting use case call to Job.
type funcJob struct {
	name string
	run  func(ctx context.Context) (int, error)
	what string
}

func (j *funcJob) Name() string { return j.name }

func (j *funcJob) Run(ctx context.Context) error {
	n, err := j.run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if n > 0 {
		zerolog.Ctx(ctx).Info().Int(j.what, n).Msg("job changed state")
	}
	return nil
}

// NewOrderTTLJob fails pending orders whose payment never arrived.
func NewOrderTTLJob(orders pendingOrderExpirer) Job {
	return &funcJob{name: "order-ttl", run: orders.ExpirePendingOrders, what: "expired"}
}

// NewDisputeDeadlineJob escalates disputes the seller did not answer in time.
func NewDisputeDeadlineJob(disputes disputeEscalator) Job {
	return &funcJob{name: "dispute-deadline", run: disputes.EscalateOverdue, what: "escalated"}
}

// NewStalePayoutLineJob fails payout lines left in flight by a dead worker.
func NewStalePayoutLineJob(payouts payoutRunner) Job {
	return &funcJob{name: "payout-stale-lines", run: payouts.RecoverStaleLines, what: "recovered"}
}

// NewPayoutBatchJob runs one batch per payout method.
func NewPayoutBatchJob(payouts payoutRunner) Job {
	return &funcJob{
		name: "payout-batches",
		run: func(ctx context.Context) (int, error) {
			batches, err := payouts.RunAll(ctx)
			return len(batches), err
		},
		what: "batches",
	}
}

// NewConsistencyJob checks ledger conservation. Violations are logged by the
// ledger itself; the job fails so the run shows up in job metrics.
func NewConsistencyJob(ledger consistencyChecker) Job {
	return &funcJob{
		name: "ledger-consistency",
		run: func(ctx context.Context) (int, error) {
			report, err := ledger.CheckConsistency(ctx)
			if err != nil {
				return 0, err
			}
			if !report.Consistent {
				return 0, fmt.Errorf("%w: %d orders", domain.ErrUnbalancedEntrySet, len(report.Imbalances))
			}
			return 0, nil
		},
	}
}

// OutboxRetentionJobParams configure the outbox retention job.
type OutboxRetentionJobParams struct {
	Repository usecase.OutboxRepository
	Clock      usecase.Clock
	Retention  time.Duration
}

// NewOutboxRetentionJob deletes published outbox events older than the
// retention window.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	clock := params.Clock
	if clock == nil {
		clock = usecase.SystemClock{}
	}
	return &outboxRetentionJob{repo: params.Repository, clock: clock, retention: params.Retention}, nil
}

type outboxRetentionJob struct {
	repo      usecase.OutboxRepository
	clock     usecase.Clock
	retention time.Duration
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.clock.Now().Add(-j.retention)
	if err := j.repo.DeletePublished(ctx, cutoff); err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Time("cutoff", cutoff).Msg("outbox retention cleanup complete")
	return nil
}
