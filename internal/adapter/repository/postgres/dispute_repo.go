package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const disputeColumns = `id, order_id, opened_by, reason, status, priority, refund_amount, resolution_reason,
	response_deadline, created_at, updated_at, resolved_at, closed_at, escalated_at`

// DisputeRepository implements usecase.DisputeRepository.
type DisputeRepository struct {
	db DBTX
}

// NewDisputeRepository creates a new DisputeRepository.
func NewDisputeRepository(db DBTX) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create inserts a dispute; disputes_order_key turns a second dispute for the
// same order into domain.ErrDisputeExists.
func (r *DisputeRepository) Create(ctx context.Context, tx usecase.Transaction, dispute *domain.Dispute) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		dispute.ID, dispute.OrderID, dispute.OpenedBy, dispute.Reason,
		string(dispute.Status), string(dispute.Priority), dispute.RefundAmount, dispute.ResolutionReason,
		dispute.ResponseDeadline, dispute.CreatedAt, dispute.UpdatedAt,
		timestamptz(dispute.ResolvedAt), timestamptz(dispute.ClosedAt), timestamptz(dispute.EscalatedAt),
	)

	return mapError(err, nil)
}

func (r *DisputeRepository) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	return r.get(ctx, r.db, `WHERE id = $1`, id)
}

func (r *DisputeRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Dispute, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	return r.get(ctx, q, `WHERE id = $1 FOR UPDATE`, id)
}

func (r *DisputeRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Dispute, error) {
	return r.get(ctx, r.db, `WHERE order_id = $1`, orderID)
}

func (r *DisputeRepository) get(ctx context.Context, q DBTX, where string, arg any) (*domain.Dispute, error) {
	d, err := scanDispute(q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes `+where, arg))
	if err != nil {
		return nil, mapError(err, domain.ErrDisputeNotFound)
	}

	return d, nil
}

func (r *DisputeRepository) Update(ctx context.Context, tx usecase.Transaction, dispute *domain.Dispute) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE disputes
		SET status = $2, priority = $3, refund_amount = $4, resolution_reason = $5, updated_at = $6,
		    resolved_at = $7, closed_at = $8, escalated_at = $9
		WHERE id = $1`,
		dispute.ID, string(dispute.Status), string(dispute.Priority), dispute.RefundAmount,
		dispute.ResolutionReason, dispute.UpdatedAt,
		timestamptz(dispute.ResolvedAt), timestamptz(dispute.ClosedAt), timestamptz(dispute.EscalatedAt),
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrDisputeNotFound
	}

	return nil
}

// ListOverdue returns active, not yet escalated disputes past their deadline.
func (r *DisputeRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Dispute, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+disputeColumns+`
		FROM disputes
		WHERE status IN ('open', 'in_progress')
		  AND priority <> 'escalated'
		  AND response_deadline <= $1
		ORDER BY response_deadline
		LIMIT $2`,
		now, limitArg(limit),
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Dispute, error) {
		return scanDispute(row)
	})
}

func scanDispute(row pgx.Row) (*domain.Dispute, error) {
	var (
		d                                 domain.Dispute
		status, priority                  string
		resolvedAt, closedAt, escalatedAt pgtype.Timestamptz
	)

	if err := row.Scan(
		&d.ID, &d.OrderID, &d.OpenedBy, &d.Reason, &status, &priority, &d.RefundAmount, &d.ResolutionReason,
		&d.ResponseDeadline, &d.CreatedAt, &d.UpdatedAt, &resolvedAt, &closedAt, &escalatedAt,
	); err != nil {
		return nil, err
	}

	d.Status = domain.DisputeStatus(status)
	d.Priority = domain.DisputePriority(priority)
	d.ResolvedAt = timePtr(resolvedAt)
	d.ClosedAt = timePtr(closedAt)
	d.EscalatedAt = timePtr(escalatedAt)

	return &d, nil
}
