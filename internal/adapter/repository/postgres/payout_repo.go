package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const (
	batchColumns = `id, method, currency, status, total_amount, line_count, created_at, updated_at, started_at, finished_at`

	lineColumns = `id, batch_id, seller_id, amount, currency, destination, transfer_reference, status, attempts,
	failure_reason, outcome_unknown, external_id, entry_id, created_at, updated_at, submitted_at, completed_at, failed_at`
)

// PayoutRepository implements usecase.PayoutRepository.
type PayoutRepository struct {
	db DBTX
}

// NewPayoutRepository creates a new PayoutRepository.
func NewPayoutRepository(db DBTX) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// CreateBatch inserts a batch. The partial unique index on unfinished batches
// turns a concurrent run for the same method into domain.ErrBatchInProgress.
func (r *PayoutRepository) CreateBatch(ctx context.Context, tx usecase.Transaction, batch *domain.PayoutBatch) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payout_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		batch.ID, batch.Method, batch.Currency, string(batch.Status), batch.TotalAmount, batch.LineCount,
		batch.CreatedAt, batch.UpdatedAt, timestamptz(batch.StartedAt), timestamptz(batch.FinishedAt),
	)

	return mapError(err, nil)
}

func (r *PayoutRepository) CreateLine(ctx context.Context, tx usecase.Transaction, line *domain.PayoutLine) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO payout_lines (`+lineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		line.ID, line.BatchID, line.SellerID, line.Amount, line.Currency, line.Destination,
		line.TransferReference, string(line.Status), line.Attempts, line.FailureReason, line.OutcomeUnknown,
		line.ExternalID, line.EntryID, line.CreatedAt, line.UpdatedAt,
		timestamptz(line.SubmittedAt), timestamptz(line.CompletedAt), timestamptz(line.FailedAt),
	)

	return mapError(err, nil)
}

func (r *PayoutRepository) GetBatch(ctx context.Context, id string) (*domain.PayoutBatch, error) {
	return getBatch(ctx, r.db, `WHERE id = $1`, id)
}

func (r *PayoutRepository) GetBatchForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.PayoutBatch, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	return getBatch(ctx, q, `WHERE id = $1 FOR UPDATE`, id)
}

func getBatch(ctx context.Context, q DBTX, where string, arg any) (*domain.PayoutBatch, error) {
	var (
		b                     domain.PayoutBatch
		status                string
		startedAt, finishedAt pgtype.Timestamptz
	)

	err := q.QueryRow(ctx, `SELECT `+batchColumns+` FROM payout_batches `+where, arg).Scan(
		&b.ID, &b.Method, &b.Currency, &status, &b.TotalAmount, &b.LineCount,
		&b.CreatedAt, &b.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, mapError(err, domain.ErrBatchNotFound)
	}

	b.Status = domain.PayoutBatchStatus(status)
	b.StartedAt = timePtr(startedAt)
	b.FinishedAt = timePtr(finishedAt)

	return &b, nil
}

func (r *PayoutRepository) UpdateBatch(ctx context.Context, tx usecase.Transaction, batch *domain.PayoutBatch) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE payout_batches
		SET status = $2, total_amount = $3, line_count = $4, updated_at = $5, started_at = $6, finished_at = $7
		WHERE id = $1`,
		batch.ID, string(batch.Status), batch.TotalAmount, batch.LineCount, batch.UpdatedAt,
		timestamptz(batch.StartedAt), timestamptz(batch.FinishedAt),
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrBatchNotFound
	}

	return nil
}

func (r *PayoutRepository) ListLines(ctx context.Context, batchID string) ([]*domain.PayoutLine, error) {
	return listLines(ctx, r.db, batchID)
}

func (r *PayoutRepository) ListLinesTx(ctx context.Context, tx usecase.Transaction, batchID string) ([]*domain.PayoutLine, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	return listLines(ctx, q, batchID)
}

func listLines(ctx context.Context, q DBTX, batchID string) ([]*domain.PayoutLine, error) {
	rows, err := q.Query(ctx, `
		SELECT `+lineColumns+`
		FROM payout_lines
		WHERE batch_id = $1
		ORDER BY seller_id`,
		batchID,
	)
	if err != nil {
		return nil, err
	}

	return collectLines(rows)
}

func (r *PayoutRepository) GetLineByReferenceForUpdate(ctx context.Context, tx usecase.Transaction, ref string) (*domain.PayoutLine, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	l, err := scanLine(q.QueryRow(ctx, `
		SELECT `+lineColumns+`
		FROM payout_lines
		WHERE transfer_reference = $1
		FOR UPDATE`,
		ref,
	))
	if err != nil {
		return nil, mapError(err, domain.ErrLineNotFound)
	}

	return l, nil
}

func (r *PayoutRepository) UpdateLine(ctx context.Context, tx usecase.Transaction, line *domain.PayoutLine) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE payout_lines
		SET status = $2, attempts = $3, failure_reason = $4, outcome_unknown = $5, external_id = $6, entry_id = $7,
		    updated_at = $8, submitted_at = $9, completed_at = $10, failed_at = $11
		WHERE id = $1`,
		line.ID, string(line.Status), line.Attempts, line.FailureReason, line.OutcomeUnknown, line.ExternalID,
		line.EntryID, line.UpdatedAt, timestamptz(line.SubmittedAt), timestamptz(line.CompletedAt), timestamptz(line.FailedAt),
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrLineNotFound
	}

	return nil
}

func (r *PayoutRepository) HasInFlightLine(ctx context.Context, tx usecase.Transaction, sellerID string) (bool, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return false, err
	}

	var inFlight bool
	err = q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payout_lines
			WHERE seller_id = $1
			  AND (status IN ('pending', 'processing') OR (status = 'failed' AND outcome_unknown))
		)`,
		sellerID,
	).Scan(&inFlight)

	return inFlight, err
}

func (r *PayoutRepository) ListStaleLines(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.PayoutLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+lineColumns+`
		FROM payout_lines
		WHERE status IN ('pending', 'processing') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`,
		updatedBefore, limitArg(limit),
	)
	if err != nil {
		return nil, err
	}

	return collectLines(rows)
}

func (r *PayoutRepository) ListUnconfirmedLines(ctx context.Context, method string, limit int) ([]*domain.PayoutLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+lineColumns+`
		FROM payout_lines
		WHERE status = 'failed' AND outcome_unknown
		  AND batch_id IN (SELECT id FROM payout_batches WHERE method = $1)
		ORDER BY updated_at
		LIMIT $2`,
		method, limitArg(limit),
	)
	if err != nil {
		return nil, err
	}

	return collectLines(rows)
}

func collectLines(rows pgx.Rows) ([]*domain.PayoutLine, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.PayoutLine, error) {
		return scanLine(row)
	})
}

func scanLine(row pgx.Row) (*domain.PayoutLine, error) {
	var (
		l                                  domain.PayoutLine
		status                             string
		submittedAt, completedAt, failedAt pgtype.Timestamptz
	)

	if err := row.Scan(
		&l.ID, &l.BatchID, &l.SellerID, &l.Amount, &l.Currency, &l.Destination, &l.TransferReference,
		&status, &l.Attempts, &l.FailureReason, &l.OutcomeUnknown, &l.ExternalID, &l.EntryID, &l.CreatedAt, &l.UpdatedAt,
		&submittedAt, &completedAt, &failedAt,
	); err != nil {
		return nil, err
	}

	l.Status = domain.PayoutLineStatus(status)
	l.SubmittedAt = timePtr(submittedAt)
	l.CompletedAt = timePtr(completedAt)
	l.FailedAt = timePtr(failedAt)

	return &l, nil
}

const profileColumns = `seller_id, method, destination, currency, enabled, created_at, updated_at`

// ProfileRepository implements usecase.PayoutProfileRepository.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Upsert stores profile, keeping the original created_at of an existing row.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *domain.SellerPayoutProfile) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO seller_payout_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (seller_id) DO UPDATE
		SET method = EXCLUDED.method, destination = EXCLUDED.destination, currency = EXCLUDED.currency,
		    enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		profile.SellerID, profile.Method, profile.Destination, profile.Currency, profile.Enabled,
		profile.CreatedAt, profile.UpdatedAt,
	).Scan(&profile.CreatedAt)
}

func (r *ProfileRepository) GetBySeller(ctx context.Context, sellerID string) (*domain.SellerPayoutProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM seller_payout_profiles WHERE seller_id = $1`, sellerID))
	if err != nil {
		return nil, mapError(err, domain.ErrProfileNotFound)
	}

	return p, nil
}

func (r *ProfileRepository) ListEnabledByMethod(ctx context.Context, method string) ([]*domain.SellerPayoutProfile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM seller_payout_profiles
		WHERE enabled AND method = $1
		ORDER BY seller_id`,
		method,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.SellerPayoutProfile, error) {
		return scanProfile(row)
	})
}

func (r *ProfileRepository) ListMethods(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT method
		FROM seller_payout_profiles
		WHERE enabled
		ORDER BY method`)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanProfile(row pgx.Row) (*domain.SellerPayoutProfile, error) {
	var p domain.SellerPayoutProfile

	if err := row.Scan(&p.SellerID, &p.Method, &p.Destination, &p.Currency, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	return &p, nil
}
