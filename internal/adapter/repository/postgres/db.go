package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgErrUniqueViolation = "23505"

// uniqueViolations maps unique constraints to the domain conflict they mean.
var uniqueViolations = map[string]error{
	"orders_payment_reference_key":     domain.ErrDuplicatePaymentRef,
	"disputes_order_key":               domain.ErrDisputeExists,
	"payout_batches_active_method_key": domain.ErrBatchInProgress,
}

// mapError translates driver errors into domain errors.
func mapError(err error, notFound error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) && notFound != nil {
		return notFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		if mapped, ok := uniqueViolations[pgErr.ConstraintName]; ok {
			return mapped
		}

		return errors.Join(domain.ErrConflict, err)
	}

	return err
}

// Repositories builds every PostgreSQL repository on pool.
func Repositories(pool *pgxpool.Pool) usecase.Repositories {
	return newRepositories(pool, NewTxManager(pool))
}

func newRepositories(db DBTX, txManager usecase.TransactionManager) usecase.Repositories {
	return usecase.Repositories{
		TxManager: txManager,
		Accounts:  NewAccountRepository(db),
		Entries:   NewEntryRepository(db),
		Orders:    NewOrderRepository(db),
		Listings:  NewListingRepository(db),
		Licenses:  NewLicenseRepository(db),
		Disputes:  NewDisputeRepository(db),
		Payouts:   NewPayoutRepository(db),
		Profiles:  NewProfileRepository(db),
		Outbox:    NewOutboxRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

// limitArg turns a non-positive limit into NULL, which LIMIT treats as "all".
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}

	return &limit
}

// Type conversion helpers.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric

	_ = n.Scan(d.String())

	return n
}

func optionalDecimalToNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}

	return decimalToNumeric(*d)
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func numericToOptionalDecimal(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid {
		return nil
	}

	d := numericToDecimal(n)

	return &d
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}

	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time

	return &v
}
