package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const orderColumns = `id, buyer_id, seller_id, listing_id, payment_method, currency, commission_rate,
	money_gross, money_commission, money_net, credits_gross, credits_commission, credits_net,
	status, payment_reference, failure_reason, created_at, completed_at, failed_at`

// OrderRepository implements usecase.OrderRepository.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx usecase.Transaction, order *domain.Order) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	m, c := order.Amounts.Money, order.Amounts.Credits

	_, err = q.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		order.ID, order.BuyerID, order.SellerID, order.ListingID, string(order.PaymentMethod), order.Currency,
		decimalToNumeric(order.CommissionRate),
		m.Gross, m.Commission, m.Net, c.Gross, c.Commission, c.Net,
		string(order.Status), order.PaymentReference, order.FailureReason,
		order.CreatedAt, timestamptz(order.CompletedAt), timestamptz(order.FailedAt),
	)

	return mapError(err, nil)
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.get(ctx, r.db, `WHERE id = $1`, id)
}

func (r *OrderRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Order, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	return r.get(ctx, q, `WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) GetByPaymentReferenceForUpdate(ctx context.Context, tx usecase.Transaction, ref string) (*domain.Order, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	return r.get(ctx, q, `WHERE payment_reference = $1 FOR UPDATE`, ref)
}

func (r *OrderRepository) get(ctx context.Context, q DBTX, where string, arg any) (*domain.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders `+where, arg))
	if err != nil {
		return nil, mapError(err, domain.ErrOrderNotFound)
	}

	return o, nil
}

// Update persists the mutable part of an order.
func (r *OrderRepository) Update(ctx context.Context, tx usecase.Transaction, order *domain.Order) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE orders
		SET status = $2, payment_reference = $3, failure_reason = $4, completed_at = $5, failed_at = $6
		WHERE id = $1`,
		order.ID, string(order.Status), order.PaymentReference, order.FailureReason,
		timestamptz(order.CompletedAt), timestamptz(order.FailedAt),
	)
	if err != nil {
		return mapError(err, nil)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

func (r *OrderRepository) ListExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		createdBefore, limitArg(limit),
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Order, error) {
		return scanOrder(row)
	})
}

func (r *OrderRepository) ListHeldOrderIDs(ctx context.Context, sellerID string, completedAfter time.Time) ([]string, error) {
	return listHeldOrderIDs(ctx, r.db, sellerID, completedAfter)
}

func (r *OrderRepository) ListHeldOrderIDsTx(ctx context.Context, tx usecase.Transaction, sellerID string, completedAfter time.Time) ([]string, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	return listHeldOrderIDs(ctx, q, sellerID, completedAfter)
}

func listHeldOrderIDs(ctx context.Context, q DBTX, sellerID string, completedAfter time.Time) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT o.id
		FROM orders o
		LEFT JOIN disputes d ON d.order_id = o.id
		WHERE o.seller_id = $1
		  AND o.status = 'completed'
		  AND (o.completed_at > $2 OR d.status IN ('open', 'in_progress'))
		ORDER BY o.id`,
		sellerID, completedAfter,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                     domain.Order
		method, status        string
		rate                  pgtype.Numeric
		completedAt, failedAt pgtype.Timestamptz
	)

	m, c := &o.Amounts.Money, &o.Amounts.Credits

	if err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.ListingID, &method, &o.Currency, &rate,
		&m.Gross, &m.Commission, &m.Net, &c.Gross, &c.Commission, &c.Net,
		&status, &o.PaymentReference, &o.FailureReason, &o.CreatedAt, &completedAt, &failedAt,
	); err != nil {
		return nil, err
	}

	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.OrderStatus(status)
	o.CommissionRate = numericToDecimal(rate)
	o.CompletedAt = timePtr(completedAt)
	o.FailedAt = timePtr(failedAt)

	return &o, nil
}
