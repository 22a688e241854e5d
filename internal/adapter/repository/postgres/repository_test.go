package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

func beginMockTx(t *testing.T, pool pgxmock.PgxPoolIface) usecase.Transaction {
	t.Helper()

	pool.ExpectBeginTx(serializable)

	tx, err := newTxManagerWithPool(pool).Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	return tx
}

func TestMapError(t *testing.T) {
	notFound := domain.ErrOrderNotFound

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, notFound},
		{"payment reference", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "orders_payment_reference_key"}, domain.ErrDuplicatePaymentRef},
		{"dispute per order", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "disputes_order_key"}, domain.ErrDisputeExists},
		{"active batch", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "payout_batches_active_method_key"}, domain.ErrBatchInProgress},
		{"other unique", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "digital_licenses_key_key"}, domain.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err, notFound); !errors.Is(got, tt.want) {
				t.Fatalf("mapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if mapError(nil, notFound) != nil {
		t.Fatalf("nil error must stay nil")
	}

	other := errors.New("connection reset")
	if got := mapError(other, notFound); !errors.Is(got, other) {
		t.Fatalf("unrelated errors must pass through, got %v", got)
	}
}

func TestAccountRepositoryLockForUpdateCreatesAndLocksInOrder(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	keys := []domain.AccountKey{
		{Party: domain.PartyClearing, Denomination: domain.DenominationMoney},
		{Party: "seller-1", Denomination: domain.DenominationMoney},
	}

	for i, key := range keys {
		pool.ExpectExec("INSERT INTO ledger_accounts").
			WithArgs(key.Party, string(key.Denomination)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		pool.ExpectQuery("SELECT .+ FROM ledger_accounts .+ FOR UPDATE").
			WithArgs(key.Party, string(key.Denomination)).
			WillReturnRows(pgxmock.NewRows([]string{"party", "denomination", "version", "frozen", "frozen_reason", "created_at", "updated_at"}).
				AddRow(key.Party, string(key.Denomination), int64(i+3), false, "", now, now))
	}

	accounts, err := NewAccountRepository(pool).LockForUpdate(context.Background(), tx, keys)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if len(accounts) != 2 || accounts[0].Key != keys[0] || accounts[1].Key != keys[1] {
		t.Fatalf("unexpected accounts %+v", accounts)
	}
	if accounts[1].Version != 4 {
		t.Fatalf("expected version 4, got %d", accounts[1].Version)
	}

	assertExpectations(t, pool)
}

func TestAccountRepositorySaveMissingAccount(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	account := &domain.LedgerAccount{Key: domain.AccountKey{Party: "seller-1", Denomination: domain.DenominationMoney}, Version: 2}

	pool.ExpectExec("UPDATE ledger_accounts").
		WithArgs("seller-1", "money", int64(2), false, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewAccountRepository(pool).Save(context.Background(), tx, account)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	assertExpectations(t, pool)
}

func TestEntryRepositoryCreateBatchCopiesRows(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	order := "order-1"
	entries := []*domain.LedgerEntry{
		{ID: "e1", Type: domain.EntryTypePurchase, FromParty: domain.PartyProcessor, ToParty: domain.PartyClearing, Amount: 1000, Denomination: domain.DenominationMoney, OrderID: &order},
		{ID: "e2", Type: domain.EntryTypePurchase, FromParty: domain.PartyClearing, ToParty: "seller-1", Amount: 850, Denomination: domain.DenominationMoney, OrderID: &order},
	}

	pool.ExpectCopyFrom(pgx.Identifier{"ledger_entries"}, entryColumnNames).WillReturnResult(2)

	if err := NewEntryRepository(pool).CreateBatch(context.Background(), tx, entries); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	assertExpectations(t, pool)
}

func TestEntryRepositorySums(t *testing.T) {
	pool := newMockPool(t)
	repo := NewEntryRepository(pool)

	pool.ExpectQuery("SELECT COALESCE\\(SUM").
		WithArgs("seller-1", "money", int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(850)))

	sum, err := repo.SumUpTo(context.Background(), "seller-1", domain.DenominationMoney, 3)
	if err != nil {
		t.Fatalf("sum up to: %v", err)
	}
	if sum != 850 {
		t.Fatalf("expected 850, got %d", sum)
	}

	held, err := repo.SumForOrders(context.Background(), "seller-1", domain.DenominationMoney, nil)
	if err != nil || held != 0 {
		t.Fatalf("expected no query for empty order list, got %d, %v", held, err)
	}

	assertExpectations(t, pool)
}

func TestEntryRepositoryListImbalances(t *testing.T) {
	pool := newMockPool(t)

	pool.ExpectQuery("SELECT order_id, denomination, imbalance").
		WithArgs(domain.PartyClearing).
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "denomination", "imbalance"}).
			AddRow("order-7", "money", int64(100)))

	got, err := NewEntryRepository(pool).ListImbalances(context.Background())
	if err != nil {
		t.Fatalf("list imbalances: %v", err)
	}

	if len(got) != 1 || got[0].OrderID != "order-7" || got[0].Denomination != domain.DenominationMoney || got[0].Imbalance != 100 {
		t.Fatalf("unexpected imbalances %+v", got)
	}

	assertExpectations(t, pool)
}

func TestOrderRepositoryUpdateDuplicatePaymentReference(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	ref := "pay_1"
	order := &domain.Order{ID: "order-2", Status: domain.OrderStatusPending, PaymentReference: &ref, CommissionRate: decimal.RequireFromString("0.15")}

	pool.ExpectExec("UPDATE orders").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "orders_payment_reference_key"})

	err := NewOrderRepository(pool).Update(context.Background(), tx, order)
	if !errors.Is(err, domain.ErrDuplicatePaymentRef) {
		t.Fatalf("expected ErrDuplicatePaymentRef, got %v", err)
	}

	assertExpectations(t, pool)
}

func TestOrderRepositoryListHeldOrderIDs(t *testing.T) {
	pool := newMockPool(t)
	cutoff := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)

	pool.ExpectQuery("SELECT o.id\\s+FROM orders o\\s+LEFT JOIN disputes").
		WithArgs("seller-1", cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("order-1").AddRow("order-3"))

	ids, err := NewOrderRepository(pool).ListHeldOrderIDs(context.Background(), "seller-1", cutoff)
	if err != nil {
		t.Fatalf("list held: %v", err)
	}

	if len(ids) != 2 || ids[0] != "order-1" || ids[1] != "order-3" {
		t.Fatalf("unexpected ids %v", ids)
	}

	assertExpectations(t, pool)
}

func TestHeldEarningsQueriesRunInsideTransaction(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)
	ctx := context.Background()
	cutoff := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)

	pool.ExpectQuery("SELECT o.id\\s+FROM orders o\\s+LEFT JOIN disputes").
		WithArgs("seller-1", cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("order-1"))
	pool.ExpectQuery("SELECT COALESCE\\(SUM").
		WithArgs("seller-1", "money", []string{"order-1"}).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(850)))

	ids, err := NewOrderRepository(pool).ListHeldOrderIDsTx(ctx, tx, "seller-1", cutoff)
	if err != nil {
		t.Fatalf("list held in tx: %v", err)
	}
	if len(ids) != 1 || ids[0] != "order-1" {
		t.Fatalf("unexpected ids %v", ids)
	}

	held, err := NewEntryRepository(pool).SumForOrdersTx(ctx, tx, "seller-1", domain.DenominationMoney, ids)
	if err != nil {
		t.Fatalf("sum held in tx: %v", err)
	}
	if held != 850 {
		t.Fatalf("expected 850, got %d", held)
	}

	if _, err := NewOrderRepository(pool).ListHeldOrderIDsTx(ctx, nil, "seller-1", cutoff); !errors.Is(err, errForeignTx) {
		t.Fatalf("expected errForeignTx, got %v", err)
	}

	assertExpectations(t, pool)
}

func TestDisputeRepositoryCreateSecondDispute(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	dispute := &domain.Dispute{ID: "dsp-2", OrderID: "order-1", Status: domain.DisputeStatusOpen, Priority: domain.DisputePriorityNormal}

	args := make([]any, 14)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}

	pool.ExpectExec("INSERT INTO disputes").
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "disputes_order_key"})

	err := NewDisputeRepository(pool).Create(context.Background(), tx, dispute)
	if !errors.Is(err, domain.ErrDisputeExists) {
		t.Fatalf("expected ErrDisputeExists, got %v", err)
	}

	assertExpectations(t, pool)
}

func TestPayoutRepositoryHasInFlightLine(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectQuery("SELECT EXISTS").
		WithArgs("seller-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	inFlight, err := NewPayoutRepository(pool).HasInFlightLine(context.Background(), tx, "seller-1")
	if err != nil {
		t.Fatalf("has in flight: %v", err)
	}
	if !inFlight {
		t.Fatalf("expected an in-flight line")
	}

	assertExpectations(t, pool)
}

func TestPayoutRepositoryHasInFlightLineCountsUnconfirmedFailures(t *testing.T) {
	pool := newMockPool(t)
	tx := beginMockTx(t, pool)

	pool.ExpectQuery(`status = 'failed' AND outcome_unknown`).
		WithArgs("seller-2").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	inFlight, err := NewPayoutRepository(pool).HasInFlightLine(context.Background(), tx, "seller-2")
	if err != nil {
		t.Fatalf("has in flight: %v", err)
	}
	if !inFlight {
		t.Fatalf("a failed line with an unknown outcome blocks new payouts")
	}

	assertExpectations(t, pool)
}

func TestPayoutRepositoryListUnconfirmedLines(t *testing.T) {
	pool := newMockPool(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	failedAt := pgtype.Timestamptz{Time: now, Valid: true}

	pool.ExpectQuery(`outcome_unknown\s+AND batch_id IN \(SELECT id FROM payout_batches WHERE method = \$1\)`).
		WithArgs("bank", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "batch_id", "seller_id", "amount", "currency", "destination", "transfer_reference", "status",
			"attempts", "failure_reason", "outcome_unknown", "external_id", "entry_id", "created_at", "updated_at",
			"submitted_at", "completed_at", "failed_at",
		}).AddRow(
			"line-1", "batch-1", "seller-1", int64(1700), "USD", "acct-1", "po_batch-1_seller-1", "failed",
			3, "timeout", true, "", (*string)(nil), now, now,
			failedAt, pgtype.Timestamptz{}, failedAt,
		))

	lines, err := NewPayoutRepository(pool).ListUnconfirmedLines(context.Background(), "bank", 50)
	if err != nil {
		t.Fatalf("list unconfirmed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if !lines[0].IsUnconfirmed() || lines[0].TransferReference != "po_batch-1_seller-1" {
		t.Fatalf("unexpected line %+v", lines[0])
	}
	if lines[0].CompletedAt != nil {
		t.Fatalf("completed_at must stay empty")
	}

	assertExpectations(t, pool)
}

func TestProfileRepositoryListMethods(t *testing.T) {
	pool := newMockPool(t)

	pool.ExpectQuery("SELECT DISTINCT method").
		WillReturnRows(pgxmock.NewRows([]string{"method"}).AddRow("bank").AddRow("paypal"))

	methods, err := NewProfileRepository(pool).ListMethods(context.Background())
	if err != nil {
		t.Fatalf("list methods: %v", err)
	}

	if len(methods) != 2 || methods[0] != "bank" || methods[1] != "paypal" {
		t.Fatalf("unexpected methods %v", methods)
	}

	assertExpectations(t, pool)
}

func TestOutboxRepositoryMarkPublished(t *testing.T) {
	pool := newMockPool(t)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	pool.ExpectExec("UPDATE outbox_events").
		WithArgs("evt-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := NewOutboxRepository(pool).MarkPublished(context.Background(), "evt-1", at); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	assertExpectations(t, pool)
}

func TestAuditRepositoryListBuildsFilter(t *testing.T) {
	pool := newMockPool(t)

	pool.ExpectQuery("FROM audit_logs WHERE 1=1 AND resource_type = \\$1 AND resource_id = \\$2 ORDER BY created_at DESC LIMIT \\$3").
		WithArgs("order", "order-1", 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "actor", "action", "resource_type", "resource_id", "request_id",
			"before_state", "after_state", "status", "error_message", "created_at",
		}).AddRow("a1", "system", "order.complete", "order", "order-1", "", nil, []byte(`{"status":"completed"}`), "success", "", time.Now()))

	logs, err := NewAuditRepository(pool).List(context.Background(), domain.AuditFilter{ResourceType: "order", ResourceID: "order-1", Limit: 10})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}

	if len(logs) != 1 || logs[0].Action != domain.AuditActionOrderComplete || logs[0].AfterState["status"] != "completed" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}

	assertExpectations(t, pool)
}
