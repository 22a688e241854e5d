package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/settlement/internal/adapter/repository/memory"
	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
	"github.com/iho/settlement/internal/usecase/mocks"
)

// harness wires every use case against the in-memory store, with only the
// external processor mocked.
type harness struct {
	t         *testing.T
	ctx       context.Context
	repos     usecase.Repositories
	cache     *memory.BalanceCache
	guard     *memory.NotificationGuard
	clock     *mocks.MockClock
	ids       *mocks.MockIDGenerator
	processor *mocks.MockPaymentProcessor
	settings  usecase.Settings

	ledger         *usecase.LedgerUseCase
	balances       *usecase.BalanceUseCase
	orders         *usecase.OrderUseCase
	disputes       *usecase.DisputeUseCase
	payouts        *usecase.PayoutUseCase
	webhooks       *usecase.WebhookUseCase
	credits        *usecase.CreditUseCase
	catalog        *usecase.CatalogUseCase
	reconciliation *usecase.ReconciliationUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ctrl := gomock.NewController(t)

	settings := usecase.DefaultSettings()
	settings.LineRetryInterval = time.Millisecond
	settings.PayoutWorkers = 2

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		repos:     memory.New().Repositories(),
		cache:     memory.NewBalanceCache(),
		guard:     memory.NewNotificationGuard(),
		clock:     mocks.NewMockClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)),
		ids:       mocks.NewMockIDGenerator(),
		processor: mocks.NewMockPaymentProcessor(ctrl),
		settings:  settings,
	}

	logger := zerolog.Nop()
	metrics := usecase.NopMetrics{}
	r := h.repos

	h.ledger = usecase.NewLedgerUseCase(r.TxManager, r.Accounts, r.Entries, h.ids, h.clock, metrics, logger)
	h.balances = usecase.NewBalanceUseCase(r.Accounts, r.Entries, r.Orders, h.cache, h.clock, settings, logger)

	h.orders = usecase.NewOrderUseCase(usecase.OrderUseCaseParams{
		TxManager:   r.TxManager,
		OrderRepo:   r.Orders,
		ListingRepo: r.Listings,
		LicenseRepo: r.Licenses,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Ledger:      h.ledger,
		Balances:    h.balances,
		Processor:   h.processor,
		IDGen:       h.ids,
		Clock:       h.clock,
		Settings:    settings,
		Metrics:     metrics,
		Logger:      logger,
	})

	h.disputes = usecase.NewDisputeUseCase(usecase.DisputeUseCaseParams{
		TxManager:   r.TxManager,
		DisputeRepo: r.Disputes,
		OrderRepo:   r.Orders,
		LicenseRepo: r.Licenses,
		PayoutRepo:  r.Payouts,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Ledger:      h.ledger,
		Balances:    h.balances,
		IDGen:       h.ids,
		Clock:       h.clock,
		Settings:    settings,
		Metrics:     metrics,
		Logger:      logger,
	})

	h.payouts = usecase.NewPayoutUseCase(usecase.PayoutUseCaseParams{
		TxManager:   r.TxManager,
		PayoutRepo:  r.Payouts,
		ProfileRepo: r.Profiles,
		AccountRepo: r.Accounts,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Ledger:      h.ledger,
		Balances:    h.balances,
		Processor:   h.processor,
		Locker:      memory.NewLocker(h.clock),
		IDGen:       h.ids,
		Clock:       h.clock,
		Settings:    settings,
		Metrics:     metrics,
		Logger:      logger,
	})

	h.webhooks = usecase.NewWebhookUseCase(h.guard, h.orders, h.payouts, metrics, logger)
	h.credits = usecase.NewCreditUseCase(r.TxManager, h.ledger, h.balances, r.Outbox, r.Audit, h.ids, h.clock, logger)
	h.catalog = usecase.NewCatalogUseCase(r.TxManager, r.Listings, h.clock, settings, logger)

	h.reconciliation = usecase.NewReconciliationUseCase(usecase.ReconciliationUseCaseParams{
		TxManager:   r.TxManager,
		AccountRepo: r.Accounts,
		EntryRepo:   r.Entries,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Balances:    h.balances,
		Cache:       h.cache,
		IDGen:       h.ids,
		Clock:       h.clock,
		Metrics:     metrics,
		Logger:      logger,
	})

	return h
}

func ptr[T any](v T) *T { return &v }

// listing pushes an active listing into the catalog projection.
func (h *harness) listing(id, sellerID string, price, credits int64, available *int64) *domain.Listing {
	h.t.Helper()

	l, err := h.catalog.UpsertListing(h.ctx, &domain.Listing{
		ID:           id,
		SellerID:     sellerID,
		Title:        "Brush pack " + id,
		PriceMinor:   price,
		PriceCredits: credits,
		Status:       domain.ListingStatusActive,
		Available:    available,
		Terms:        domain.LicenseTerms{Usage: "personal", TermsVersion: "v1"},
	})
	require.NoError(h.t, err)

	return l
}

// chargesSucceed makes every charge return "pay_<order id>".
func (h *harness) chargesSucceed() {
	h.processor.EXPECT().
		Charge(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
			return usecase.ChargeResult{PaymentReference: "pay_" + req.OrderID}, nil
		}).
		AnyTimes()
}

// buyWithMoney creates a money order and confirms its payment.
func (h *harness) buyWithMoney(buyerID, listingID string) *domain.Order {
	h.t.Helper()

	order, err := h.orders.CreateOrder(h.ctx, usecase.CreateOrderInput{
		BuyerID:       buyerID,
		ListingID:     listingID,
		PaymentMethod: domain.PaymentMethodMoney,
	})
	require.NoError(h.t, err)
	require.Equal(h.t, domain.OrderStatusPending, order.Status)
	require.NotNil(h.t, order.PaymentReference)

	completed, err := h.orders.CompletePayment(h.ctx, usecase.PaymentSucceededInput{PaymentReference: *order.PaymentReference})
	require.NoError(h.t, err)
	require.Equal(h.t, domain.OrderStatusCompleted, completed.Status)

	return completed
}

func (h *harness) grant(userID string, amount int64) {
	h.t.Helper()

	_, err := h.credits.Grant(h.ctx, usecase.GrantCreditsInput{UserID: userID, Amount: amount, Actor: "admin-1"})
	require.NoError(h.t, err)
}

func (h *harness) balance(party string, d domain.Denomination) int64 {
	h.t.Helper()

	b, err := h.balances.GetBalance(h.ctx, party, d)
	require.NoError(h.t, err)

	return b.Amount
}

// replay sums every entry touching party in d straight from the store.
func (h *harness) replay(party string, d domain.Denomination) int64 {
	h.t.Helper()

	sum, err := h.repos.Entries.SumUpTo(h.ctx, party, d, 1<<62)
	require.NoError(h.t, err)

	return sum
}

// clearingSum returns the clearing account's net for one order.
func (h *harness) clearingSum(orderID string, d domain.Denomination) int64 {
	h.t.Helper()

	entries, err := h.repos.Entries.ListByOrder(h.ctx, orderID)
	require.NoError(h.t, err)

	var sum int64
	for _, e := range entries {
		if e.Denomination == d {
			sum += e.SignedFor(domain.PartyClearing)
		}
	}

	return sum
}

func (h *harness) entriesFor(orderID string) []*domain.LedgerEntry {
	h.t.Helper()

	entries, err := h.repos.Entries.ListByOrder(h.ctx, orderID)
	require.NoError(h.t, err)

	return entries
}

func (h *harness) events(aggregateType, aggregateID string) []string {
	h.t.Helper()

	events, err := h.repos.Outbox.GetByAggregate(h.ctx, aggregateType, aggregateID, 100, 0)
	require.NoError(h.t, err)

	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}

	return types
}

func (h *harness) profile(sellerID, method string) {
	h.t.Helper()

	require.NoError(h.t, h.payouts.UpsertProfile(h.ctx, &domain.SellerPayoutProfile{
		SellerID:    sellerID,
		Method:      method,
		Destination: "acct_" + sellerID,
		Currency:    "USD",
		Enabled:     true,
	}))
}

// settle moves the clock past the settlement delay.
func (h *harness) settle() {
	h.clock.Advance(h.settings.SettlementDelay + time.Hour)
}
