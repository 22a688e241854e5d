// Package app wires the settlement use cases over a storage backend.
package app

import (
	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/usecase"
)

// Deps are the ports the use cases run against.
type Deps struct {
	Repos     usecase.Repositories
	Cache     usecase.BalanceCache
	Guard     usecase.NotificationGuard
	Locker    usecase.Locker
	Processor usecase.PaymentProcessor
	IDGen     usecase.IDGenerator
	Clock     usecase.Clock
	Settings  usecase.Settings
	Metrics   usecase.Metrics
	// Retrier is optional; without it every transaction runs once.
	Retrier usecase.Retrier
	Logger  zerolog.Logger
}

// Services holds every use case of the settlement core.
type Services struct {
	Ledger         *usecase.LedgerUseCase
	Balances       *usecase.BalanceUseCase
	Orders         *usecase.OrderUseCase
	Disputes       *usecase.DisputeUseCase
	Payouts        *usecase.PayoutUseCase
	Webhooks       *usecase.WebhookUseCase
	Credits        *usecase.CreditUseCase
	Catalog        *usecase.CatalogUseCase
	Reconciliation *usecase.ReconciliationUseCase
}

// NewServices builds the use cases.
func NewServices(d Deps) *Services {
	if d.Metrics == nil {
		d.Metrics = usecase.NopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = usecase.SystemClock{}
	}

	r := d.Repos
	s := &Services{}

	s.Ledger = usecase.NewLedgerUseCase(r.TxManager, r.Accounts, r.Entries, d.IDGen, d.Clock, d.Metrics, d.Logger)
	s.Balances = usecase.NewBalanceUseCase(r.Accounts, r.Entries, r.Orders, d.Cache, d.Clock, d.Settings, d.Logger)

	s.Orders = usecase.NewOrderUseCase(usecase.OrderUseCaseParams{
		TxManager:   r.TxManager,
		OrderRepo:   r.Orders,
		ListingRepo: r.Listings,
		LicenseRepo: r.Licenses,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Ledger:      s.Ledger,
		Balances:    s.Balances,
		Processor:   d.Processor,
		IDGen:       d.IDGen,
		Clock:       d.Clock,
		Settings:    d.Settings,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	s.Disputes = usecase.NewDisputeUseCase(usecase.DisputeUseCaseParams{
		TxManager:   r.TxManager,
		DisputeRepo: r.Disputes,
		OrderRepo:   r.Orders,
		LicenseRepo: r.Licenses,
		PayoutRepo:  r.Payouts,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Ledger:      s.Ledger,
		Balances:    s.Balances,
		IDGen:       d.IDGen,
		Clock:       d.Clock,
		Settings:    d.Settings,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	s.Payouts = usecase.NewPayoutUseCase(usecase.PayoutUseCaseParams{
		TxManager:   r.TxManager,
		PayoutRepo:  r.Payouts,
		ProfileRepo: r.Profiles,
		AccountRepo: r.Accounts,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Ledger:      s.Ledger,
		Balances:    s.Balances,
		Processor:   d.Processor,
		Locker:      d.Locker,
		IDGen:       d.IDGen,
		Clock:       d.Clock,
		Settings:    d.Settings,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	s.Webhooks = usecase.NewWebhookUseCase(d.Guard, s.Orders, s.Payouts, d.Metrics, d.Logger)
	s.Credits = usecase.NewCreditUseCase(r.TxManager, s.Ledger, s.Balances, r.Outbox, r.Audit, d.IDGen, d.Clock, d.Logger)
	s.Catalog = usecase.NewCatalogUseCase(r.TxManager, r.Listings, d.Clock, d.Settings, d.Logger)

	s.Reconciliation = usecase.NewReconciliationUseCase(usecase.ReconciliationUseCaseParams{
		TxManager:   r.TxManager,
		AccountRepo: r.Accounts,
		EntryRepo:   r.Entries,
		OutboxRepo:  r.Outbox,
		AuditRepo:   r.Audit,
		Balances:    s.Balances,
		Cache:       d.Cache,
		IDGen:       d.IDGen,
		Clock:       d.Clock,
		Metrics:     d.Metrics,
		Logger:      d.Logger,
	})

	if d.Retrier != nil {
		s.Ledger.WithRetrier(d.Retrier)
		s.Orders.WithRetrier(d.Retrier)
		s.Disputes.WithRetrier(d.Retrier)
		s.Payouts.WithRetrier(d.Retrier)
		s.Credits.WithRetrier(d.Retrier)
		s.Catalog.WithRetrier(d.Retrier)
		s.Reconciliation.WithRetrier(d.Retrier)
	}

	return s
}
