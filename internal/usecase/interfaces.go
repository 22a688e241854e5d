package usecase

import (
	"context"
	"time"

	"github.com/iho/settlement/internal/domain"
)

// LedgerAccountRepository defines data access for ledger accounts.
type LedgerAccountRepository interface {
	// LockForUpdate locks the accounts for keys in the given order, creating
	// missing accounts at version 0. Keys must already be sorted.
	LockForUpdate(ctx context.Context, tx Transaction, keys []domain.AccountKey) ([]*domain.LedgerAccount, error)
	Save(ctx context.Context, tx Transaction, account *domain.LedgerAccount) error
	Get(ctx context.Context, key domain.AccountKey) (*domain.LedgerAccount, error)
	ListByParty(ctx context.Context, party string) ([]*domain.LedgerAccount, error)
}

// EntryRepository defines data access for ledger entries. There is no update
// or delete path.
type EntryRepository interface {
	CreateBatch(ctx context.Context, tx Transaction, entries []*domain.LedgerEntry) error
	// ListByParty returns entries touching party in d whose version for party
	// is greater than afterVersion, ordered by that version.
	ListByParty(ctx context.Context, party string, d domain.Denomination, afterVersion int64, limit int) ([]*domain.LedgerEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error)
	// SumByPartyTx replays the balance of party in d inside tx.
	SumByPartyTx(ctx context.Context, tx Transaction, party string, d domain.Denomination) (int64, error)
	// SumUpTo replays the balance of party in d over entries whose version for
	// party is at most version.
	SumUpTo(ctx context.Context, party string, d domain.Denomination, version int64) (int64, error)
	// SumForOrders sums party's signed amounts in d across entries linked to orderIDs.
	SumForOrders(ctx context.Context, party string, d domain.Denomination, orderIDs []string) (int64, error)
	SumForOrdersTx(ctx context.Context, tx Transaction, party string, d domain.Denomination, orderIDs []string) (int64, error)
	// ListImbalances returns every order whose clearing sum is not zero.
	ListImbalances(ctx context.Context) ([]domain.UnbalancedEntrySetError, error)
}

// OrderRepository defines data access for orders.
type OrderRepository interface {
	Create(ctx context.Context, tx Transaction, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Order, error)
	GetByPaymentReferenceForUpdate(ctx context.Context, tx Transaction, ref string) (*domain.Order, error)
	// Update persists status, payment reference and timestamps. Assigning a
	// payment reference already used by another order yields ErrDuplicatePaymentRef.
	Update(ctx context.Context, tx Transaction, order *domain.Order) error
	ListExpiredPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error)
	// ListHeldOrderIDs returns completed orders sold by sellerID that were
	// completed after completedAfter or have an active dispute.
	ListHeldOrderIDs(ctx context.Context, sellerID string, completedAfter time.Time) ([]string, error)
	ListHeldOrderIDsTx(ctx context.Context, tx Transaction, sellerID string, completedAfter time.Time) ([]string, error)
}

// ListingRepository defines data access for the catalog projection.
type ListingRepository interface {
	Create(ctx context.Context, tx Transaction, listing *domain.Listing) error
	GetByID(ctx context.Context, id string) (*domain.Listing, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Listing, error)
	Update(ctx context.Context, tx Transaction, listing *domain.Listing) error
}

// LicenseRepository defines data access for digital licenses.
type LicenseRepository interface {
	Create(ctx context.Context, tx Transaction, license *domain.DigitalLicense) error
	GetByOrderID(ctx context.Context, orderID string) (*domain.DigitalLicense, error)
	GetByKey(ctx context.Context, key string) (*domain.DigitalLicense, error)
	Revoke(ctx context.Context, tx Transaction, id string, at time.Time) error
}

// DisputeRepository defines data access for disputes.
type DisputeRepository interface {
	// Create yields ErrDisputeExists when the order already has a dispute.
	Create(ctx context.Context, tx Transaction, dispute *domain.Dispute) error
	GetByID(ctx context.Context, id string) (*domain.Dispute, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Dispute, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Dispute, error)
	Update(ctx context.Context, tx Transaction, dispute *domain.Dispute) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.Dispute, error)
}

// PayoutRepository defines data access for payout batches and lines.
type PayoutRepository interface {
	// CreateBatch yields ErrBatchInProgress when the method already has an
	// unfinished batch.
	CreateBatch(ctx context.Context, tx Transaction, batch *domain.PayoutBatch) error
	CreateLine(ctx context.Context, tx Transaction, line *domain.PayoutLine) error
	GetBatch(ctx context.Context, id string) (*domain.PayoutBatch, error)
	GetBatchForUpdate(ctx context.Context, tx Transaction, id string) (*domain.PayoutBatch, error)
	UpdateBatch(ctx context.Context, tx Transaction, batch *domain.PayoutBatch) error
	ListLines(ctx context.Context, batchID string) ([]*domain.PayoutLine, error)
	ListLinesTx(ctx context.Context, tx Transaction, batchID string) ([]*domain.PayoutLine, error)
	GetLineByReferenceForUpdate(ctx context.Context, tx Transaction, ref string) (*domain.PayoutLine, error)
	UpdateLine(ctx context.Context, tx Transaction, line *domain.PayoutLine) error
	// HasInFlightLine reports whether sellerID has a line that is pending,
	// processing or failed with an unknown outcome.
	HasInFlightLine(ctx context.Context, tx Transaction, sellerID string) (bool, error)
	ListStaleLines(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.PayoutLine, error)
	// ListUnconfirmedLines returns failed lines of batches for method whose
	// transfer outcome is still unknown, oldest first.
	ListUnconfirmedLines(ctx context.Context, method string, limit int) ([]*domain.PayoutLine, error)
}

// PayoutProfileRepository defines data access for seller payout profiles.
type PayoutProfileRepository interface {
	Upsert(ctx context.Context, profile *domain.SellerPayoutProfile) error
	GetBySeller(ctx context.Context, sellerID string) (*domain.SellerPayoutProfile, error)
	ListEnabledByMethod(ctx context.Context, method string) ([]*domain.SellerPayoutProfile, error)
	ListMethods(ctx context.Context) ([]string, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx Transaction, log *domain.AuditLog) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// EventPublisher delivers outbox events to the outside world.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Repositories bundles every repository a storage backend provides.
type Repositories struct {
	TxManager TransactionManager
	Accounts  LedgerAccountRepository
	Entries   EntryRepository
	Orders    OrderRepository
	Listings  ListingRepository
	Licenses  LicenseRepository
	Disputes  DisputeRepository
	Payouts   PayoutRepository
	Profiles  PayoutProfileRepository
	Outbox    OutboxRepository
	Audit     AuditRepository
}
