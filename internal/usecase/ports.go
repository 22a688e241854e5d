package usecase

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

import (
	"context"
	"time"

	"github.com/iho/settlement/internal/domain"
)

// ChargeRequest asks the processor to charge a buyer.
type ChargeRequest struct {
	OrderID  string
	BuyerRef string
	Amount   int64
	Currency string
	// IdempotencyKey is stable per order so a retried charge never double-bills.
	IdempotencyKey string
}

// ChargeResult is the processor's answer to a charge.
type ChargeResult struct {
	PaymentReference string
}

// TransferRequest asks the payout rail to pay a seller.
type TransferRequest struct {
	Reference   string
	SellerRef   string
	Destination string
	Method      string
	Amount      int64
	Currency    string
}

// TransferResult is the rail's synchronous answer to a transfer.
type TransferResult struct {
	Reference  string
	ExternalID string
	// Status is "completed", "failed" or "pending". Pending outcomes arrive
	// later through a transfer webhook.
	Status string
	Reason string
}

// Transfer result statuses.
const (
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
	TransferStatusPending   = "pending"
)

// PaymentProcessor is the external charge and transfer API.
type PaymentProcessor interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

// CachedBalance is a balance derived from every entry up to Offset.
type CachedBalance struct {
	Balance int64 `json:"balance"`
	Offset  int64 `json:"offset"`
}

// BalanceCache stores derived balances keyed by ledger account.
type BalanceCache interface {
	Get(ctx context.Context, key domain.AccountKey) (CachedBalance, bool, error)
	// Set stores value unless a value with a higher offset is already cached.
	Set(ctx context.Context, key domain.AccountKey, value CachedBalance) error
	Delete(ctx context.Context, keys ...domain.AccountKey) error
}

// Locker provides named, expiring mutual exclusion across instances.
type Locker interface {
	// Acquire returns ok=false when the lock is held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, bool, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// NotificationGuard deduplicates processor notifications by ID.
type NotificationGuard interface {
	// CheckAndMark reports whether id was already seen, marking it otherwise.
	CheckAndMark(ctx context.Context, id string) (bool, error)
	// Forget unmarks id so a failed delivery can be retried.
	Forget(ctx context.Context, id string) error
}
