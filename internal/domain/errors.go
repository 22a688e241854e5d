package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the settlement core wraps exactly one of these.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrUnbalancedEntrySet     = errors.New("unbalanced entry set")
	ErrExternalProcessor      = errors.New("external processor error")
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
)

var (
	// Listing errors
	ErrListingNotFound    = fmt.Errorf("%w: listing", ErrNotFound)
	ErrListingUnavailable = fmt.Errorf("%w: listing unavailable", ErrConflict)
	ErrCreditsNotAccepted = fmt.Errorf("%w: listing does not accept credits", ErrValidation)

	// Order errors
	ErrOrderNotFound         = fmt.Errorf("%w: order", ErrNotFound)
	ErrOrderNotCompleted     = fmt.Errorf("%w: order is not completed", ErrConflict)
	ErrSelfPurchase          = fmt.Errorf("%w: buyer cannot purchase own listing", ErrValidation)
	ErrInvalidPaymentMethod  = fmt.Errorf("%w: invalid payment method", ErrValidation)
	ErrDuplicatePaymentRef   = fmt.Errorf("%w: payment reference already used", ErrConflict)
	ErrPaymentRefUnknown     = fmt.Errorf("%w: payment reference", ErrNotFound)
	ErrPaymentMethodMismatch = fmt.Errorf("%w: order is not paid with money", ErrConflict)

	// Ledger errors
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrSameParty       = fmt.Errorf("%w: entry moves funds to the same party", ErrValidation)
	ErrInvalidParty    = fmt.Errorf("%w: invalid party", ErrValidation)
	ErrEmptyEntrySet   = fmt.Errorf("%w: entry set is empty", ErrValidation)
	ErrInvalidEntry    = fmt.Errorf("%w: invalid ledger entry", ErrValidation)
	ErrAccountFrozen   = fmt.Errorf("%w: ledger account frozen pending audit", ErrReconciliationMismatch)
	ErrAccountNotFound = fmt.Errorf("%w: ledger account", ErrNotFound)

	// License errors
	ErrLicenseNotFound = fmt.Errorf("%w: license", ErrNotFound)

	// Dispute errors
	ErrDisputeNotFound   = fmt.Errorf("%w: dispute", ErrNotFound)
	ErrDisputeExists     = fmt.Errorf("%w: order already has a dispute", ErrConflict)
	ErrRefundTooLarge    = fmt.Errorf("%w: refund exceeds order gross amount", ErrValidation)
	ErrPayoutInFlight    = fmt.Errorf("%w: seller payout in flight, retry after the batch settles", ErrConflict)
	ErrDisputeNotAllowed = fmt.Errorf("%w: only the buyer or seller may open a dispute", ErrValidation)

	// Payout errors
	ErrBatchNotFound     = fmt.Errorf("%w: payout batch", ErrNotFound)
	ErrLineNotFound      = fmt.Errorf("%w: payout line", ErrNotFound)
	ErrBatchInProgress   = fmt.Errorf("%w: payout batch already running for method", ErrConflict)
	ErrProfileNotFound   = fmt.Errorf("%w: seller payout profile", ErrNotFound)
	ErrInvalidPayoutInfo = fmt.Errorf("%w: invalid payout profile", ErrValidation)

	// Notification errors
	ErrInvalidSignature    = fmt.Errorf("%w: invalid notification signature", ErrValidation)
	ErrUnknownNotification = fmt.Errorf("%w: unknown notification type", ErrValidation)
)

// UnbalancedEntrySetError reports an entry set whose clearing sum for an order is not zero.
// It can only be produced by a programming error.
type UnbalancedEntrySetError struct {
	OrderID      string
	Denomination Denomination
	Imbalance    int64
}

func (e *UnbalancedEntrySetError) Error() string {
	return fmt.Sprintf("unbalanced entry set: order %s %s off by %d", e.OrderID, e.Denomination, e.Imbalance)
}

// Is makes errors.Is(err, ErrUnbalancedEntrySet) match.
func (e *UnbalancedEntrySetError) Is(target error) bool {
	return target == ErrUnbalancedEntrySet
}

// ReconciliationMismatchError reports a cached balance that disagrees with ledger replay.
type ReconciliationMismatchError struct {
	Party        string
	Denomination Denomination
	Cached       int64
	Replayed     int64
}

func (e *ReconciliationMismatchError) Error() string {
	return fmt.Sprintf("reconciliation mismatch for %s/%s: cached=%d replayed=%d",
		e.Party, e.Denomination, e.Cached, e.Replayed)
}

// Is makes errors.Is(err, ErrReconciliationMismatch) match.
func (e *ReconciliationMismatchError) Is(target error) bool {
	return target == ErrReconciliationMismatch
}

// IllegalTransitionError is returned when a state machine move is not allowed.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrConflict
}

// ExternalProcessorError wraps a failure reported by (or while reaching) the payment processor.
type ExternalProcessorError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ExternalProcessorError) Error() string {
	return fmt.Sprintf("processor %s: %v", e.Op, e.Err)
}

func (e *ExternalProcessorError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExternalProcessor) match.
func (e *ExternalProcessorError) Is(target error) bool {
	return target == ErrExternalProcessor
}
