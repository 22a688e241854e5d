package domain

import (
	"strings"
	"time"
)

// PayoutBatchStatus is the batch state machine value.
type PayoutBatchStatus string

const (
	PayoutBatchPending    PayoutBatchStatus = "pending"
	PayoutBatchProcessing PayoutBatchStatus = "processing"
	PayoutBatchCompleted  PayoutBatchStatus = "completed"
	PayoutBatchFailed     PayoutBatchStatus = "failed"
	PayoutBatchPartial    PayoutBatchStatus = "partial"
)

// IsTerminal reports whether the batch has finished.
func (s PayoutBatchStatus) IsTerminal() bool {
	return s == PayoutBatchCompleted || s == PayoutBatchFailed || s == PayoutBatchPartial
}

// PayoutLineStatus is the per-seller line state machine value.
type PayoutLineStatus string

const (
	PayoutLinePending    PayoutLineStatus = "pending"
	PayoutLineProcessing PayoutLineStatus = "processing"
	PayoutLineCompleted  PayoutLineStatus = "completed"
	PayoutLineFailed     PayoutLineStatus = "failed"
)

// IsInFlight reports whether money for the line may still be moving.
func (s PayoutLineStatus) IsInFlight() bool {
	return s == PayoutLinePending || s == PayoutLineProcessing
}

// IsTerminal reports whether the line has an outcome.
func (s PayoutLineStatus) IsTerminal() bool {
	return s == PayoutLineCompleted || s == PayoutLineFailed
}

// PayoutBatch groups one payout run for a single payout method.
type PayoutBatch struct {
	ID          string
	Method      string
	Currency    string
	Status      PayoutBatchStatus
	TotalAmount int64
	LineCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Lines       []*PayoutLine
}

// Start moves a pending batch to processing.
func (b *PayoutBatch) Start(at time.Time) error {
	if b.Status != PayoutBatchPending {
		return &IllegalTransitionError{Entity: "payout_batch", From: string(b.Status), To: string(PayoutBatchProcessing)}
	}

	b.Status = PayoutBatchProcessing
	b.StartedAt = &at
	b.UpdatedAt = at

	return nil
}

// Finish derives the terminal status from line outcomes. It returns false
// while any line is still in flight.
func (b *PayoutBatch) Finish(lines []*PayoutLine, at time.Time) bool {
	status, done := DeriveBatchStatus(lines)
	if !done {
		return false
	}

	b.Status = status
	b.FinishedAt = &at
	b.UpdatedAt = at

	return true
}

// DeriveBatchStatus maps line outcomes onto a batch status: all completed is
// completed, none completed is failed, anything in between is partial.
func DeriveBatchStatus(lines []*PayoutLine) (PayoutBatchStatus, bool) {
	var completed, failed int

	for _, l := range lines {
		switch l.Status {
		case PayoutLineCompleted:
			completed++
		case PayoutLineFailed:
			failed++
		default:
			return PayoutBatchProcessing, false
		}
	}

	switch {
	case failed == 0:
		return PayoutBatchCompleted, true
	case completed == 0:
		return PayoutBatchFailed, true
	default:
		return PayoutBatchPartial, true
	}
}

// PayoutLine is one seller's transfer inside a batch.
type PayoutLine struct {
	ID                string
	BatchID           string
	SellerID          string
	Amount            int64
	Currency          string
	Destination       string
	TransferReference string
	Status            PayoutLineStatus
	Attempts          int
	FailureReason     string
	// OutcomeUnknown marks a failed line whose transfer may still have been
	// paid: the rail never answered definitively.
	OutcomeUnknown    bool
	ExternalID        string
	EntryID           *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SubmittedAt       *time.Time
	CompletedAt       *time.Time
	FailedAt          *time.Time
}

// MarkProcessing records that the line has been handed to the rail.
func (l *PayoutLine) MarkProcessing(at time.Time) error {
	if l.Status != PayoutLinePending && l.Status != PayoutLineProcessing {
		return &IllegalTransitionError{Entity: "payout_line", From: string(l.Status), To: string(PayoutLineProcessing)}
	}

	l.Status = PayoutLineProcessing
	l.SubmittedAt = &at
	l.UpdatedAt = at

	return nil
}

// Complete marks the line completed. A line failed by timeout may still
// complete when the rail later confirms the money left.
func (l *PayoutLine) Complete(externalID string, at time.Time) error {
	if l.Status == PayoutLineCompleted {
		return &IllegalTransitionError{Entity: "payout_line", From: string(l.Status), To: string(PayoutLineCompleted)}
	}

	l.Status = PayoutLineCompleted
	l.OutcomeUnknown = false
	l.ExternalID = externalID
	l.CompletedAt = &at
	l.UpdatedAt = at

	return nil
}

// Fail marks an in-flight line failed. Unless the rail rejected the transfer,
// the outcome stays unknown and the line must be resubmitted under the same
// reference before the seller can be paid again.
func (l *PayoutLine) Fail(reason string, rejected bool, at time.Time) error {
	if !l.Status.IsInFlight() {
		return &IllegalTransitionError{Entity: "payout_line", From: string(l.Status), To: string(PayoutLineFailed)}
	}

	l.Status = PayoutLineFailed
	l.OutcomeUnknown = !rejected
	l.FailureReason = reason
	l.FailedAt = &at
	l.UpdatedAt = at

	return nil
}

// IsUnconfirmed reports whether the line failed without a definitive answer
// from the rail.
func (l *PayoutLine) IsUnconfirmed() bool {
	return l.Status == PayoutLineFailed && l.OutcomeUnknown
}

// Reopen puts an unconfirmed line back to pending so it can be resubmitted.
// Reference and amount stay as they were so the rail can deduplicate.
func (l *PayoutLine) Reopen(at time.Time) error {
	if !l.IsUnconfirmed() {
		return &IllegalTransitionError{Entity: "payout_line", From: string(l.Status), To: string(PayoutLinePending)}
	}

	l.Status = PayoutLinePending
	l.FailedAt = nil
	l.UpdatedAt = at

	return nil
}

// ConfirmRejected records that the rail definitively rejected an unconfirmed
// line, which frees the seller for a fresh transfer.
func (l *PayoutLine) ConfirmRejected(reason string, at time.Time) bool {
	if !l.IsUnconfirmed() {
		return false
	}

	l.OutcomeUnknown = false
	if reason != "" {
		l.FailureReason = reason
	}
	l.UpdatedAt = at

	return true
}

// TransferReference derives the processor idempotency key for a line.
func TransferReference(batchID, sellerID string) string {
	return "po_" + batchID + "_" + sellerID
}

// SellerPayoutProfile tells the batcher how and where to pay a seller.
type SellerPayoutProfile struct {
	SellerID    string
	Method      string
	Destination string
	Currency    string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks a profile before it is stored.
func (p *SellerPayoutProfile) Validate() error {
	if !IsUserParty(p.SellerID) {
		return ErrInvalidParty
	}

	if strings.TrimSpace(p.Method) == "" || strings.TrimSpace(p.Destination) == "" {
		return ErrInvalidPayoutInfo
	}

	return ValidateCurrency(p.Currency)
}

// EligibleSeller is a seller whose payable balance cleared the minimum.
type EligibleSeller struct {
	Profile *SellerPayoutProfile
	Amount  int64
}
