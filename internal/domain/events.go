package domain

import "time"

// Event types
const (
	EventTypeOrderCompleted     = "order.completed"
	EventTypeOrderFailed        = "order.failed"
	EventTypeLicenseIssued      = "license.issued"
	EventTypeDisputeOpened      = "dispute.opened"
	EventTypeDisputeResolved    = "dispute.resolved"
	EventTypeDisputeClosed      = "dispute.closed"
	EventTypeDisputeShortfall   = "dispute.credit_shortfall_covered"
	EventTypePayoutBatchFinish  = "payout.batch.finished"
	EventTypePaymentOrphaned    = "payment.orphaned"
	EventTypeReconcileMismatch  = "balance.reconciliation_mismatch"
	EventTypeCreditsGranted     = "credits.granted"
	EventTypePayoutLateComplete = "payout.line.late_completed"
)

// Aggregate types
const (
	AggregateTypeOrder       = "order"
	AggregateTypeDispute     = "dispute"
	AggregateTypePayoutBatch = "payout_batch"
	AggregateTypeUser        = "user"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// OrderEvent payload for order.completed and order.failed.
type OrderEvent struct {
	OrderID       string `json:"order_id"`
	BuyerID       string `json:"buyer_id"`
	SellerID      string `json:"seller_id"`
	ListingID     string `json:"listing_id"`
	PaymentMethod string `json:"payment_method"`
	Gross         int64  `json:"gross"`
	Commission    int64  `json:"commission"`
	Net           int64  `json:"net"`
	Reason        string `json:"reason,omitempty"`
	EventAt       string `json:"event_at"`
}

// LicenseIssuedEvent payload
type LicenseIssuedEvent struct {
	LicenseID string `json:"license_id"`
	OrderID   string `json:"order_id"`
	BuyerID   string `json:"buyer_id"`
	ListingID string `json:"listing_id"`
}

// DisputeEvent payload for dispute lifecycle events.
type DisputeEvent struct {
	DisputeID    string `json:"dispute_id"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	RefundAmount int64  `json:"refund_amount"`
	Reason       string `json:"reason,omitempty"`
}

// PayoutBatchFinishedEvent payload
type PayoutBatchFinishedEvent struct {
	BatchID     string `json:"batch_id"`
	Method      string `json:"method"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	Lines       int    `json:"lines"`
}

// PaymentOrphanedEvent is raised when money arrives for an order that can no
// longer be completed and must be refunded by an operator.
type PaymentOrphanedEvent struct {
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// ToPayload converts an event struct to the outbox payload map.
func ToPayload(v any) map[string]any {
	return map[string]any(MarshalState(v))
}
