package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationType is the kind of asynchronous processor notification.
type NotificationType string

const (
	NotificationPaymentSucceeded  NotificationType = "payment.succeeded"
	NotificationPaymentFailed     NotificationType = "payment.failed"
	NotificationTransferCompleted NotificationType = "transfer.completed"
	NotificationTransferFailed    NotificationType = "transfer.failed"
)

// IsPayment reports whether the notification concerns a buyer charge.
func (t NotificationType) IsPayment() bool {
	return t == NotificationPaymentSucceeded || t == NotificationPaymentFailed
}

// IsTransfer reports whether the notification concerns a seller payout.
func (t NotificationType) IsTransfer() bool {
	return t == NotificationTransferCompleted || t == NotificationTransferFailed
}

// ProcessorNotification is a webhook delivered by the payment processor. Every
// notification may be redelivered; Reference is globally unique per payment
// or transfer.
type ProcessorNotification struct {
	ID            string           `json:"id"`
	Type          NotificationType `json:"type"`
	Reference     string           `json:"reference"`
	OrderID       string           `json:"order_id,omitempty"`
	ExternalID    string           `json:"external_id,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// Validate checks the envelope before it is dispatched.
func (n *ProcessorNotification) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}

	if !n.Type.IsPayment() && !n.Type.IsTransfer() {
		return fmt.Errorf("%w: %q", ErrUnknownNotification, n.Type)
	}

	if strings.TrimSpace(n.Reference) == "" {
		return fmt.Errorf("%w: notification reference is required", ErrValidation)
	}

	return nil
}

// TransferOutcome is the result of one payout transfer attempt or notification.
// Rejected is set only when the rail definitively refused the transfer; a
// failure without it (timeouts, transport errors) leaves the outcome unknown.
type TransferOutcome struct {
	Reference  string
	Succeeded  bool
	Rejected   bool
	ExternalID string
	Reason     string
}
