package domain

import "time"

// DisputeStatus is the dispute state machine value.
type DisputeStatus string

const (
	DisputeStatusOpen       DisputeStatus = "open"
	DisputeStatusInProgress DisputeStatus = "in_progress"
	DisputeStatusResolved   DisputeStatus = "resolved"
	DisputeStatusClosed     DisputeStatus = "closed"
)

// CanTransitionTo reports whether s may move to next.
func (s DisputeStatus) CanTransitionTo(next DisputeStatus) bool {
	switch s {
	case DisputeStatusOpen:
		return next == DisputeStatusInProgress || next == DisputeStatusClosed
	case DisputeStatusInProgress:
		return next == DisputeStatusResolved || next == DisputeStatusClosed
	}

	return false
}

// IsActive reports whether the dispute still holds the seller's earnings.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusInProgress
}

// DisputePriority only changes on escalation; it never affects money.
type DisputePriority string

const (
	DisputePriorityNormal    DisputePriority = "normal"
	DisputePriorityEscalated DisputePriority = "escalated"
)

// Dispute is a buyer/seller conflict over one completed order.
type Dispute struct {
	ID               string
	OrderID          string
	OpenedBy         string
	Reason           string
	Status           DisputeStatus
	Priority         DisputePriority
	RefundAmount     int64
	ResolutionReason string
	ResponseDeadline time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResolvedAt       *time.Time
	ClosedAt         *time.Time
	EscalatedAt      *time.Time
}

func (d *Dispute) transition(next DisputeStatus, at time.Time) error {
	if !d.Status.CanTransitionTo(next) {
		return &IllegalTransitionError{Entity: "dispute", From: string(d.Status), To: string(next)}
	}

	d.Status = next
	d.UpdatedAt = at

	return nil
}

// StartReview moves an open dispute into review.
func (d *Dispute) StartReview(at time.Time) error {
	return d.transition(DisputeStatusInProgress, at)
}

// Resolve records the refund decision. A dispute must be under review first.
func (d *Dispute) Resolve(refund int64, reason string, at time.Time) error {
	if err := d.transition(DisputeStatusResolved, at); err != nil {
		return err
	}

	d.RefundAmount = refund
	d.ResolutionReason = reason
	d.ResolvedAt = &at

	return nil
}

// Close ends the dispute without any refund.
func (d *Dispute) Close(reason string, at time.Time) error {
	if err := d.transition(DisputeStatusClosed, at); err != nil {
		return err
	}

	d.ResolutionReason = reason
	d.ClosedAt = &at

	return nil
}

// Escalate raises priority once the response deadline has passed. It reports
// whether anything changed.
func (d *Dispute) Escalate(at time.Time) bool {
	if !d.Status.IsActive() || d.Priority == DisputePriorityEscalated || at.Before(d.ResponseDeadline) {
		return false
	}

	d.Priority = DisputePriorityEscalated
	d.EscalatedAt = &at
	d.UpdatedAt = at

	return true
}
