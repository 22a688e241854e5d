package domain

import (
	"encoding/json"
	"time"
)

// AuditLog represents an audit trail entry for compliance and debugging
type AuditLog struct {
	ID           string
	Actor        string // Who performed the action (user id or "system")
	Action       AuditAction
	ResourceType string // order, dispute, payout_batch, payout_line, ledger_account
	ResourceID   string
	RequestID    string
	BeforeState  JSON // State before the action
	AfterState   JSON // State after the action
	Status       AuditStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	// Order actions
	AuditActionOrderCreate   AuditAction = "order.create"
	AuditActionOrderComplete AuditAction = "order.complete"
	AuditActionOrderFail     AuditAction = "order.fail"

	// Dispute actions
	AuditActionDisputeOpen     AuditAction = "dispute.open"
	AuditActionDisputeReview   AuditAction = "dispute.review"
	AuditActionDisputeResolve  AuditAction = "dispute.resolve"
	AuditActionDisputeClose    AuditAction = "dispute.close"
	AuditActionDisputeEscalate AuditAction = "dispute.escalate"

	// Payout actions
	AuditActionBatchCreate  AuditAction = "payout_batch.create"
	AuditActionBatchFinish  AuditAction = "payout_batch.finish"
	AuditActionLineComplete AuditAction = "payout_line.complete"
	AuditActionLineFail     AuditAction = "payout_line.fail"
	AuditActionLineReopen   AuditAction = "payout_line.reopen"

	// Ledger account actions
	AuditActionAccountFreeze   AuditAction = "ledger_account.freeze"
	AuditActionAccountUnfreeze AuditAction = "ledger_account.unfreeze"
	AuditActionCreditGrant     AuditAction = "credits.grant"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// ActorSystem marks transitions performed by background jobs.
const ActorSystem = "system"

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// AuditFilter defines filters for querying audit logs
type AuditFilter struct {
	Actor        string
	Action       AuditAction
	ResourceType string
	ResourceID   string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}
