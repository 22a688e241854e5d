package usecase

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// payoutLockPrefix names the per-method payout run lock.
	payoutLockPrefix = "payout:method:"

	// replayPageSize bounds a single entry page during balance catch-up.
	replayPageSize = 500
)

// Settings are the explicit settlement parameters handed to each component.
type Settings struct {
	DefaultCommissionRate decimal.Decimal
	Currency              string
	PayoutMinimum         int64
	SettlementDelay       time.Duration
	PayoutLockTTL         time.Duration
	LineTimeout           time.Duration
	LineMaxAttempts       int
	LineRetryInterval     time.Duration
	PayoutWorkers         int
	PendingOrderTTL       time.Duration
	DisputeResponseWindow time.Duration
	JobBatchSize          int
	OutboxRetention       time.Duration
}

// DefaultSettings returns conservative defaults used by tests and local runs.
func DefaultSettings() Settings {
	return Settings{
		DefaultCommissionRate: decimal.RequireFromString("0.15"),
		Currency:              "USD",
		PayoutMinimum:         1000,
		SettlementDelay:       7 * 24 * time.Hour,
		PayoutLockTTL:         10 * time.Minute,
		LineTimeout:           30 * time.Second,
		LineMaxAttempts:       3,
		LineRetryInterval:     500 * time.Millisecond,
		PayoutWorkers:         4,
		PendingOrderTTL:       30 * time.Minute,
		DisputeResponseWindow: 72 * time.Hour,
		JobBatchSize:          100,
		OutboxRetention:       7 * 24 * time.Hour,
	}
}
