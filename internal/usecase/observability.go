package usecase

import "github.com/iho/settlement/internal/domain"

// Metrics receives settlement counters. The Prometheus implementation lives in
// infrastructure/metrics.
type Metrics interface {
	LedgerCommitted(entries int)
	UnbalancedEntrySet()
	ReconciliationMismatch()
	OrderFinished(method domain.PaymentMethod, status domain.OrderStatus)
	DisputeFinished(status domain.DisputeStatus)
	PayoutLineFinished(status domain.PayoutLineStatus)
	PayoutBatchFinished(status domain.PayoutBatchStatus)
	NotificationReceived(kind domain.NotificationType, duplicate bool)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) LedgerCommitted(int) {}
func (NopMetrics) UnbalancedEntrySet() {}
func (NopMetrics) ReconciliationMismatch() {}
func (NopMetrics) OrderFinished(domain.PaymentMethod, domain.OrderStatus) {}
func (NopMetrics) DisputeFinished(domain.DisputeStatus) {}
func (NopMetrics) PayoutLineFinished(domain.PayoutLineStatus) {}
func (NopMetrics) PayoutBatchFinished(domain.PayoutBatchStatus) {}
func (NopMetrics) NotificationReceived(domain.NotificationType, bool) {}
