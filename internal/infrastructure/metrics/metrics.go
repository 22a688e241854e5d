package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iho/settlement/internal/domain"
)

// Metrics holds all Prometheus metrics and implements usecase.Metrics.
type Metrics struct {
	// Ledger metrics
	LedgerCommits          prometheus.Counter
	LedgerEntries          prometheus.Counter
	UnbalancedSets         prometheus.Counter
	ReconciliationMismatch prometheus.Counter

	// Settlement metrics
	Orders      *prometheus.CounterVec
	Disputes    *prometheus.CounterVec
	PayoutLines *prometheus.CounterVec
	Batches     *prometheus.CounterVec
	Webhooks    *prometheus.CounterVec

	// Background job metrics
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	OutboxLag   prometheus.Gauge

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Ledger metrics
		LedgerCommits: f.NewCounter(prometheus.CounterOpts{
			Name: "settlement_ledger_commits_total",
			Help: "Total number of committed ledger entry sets",
		}),
		LedgerEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "settlement_ledger_entries_total",
			Help: "Total number of ledger entries written",
		}),
		UnbalancedSets: f.NewCounter(prometheus.CounterOpts{
			Name: "settlement_unbalanced_entry_sets_total",
			Help: "Entry sets rejected because an order's clearing sum was not zero",
		}),
		ReconciliationMismatch: f.NewCounter(prometheus.CounterOpts{
			Name: "settlement_reconciliation_mismatches_total",
			Help: "Cached balances that disagreed with ledger replay",
		}),

		// Settlement metrics
		Orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_orders_total",
				Help: "Orders reaching a terminal status",
			},
			[]string{"payment_method", "status"},
		),
		Disputes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_disputes_total",
				Help: "Disputes reaching a terminal status",
			},
			[]string{"status"},
		),
		PayoutLines: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_payout_lines_total",
				Help: "Payout lines reaching a terminal status",
			},
			[]string{"status"},
		),
		Batches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_payout_batches_total",
				Help: "Payout batches reaching a terminal status",
			},
			[]string{"status"},
		),
		Webhooks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_webhook_notifications_total",
				Help: "Processor notifications received",
			},
			[]string{"type", "duplicate"},
		),

		// Background job metrics
		JobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_job_runs_total",
				Help: "Scheduled job runs by outcome",
			},
			[]string{"job", "outcome"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_job_duration_seconds",
				Help:    "Scheduled job duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		OutboxLag: f.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_outbox_unpublished",
			Help: "Unpublished outbox events seen by the last relay poll",
		}),

		// API metrics
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "settlement_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Rate limiting metrics
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlement_rate_limit_hits_total",
				Help: "Total rate limit hits",
			},
			[]string{"ip"},
		),
	}
}

func (m *Metrics) LedgerCommitted(entries int) {
	m.LedgerCommits.Inc()
	m.LedgerEntries.Add(float64(entries))
}

func (m *Metrics) UnbalancedEntrySet() {
	m.UnbalancedSets.Inc()
}

func (m *Metrics) ReconciliationMismatch() {
	m.ReconciliationMismatch.Inc()
}

func (m *Metrics) OrderFinished(method domain.PaymentMethod, status domain.OrderStatus) {
	m.Orders.WithLabelValues(string(method), string(status)).Inc()
}

func (m *Metrics) DisputeFinished(status domain.DisputeStatus) {
	m.Disputes.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) PayoutLineFinished(status domain.PayoutLineStatus) {
	m.PayoutLines.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) PayoutBatchFinished(status domain.PayoutBatchStatus) {
	m.Batches.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) NotificationReceived(kind domain.NotificationType, duplicate bool) {
	m.Webhooks.WithLabelValues(string(kind), strconv.FormatBool(duplicate)).Inc()
}

// ObserveJob records one scheduled job run.
func (m *Metrics) ObserveJob(job string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}

	m.JobRuns.WithLabelValues(job, outcome).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}
