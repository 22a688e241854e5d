package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/adapter/http/handler"
	"github.com/iho/settlement/internal/adapter/http/middleware"
	"github.com/iho/settlement/internal/app"
	"github.com/iho/settlement/internal/infrastructure/metrics"
	"github.com/iho/settlement/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Services      *app.Services
	HealthHandler *handler.HealthHandler
	Logger        zerolog.Logger

	// Optional
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	Gatherer         prometheus.Gatherer
	WebhookSecret    string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	s := cfg.Services

	orders := handler.NewOrderHandler(s.Orders, s.Ledger)
	disputes := handler.NewDisputeHandler(s.Disputes)
	users := handler.NewUserHandler(s.Balances, s.Ledger, s.Credits, s.Reconciliation)
	catalog := handler.NewCatalogHandler(s.Catalog)
	payouts := handler.NewPayoutHandler(s.Payouts, s.Balances)
	ledger := handler.NewLedgerHandler(s.Ledger)
	webhooks := handler.NewWebhookHandler(s.Webhooks)

	health := cfg.HealthHandler
	if health == nil {
		health = handler.NewHealthHandler(nil)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery)

	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", health.Liveness)
	r.Get("/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Processor notifications are deduplicated by notification ID, not
		// by Idempotency-Key.
		r.With(middleware.VerifySignature(cfg.WebhookSecret)).Post("/webhooks/processor", webhooks.Processor)

		r.Group(func(r chi.Router) {
			// Idempotency middleware for mutating requests
			if cfg.IdempotencyStore != nil {
				idempotency := middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL)
				r.Use(idempotency.Wrap)
			}

			// Orders
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", orders.Create)
				r.Get("/{id}", orders.Get)
				r.Get("/{id}/entries", orders.Entries)
				r.Get("/{id}/license", orders.License)
				r.Post("/{id}/disputes", disputes.Open)
			})

			r.Get("/licenses/{key}", orders.VerifyLicense)

			// Disputes
			r.Route("/disputes", func(r chi.Router) {
				r.Get("/{id}", disputes.Get)
				r.Post("/{id}/review", disputes.Review)
				r.Post("/{id}/resolve", disputes.Resolve)
				r.Post("/{id}/close", disputes.Close)
			})

			// Users
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/balances/{denomination}", users.Balance)
				r.Get("/entries", users.Entries)
				r.Post("/credits", users.GrantCredits)
				r.Post("/reconcile", users.Reconcile)
				r.Post("/unfreeze", users.Unfreeze)
			})

			// Catalog
			r.Put("/listings/{id}", catalog.Upsert)
			r.Get("/listings/{id}", catalog.Get)

			// Sellers and payouts
			r.Route("/sellers/{id}", func(r chi.Router) {
				r.Put("/payout-profile", payouts.UpsertProfile)
				r.Get("/payout-profile", payouts.GetProfile)
				r.Get("/payout-eligibility", payouts.Eligibility)
			})

			r.Post("/payouts/batches", payouts.RunBatch)
			r.Get("/payouts/batches/{id}", payouts.GetBatch)

			r.Get("/ledger/consistency", ledger.Consistency)
		})
	})

	return r
}
