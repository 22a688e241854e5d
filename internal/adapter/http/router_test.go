package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	apimiddleware "github.com/iho/settlement/internal/adapter/http/middleware"
	"github.com/iho/settlement/internal/adapter/repository/memory"
	"github.com/iho/settlement/internal/app"
	"github.com/iho/settlement/internal/infrastructure/metrics"
	"github.com/iho/settlement/internal/usecase"
	"github.com/iho/settlement/internal/usecase/mocks"
)

const testSecret = "whsec_test"

type testServer struct {
	t       *testing.T
	router  http.Handler
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts ...func(*RouterConfig)) *testServer {
	t.Helper()

	ctrl := gomock.NewController(t)
	processor := mocks.NewMockPaymentProcessor(ctrl)
	processor.EXPECT().
		Charge(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
			return usecase.ChargeResult{PaymentReference: "pay_" + req.OrderID}, nil
		}).
		AnyTimes()

	clock := mocks.NewMockClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	services := app.NewServices(app.Deps{
		Repos:     memory.New().Repositories(),
		Cache:     memory.NewBalanceCache(),
		Guard:     memory.NewNotificationGuard(),
		Locker:    memory.NewLocker(clock),
		Processor: processor,
		IDGen:     mocks.NewMockIDGenerator(),
		Clock:     clock,
		Settings:  usecase.DefaultSettings(),
		Logger:    zerolog.Nop(),
	})

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	cfg := RouterConfig{
		Services:         services,
		Logger:           zerolog.Nop(),
		IdempotencyStore: memory.NewIdempotencyStore(clock),
		Metrics:          m,
		Gatherer:         registry,
		WebhookSecret:    testSecret,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{t: t, router: NewRouter(cfg), metrics: m}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/ready", "").Code)
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.RateLimiter = apimiddleware.NewRateLimiter(1, 1)
	})

	first := s.do(http.MethodGet, "/health", "", "X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, http.StatusOK, first.Code)

	second := s.do(http.MethodGet, "/health", "", "X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	s := newTestServer(t)

	chiRoutes, ok := s.router.(chi.Routes)
	require.True(t, ok, "router does not implement chi.Routes")

	seen := map[string]bool{}
	require.NoError(t, chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}))

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /api/v1/orders/",
		"GET /api/v1/orders/{id}",
		"GET /api/v1/orders/{id}/entries",
		"GET /api/v1/orders/{id}/license",
		"POST /api/v1/orders/{id}/disputes",
		"GET /api/v1/licenses/{key}",
		"GET /api/v1/disputes/{id}",
		"POST /api/v1/disputes/{id}/review",
		"POST /api/v1/disputes/{id}/resolve",
		"POST /api/v1/disputes/{id}/close",
		"GET /api/v1/users/{id}/balances/{denomination}",
		"GET /api/v1/users/{id}/entries",
		"POST /api/v1/users/{id}/credits",
		"POST /api/v1/users/{id}/reconcile",
		"POST /api/v1/users/{id}/unfreeze",
		"PUT /api/v1/listings/{id}",
		"PUT /api/v1/sellers/{id}/payout-profile",
		"POST /api/v1/payouts/batches",
		"GET /api/v1/payouts/batches/{id}",
		"GET /api/v1/ledger/consistency",
		"POST /api/v1/webhooks/processor",
	}

	for _, route := range expected {
		assert.True(t, seen[route], "expected route %s to be registered", route)
	}
}

func TestNewRouter_MoneyOrderSettlesThroughWebhook(t *testing.T) {
	s := newTestServer(t)

	listing := s.do(http.MethodPut, "/api/v1/listings/listing-1",
		`{"seller_id":"seller-1","title":"Brushes","currency":"usd","price_minor":1000,"terms":{"usage":"personal","terms_version":"v1"}}`)
	require.Equal(t, http.StatusOK, listing.Code, listing.Body.String())

	created := s.do(http.MethodPost, "/api/v1/orders/",
		`{"buyer_id":"buyer-1","listing_id":"listing-1","payment_method":"money"}`)
	require.Equal(t, http.StatusAccepted, created.Code, created.Body.String())

	order := decode(t, created)
	orderID := order["id"].(string)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "pay_"+orderID, order["payment_reference"])

	notification := `{"id":"evt_1","type":"payment.succeeded","reference":"pay_` + orderID + `","occurred_at":"2026-03-02T12:00:01Z"}`
	signed := s.do(http.MethodPost, "/api/v1/webhooks/processor", notification,
		apimiddleware.SignatureHeader, apimiddleware.Sign([]byte(notification), testSecret))
	require.Equal(t, http.StatusOK, signed.Code, signed.Body.String())

	// Redelivery is acknowledged without applying the payment twice.
	redelivered := s.do(http.MethodPost, "/api/v1/webhooks/processor", notification,
		apimiddleware.SignatureHeader, apimiddleware.Sign([]byte(notification), testSecret))
	require.Equal(t, http.StatusOK, redelivered.Code)

	got := decode(t, s.do(http.MethodGet, "/api/v1/orders/"+orderID, ""))
	assert.Equal(t, "completed", got["status"])

	balance := decode(t, s.do(http.MethodGet, "/api/v1/users/seller-1/balances/money", ""))
	assert.Equal(t, float64(850), balance["amount"])

	license := s.do(http.MethodGet, "/api/v1/orders/"+orderID+"/license", "")
	assert.Equal(t, http.StatusOK, license.Code)

	consistency := s.do(http.MethodGet, "/api/v1/ledger/consistency", "")
	assert.Equal(t, http.StatusOK, consistency.Code)
}

func TestNewRouter_WebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/webhooks/processor", `{"id":"evt_1"}`,
		apimiddleware.SignatureHeader, "deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewRouter_IdempotentCreditGrantReplays(t *testing.T) {
	s := newTestServer(t)

	body := `{"amount":500,"actor":"admin-1"}`
	first := s.do(http.MethodPost, "/api/v1/users/buyer-1/credits", body, apimiddleware.IdempotencyKeyHeader, "grant-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(http.MethodPost, "/api/v1/users/buyer-1/credits", body, apimiddleware.IdempotencyKeyHeader, "grant-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replay"))

	balance := decode(t, s.do(http.MethodGet, "/api/v1/users/buyer-1/balances/credits", ""))
	assert.Equal(t, float64(500), balance["amount"])
}

func TestNewRouter_UnknownOrderIsNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/orders/missing", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRouter_EmptyPayoutRunReturnsNoContent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/payouts/batches", `{"method":"bank"}`)

	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestNewRouter_MetricsEndpointExposesRequests(t *testing.T) {
	s := newTestServer(t)

	s.do(http.MethodGet, "/health", "")
	rec := s.do(http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "settlement_http_requests_total")
}
