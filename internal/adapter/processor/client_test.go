package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:       srv.URL + "/",
		APIKey:        "secret",
		Timeout:       time.Second,
		ChargeRetries: 2,
		Logger:        zerolog.Nop(),
	})
	c.initialDelay = time.Millisecond

	return c
}

func TestChargeSendsIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "order-1", r.Header.Get("Idempotency-Key"))

		var body chargeBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1000), body.Amount)

		_ = json.NewEncoder(w).Encode(chargeReply{PaymentReference: "pay_1"})
	})

	res, err := c.Charge(context.Background(), usecase.ChargeRequest{
		OrderID:        "order-1",
		BuyerRef:       "buyer",
		Amount:         1000,
		Currency:       "USD",
		IdempotencyKey: "order-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "pay_1", res.PaymentReference)
}

func TestChargeRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(chargeReply{PaymentReference: "pay_2"})
	})

	res, err := c.Charge(context.Background(), usecase.ChargeRequest{OrderID: "o", IdempotencyKey: "o"})

	require.NoError(t, err)
	assert.Equal(t, "pay_2", res.PaymentReference)
	assert.Equal(t, int32(2), calls.Load())
}

func TestChargeDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "card declined", http.StatusPaymentRequired)
	})

	_, err := c.Charge(context.Background(), usecase.ChargeRequest{OrderID: "o", IdempotencyKey: "o"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalProcessor)

	var procErr *domain.ExternalProcessorError
	require.True(t, errors.As(err, &procErr))
	assert.False(t, procErr.Retryable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransferMapsStatuses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "line-1", r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(transferReply{ExternalID: "tr_9", Status: "failed", Reason: "closed account"})
	})

	res, err := c.Transfer(context.Background(), usecase.TransferRequest{Reference: "line-1", Amount: 500})

	require.NoError(t, err)
	assert.Equal(t, "line-1", res.Reference)
	assert.Equal(t, usecase.TransferStatusFailed, res.Status)
	assert.Equal(t, "closed account", res.Reason)
}

func TestTransferServerErrorIsRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Transfer(context.Background(), usecase.TransferRequest{Reference: "line-1"})

	var procErr *domain.ExternalProcessorError
	require.True(t, errors.As(err, &procErr))
	assert.True(t, procErr.Retryable)
	assert.Equal(t, "transfer", procErr.Op)
}

func TestTransferUnknownStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(transferReply{Status: "weird"})
	})

	_, err := c.Transfer(context.Background(), usecase.TransferRequest{Reference: "line-1"})

	assert.ErrorIs(t, err, domain.ErrExternalProcessor)
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) Generate() string {
	return string(rune('a' + s.n.Add(1)))
}

func TestSandboxConfirmsCharges(t *testing.T) {
	got := make(chan *domain.ProcessorNotification, 1)

	sb := NewSandbox(&seqIDs{}, usecase.SystemClock{}, func(_ context.Context, n *domain.ProcessorNotification) error {
		got <- n
		return nil
	}, time.Millisecond, zerolog.Nop())

	res, err := sb.Charge(context.Background(), usecase.ChargeRequest{OrderID: "order-1"})
	require.NoError(t, err)

	select {
	case n := <-got:
		assert.Equal(t, domain.NotificationPaymentSucceeded, n.Type)
		assert.Equal(t, res.PaymentReference, n.Reference)
		assert.Equal(t, "order-1", n.OrderID)
	case <-time.After(time.Second):
		t.Fatal("sandbox never confirmed the charge")
	}

	tr, err := sb.Transfer(context.Background(), usecase.TransferRequest{Reference: "line-1"})
	require.NoError(t, err)
	assert.Equal(t, usecase.TransferStatusCompleted, tr.Status)
}
