// Package processor talks to the external payment processor: buyer charges
// and seller payout transfers.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/infrastructure/logger"
	"github.com/iho/settlement/internal/usecase"
)

const maxErrorBody = 4 << 10

// Client implements usecase.PaymentProcessor against the processor's JSON API.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	chargeTries  uint64
	initialDelay time.Duration
	logger       zerolog.Logger
}

// Config configures the processor client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// ChargeRetries bounds the retries of a charge on transient failures. The
	// idempotency key makes retried charges safe.
	ChargeRetries uint64
	Logger        zerolog.Logger
}

// NewClient creates a new Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		http:         &http.Client{Timeout: cfg.Timeout},
		chargeTries:  cfg.ChargeRetries,
		initialDelay: 100 * time.Millisecond,
		logger:       cfg.Logger.With().Str("component", "processor_client").Logger(),
	}
}

type chargeBody struct {
	OrderID  string `json:"order_id"`
	Customer string `json:"customer"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type chargeReply struct {
	PaymentReference string `json:"payment_reference"`
}

type transferBody struct {
	Reference   string `json:"reference"`
	Seller      string `json:"seller"`
	Destination string `json:"destination"`
	Method      string `json:"method"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type transferReply struct {
	Reference  string `json:"reference"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
}

// Charge asks the processor to charge the buyer. The outcome arrives later as
// a payment webhook.
func (c *Client) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
	body := chargeBody{
		OrderID:  req.OrderID,
		Customer: req.BuyerRef,
		Amount:   req.Amount,
		Currency: req.Currency,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialDelay

	var reply chargeReply

	err := backoff.Retry(func() error {
		err := c.do(ctx, "charge", "/v1/charges", req.IdempotencyKey, body, &reply)
		if err == nil {
			return nil
		}

		var procErr *domain.ExternalProcessorError
		if errors.As(err, &procErr) && procErr.Retryable {
			logger.FromContext(ctx, c.logger).Warn().Err(err).Str("order_id", req.OrderID).Msg("charge failed, retrying")
			return err
		}

		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.chargeTries), ctx))
	if err != nil {
		return usecase.ChargeResult{}, err
	}

	if reply.PaymentReference == "" {
		return usecase.ChargeResult{}, &domain.ExternalProcessorError{
			Op:  "charge",
			Err: errors.New("reply carries no payment reference"),
		}
	}

	return usecase.ChargeResult{PaymentReference: reply.PaymentReference}, nil
}

// Transfer submits one payout. The caller owns retries; each call is a single
// attempt keyed by the line reference.
func (c *Client) Transfer(ctx context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
	body := transferBody{
		Reference:   req.Reference,
		Seller:      req.SellerRef,
		Destination: req.Destination,
		Method:      req.Method,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}

	var reply transferReply
	if err := c.do(ctx, "transfer", "/v1/transfers", req.Reference, body, &reply); err != nil {
		return usecase.TransferResult{}, err
	}

	switch reply.Status {
	case usecase.TransferStatusCompleted, usecase.TransferStatusFailed, usecase.TransferStatusPending:
	default:
		return usecase.TransferResult{}, &domain.ExternalProcessorError{
			Op:        "transfer",
			Retryable: true,
			Err:       fmt.Errorf("unknown transfer status %q", reply.Status),
		}
	}

	if reply.Reference == "" {
		reply.Reference = req.Reference
	}

	return usecase.TransferResult{
		Reference:  reply.Reference,
		ExternalID: reply.ExternalID,
		Status:     reply.Status,
		Reason:     reply.Reason,
	}, nil
}

func (c *Client) do(ctx context.Context, op, path, idempotencyKey string, payload, out any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures and timeouts leave the outcome unknown; the
		// idempotency key makes another attempt safe.
		return &domain.ExternalProcessorError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.ExternalProcessorError{
			Op:        op,
			Retryable: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ExternalProcessorError{Op: op, Err: fmt.Errorf("decode reply: %w", err)}
	}

	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusConflict || code >= 500
}
