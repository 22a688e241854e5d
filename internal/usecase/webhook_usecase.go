package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

// WebhookUseCase dispatches processor notifications. Every notification may
// be delivered more than once; the guard drops replays cheaply and the order
// and payout paths stay idempotent for anything that slips through.
type WebhookUseCase struct {
	guard   NotificationGuard
	orders  *OrderUseCase
	payouts *PayoutUseCase
	metrics Metrics
	logger  zerolog.Logger
}

// NewWebhookUseCase creates a new WebhookUseCase.
func NewWebhookUseCase(guard NotificationGuard, orders *OrderUseCase, payouts *PayoutUseCase, metrics Metrics, logger zerolog.Logger) *WebhookUseCase {
	return &WebhookUseCase{
		guard:   guard,
		orders:  orders,
		payouts: payouts,
		metrics: metrics,
		logger:  logger.With().Str("component", "webhooks").Logger(),
	}
}

// HandleNotification applies one processor notification. Duplicates are
// no-ops. A notification that fails to apply is unmarked so the processor's
// redelivery is processed again.
func (uc *WebhookUseCase) HandleNotification(ctx context.Context, n *domain.ProcessorNotification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	logger := uc.logger.With().
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Str("reference", n.Reference).
		Logger()

	seen, err := uc.guard.CheckAndMark(ctx, n.ID)
	if err != nil {
		// The database constraints still make the replay harmless.
		logger.Warn().Err(err).Msg("notification dedupe unavailable")
		seen = false
	}

	uc.metrics.NotificationReceived(n.Type, seen)

	if seen {
		logger.Debug().Msg("duplicate notification ignored")
		return nil
	}

	if err := uc.dispatch(ctx, n); err != nil {
		if forgetErr := uc.guard.Forget(ctx, n.ID); forgetErr != nil {
			logger.Warn().Err(forgetErr).Msg("failed to unmark notification")
		}
		return err
	}

	logger.Info().Msg("notification applied")

	return nil
}

func (uc *WebhookUseCase) dispatch(ctx context.Context, n *domain.ProcessorNotification) error {
	switch n.Type {
	case domain.NotificationPaymentSucceeded:
		_, err := uc.orders.CompletePayment(ctx, PaymentSucceededInput{
			PaymentReference: n.Reference,
			OrderID:          n.OrderID,
		})
		return err

	case domain.NotificationPaymentFailed:
		_, err := uc.orders.FailPayment(ctx, PaymentFailedInput{
			PaymentReference: n.Reference,
			OrderID:          n.OrderID,
			Reason:           n.FailureReason,
		})
		return err

	case domain.NotificationTransferCompleted, domain.NotificationTransferFailed:
		_, err := uc.payouts.ApplyTransferOutcome(ctx, domain.TransferOutcome{
			Reference:  n.Reference,
			Succeeded:  n.Type == domain.NotificationTransferCompleted,
			Rejected:   n.Type == domain.NotificationTransferFailed,
			ExternalID: n.ExternalID,
			Reason:     n.FailureReason,
		})
		return err
	}

	return fmt.Errorf("%w: %q", domain.ErrUnknownNotification, n.Type)
}
