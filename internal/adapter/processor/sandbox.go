package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// NotifyFunc receives the webhooks a sandbox would have sent.
type NotifyFunc func(ctx context.Context, n *domain.ProcessorNotification) error

// Sandbox is an in-process processor for local runs. Charges succeed and are
// confirmed through Notify after Delay; transfers complete synchronously.
type Sandbox struct {
	idGen  usecase.IDGenerator
	clock  usecase.Clock
	notify NotifyFunc
	delay  time.Duration
	logger zerolog.Logger
}

// NewSandbox creates a new Sandbox. notify may be nil, in which case charges
// stay pending until a webhook is posted by hand.
func NewSandbox(idGen usecase.IDGenerator, clock usecase.Clock, notify NotifyFunc, delay time.Duration, logger zerolog.Logger) *Sandbox {
	return &Sandbox{
		idGen:  idGen,
		clock:  clock,
		notify: notify,
		delay:  delay,
		logger: logger.With().Str("component", "processor_sandbox").Logger(),
	}
}

// Charge returns a fresh payment reference and schedules its success webhook.
func (s *Sandbox) Charge(_ context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
	ref := "pay_" + s.idGen.Generate()

	if s.notify != nil {
		n := &domain.ProcessorNotification{
			ID:        "evt_" + s.idGen.Generate(),
			Type:      domain.NotificationPaymentSucceeded,
			Reference: ref,
			OrderID:   req.OrderID,
		}

		go func() {
			time.Sleep(s.delay)
			n.OccurredAt = s.clock.Now()

			if err := s.notify(context.Background(), n); err != nil {
				s.logger.Error().Err(err).Str("order_id", req.OrderID).Msg("sandbox payment webhook failed")
			}
		}()
	}

	return usecase.ChargeResult{PaymentReference: ref}, nil
}

// Transfer completes immediately.
func (s *Sandbox) Transfer(_ context.Context, req usecase.TransferRequest) (usecase.TransferResult, error) {
	return usecase.TransferResult{
		Reference:  req.Reference,
		ExternalID: "tr_" + s.idGen.Generate(),
		Status:     usecase.TransferStatusCompleted,
	}, nil
}
