package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

// DisputeUseCase mediates buyer/seller conflicts over completed orders.
type DisputeUseCase struct {
	tx          txRunner
	disputeRepo DisputeRepository
	orderRepo   OrderRepository
	licenseRepo LicenseRepository
	payoutRepo  PayoutRepository
	ledger      *LedgerUseCase
	balances    *BalanceUseCase
	outbox      outboxWriter
	audit       auditWriter
	idGen       IDGenerator
	clock       Clock
	settings    Settings
	metrics     Metrics
	logger      zerolog.Logger
}

// DisputeUseCaseParams configure the dispute use case.
type DisputeUseCaseParams struct {
	TxManager   TransactionManager
	DisputeRepo DisputeRepository
	OrderRepo   OrderRepository
	LicenseRepo LicenseRepository
	PayoutRepo  PayoutRepository
	OutboxRepo  OutboxRepository
	AuditRepo   AuditRepository
	Ledger      *LedgerUseCase
	Balances    *BalanceUseCase
	IDGen       IDGenerator
	Clock       Clock
	Settings    Settings
	Metrics     Metrics
	Logger      zerolog.Logger
}

// NewDisputeUseCase creates a new DisputeUseCase.
func NewDisputeUseCase(p DisputeUseCaseParams) *DisputeUseCase {
	return &DisputeUseCase{
		tx:          newTxRunner(p.TxManager),
		disputeRepo: p.DisputeRepo,
		orderRepo:   p.OrderRepo,
		licenseRepo: p.LicenseRepo,
		payoutRepo:  p.PayoutRepo,
		ledger:      p.Ledger,
		balances:    p.Balances,
		outbox:      outboxWriter{repo: p.OutboxRepo, idGen: p.IDGen, clock: p.Clock},
		audit:       auditWriter{repo: p.AuditRepo, idGen: p.IDGen, clock: p.Clock},
		idGen:       p.IDGen,
		clock:       p.Clock,
		settings:    p.Settings,
		metrics:     p.Metrics,
		logger:      p.Logger.With().Str("component", "disputes").Logger(),
	}
}

// WithRetrier sets the retrier used for dispute transactions.
func (uc *DisputeUseCase) WithRetrier(r Retrier) *DisputeUseCase {
	uc.tx.retrier = r
	return uc
}

// OpenDisputeInput represents input for opening a dispute.
type OpenDisputeInput struct {
	OrderID  string
	OpenedBy string
	Reason   string
}

// OpenDispute opens the single dispute an order may have. Only the buyer or
// the seller of a completed order can open it.
func (uc *DisputeUseCase) OpenDispute(ctx context.Context, input OpenDisputeInput) (*domain.Dispute, error) {
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}

	if err := domain.ValidatePartyID(input.OpenedBy); err != nil {
		return nil, err
	}

	if err := domain.ValidateReason(input.Reason); err != nil {
		return nil, err
	}

	var dispute *domain.Dispute

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		order, err := uc.orderRepo.GetByIDForUpdate(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}

		if order.Status != domain.OrderStatusCompleted {
			return domain.ErrOrderNotCompleted
		}

		if !order.IsParticipant(input.OpenedBy) {
			return domain.ErrDisputeNotAllowed
		}

		now := uc.clock.Now()
		dispute = &domain.Dispute{
			ID:               uc.idGen.Generate(),
			OrderID:          order.ID,
			OpenedBy:         input.OpenedBy,
			Reason:           input.Reason,
			Status:           domain.DisputeStatusOpen,
			Priority:         domain.DisputePriorityNormal,
			ResponseDeadline: now.Add(uc.settings.DisputeResponseWindow),
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := uc.disputeRepo.Create(ctx, tx, dispute); err != nil {
			return err
		}

		if err := uc.outbox.write(ctx, tx, domain.AggregateTypeDispute, dispute.ID, domain.EventTypeDisputeOpened, domain.DisputeEvent{
			DisputeID: dispute.ID,
			OrderID:   order.ID,
			Status:    string(dispute.Status),
			Reason:    dispute.Reason,
		}); err != nil {
			return err
		}

		return uc.audit.write(ctx, tx, input.OpenedBy, domain.AuditActionDisputeOpen, domain.AggregateTypeDispute, dispute.ID, nil, dispute)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info().
		Str("dispute_id", dispute.ID).
		Str("order_id", dispute.OrderID).
		Str("opened_by", dispute.OpenedBy).
		Msg("dispute opened")

	return dispute, nil
}

// StartReview moves an open dispute into review.
func (uc *DisputeUseCase) StartReview(ctx context.Context, disputeID, actor string) (*domain.Dispute, error) {
	return uc.transition(ctx, disputeID, actor, domain.AuditActionDisputeReview, func(d *domain.Dispute) error {
		return d.StartReview(uc.clock.Now())
	})
}

// CloseDispute ends a dispute without moving any money.
func (uc *DisputeUseCase) CloseDispute(ctx context.Context, disputeID, reason, actor string) (*domain.Dispute, error) {
	if err := domain.ValidateReason(reason); err != nil {
		return nil, err
	}

	dispute, err := uc.transition(ctx, disputeID, actor, domain.AuditActionDisputeClose, func(d *domain.Dispute) error {
		return d.Close(reason, uc.clock.Now())
	})
	if err != nil {
		return nil, err
	}

	uc.metrics.DisputeFinished(dispute.Status)

	return dispute, nil
}

func (uc *DisputeUseCase) transition(ctx context.Context, disputeID, actor string, action domain.AuditAction, apply func(*domain.Dispute) error) (*domain.Dispute, error) {
	var dispute *domain.Dispute

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		var err error
		dispute, err = uc.disputeRepo.GetByIDForUpdate(ctx, tx, disputeID)
		if err != nil {
			return err
		}

		before := *dispute

		if err := apply(dispute); err != nil {
			return err
		}

		if err := uc.disputeRepo.Update(ctx, tx, dispute); err != nil {
			return err
		}

		if dispute.Status == domain.DisputeStatusClosed {
			if err := uc.outbox.write(ctx, tx, domain.AggregateTypeDispute, dispute.ID, domain.EventTypeDisputeClosed, domain.DisputeEvent{
				DisputeID: dispute.ID,
				OrderID:   dispute.OrderID,
				Status:    string(dispute.Status),
				Reason:    dispute.ResolutionReason,
			}); err != nil {
				return err
			}
		}

		return uc.audit.write(ctx, tx, actor, action, domain.AggregateTypeDispute, dispute.ID, before, dispute)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info().
		Str("dispute_id", dispute.ID).
		Str("status", string(dispute.Status)).
		Msg("dispute updated")

	return dispute, nil
}

// ResolveDisputeInput represents input for resolving a dispute.
type ResolveDisputeInput struct {
	DisputeID    string
	RefundAmount int64
	Reason       string
	Actor        string
}

// ResolveDispute resolves a dispute with a refund of at most the order's gross
// amount. The refund is recorded as reversing entries split in the order's
// original commission ratio; a zero refund resolves without entries. An open
// dispute is moved through review first. For credits orders the seller returns
// at most the credits still held and platform revenue covers the rest.
func (uc *DisputeUseCase) ResolveDispute(ctx context.Context, input ResolveDisputeInput) (*domain.Dispute, error) {
	if input.RefundAmount < 0 {
		return nil, fmt.Errorf("%w: refund amount cannot be negative", domain.ErrValidation)
	}

	if err := domain.ValidateReason(input.Reason); err != nil {
		return nil, err
	}

	var (
		dispute   *domain.Dispute
		order     *domain.Order
		shortfall int64
	)

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		var err error
		dispute, err = uc.disputeRepo.GetByIDForUpdate(ctx, tx, input.DisputeID)
		if err != nil {
			return err
		}

		order, err = uc.orderRepo.GetByIDForUpdate(ctx, tx, dispute.OrderID)
		if err != nil {
			return err
		}

		charged := order.Charged()
		if input.RefundAmount > charged.Gross {
			return fmt.Errorf("%w: %d > %d", domain.ErrRefundTooLarge, input.RefundAmount, charged.Gross)
		}

		if input.RefundAmount > 0 && order.PaymentMethod == domain.PaymentMethodMoney {
			inFlight, err := uc.payoutRepo.HasInFlightLine(ctx, tx, order.SellerID)
			if err != nil {
				return err
			}
			if inFlight {
				return domain.ErrPayoutInFlight
			}
		}

		before := *dispute
		now := uc.clock.Now()

		if dispute.Status == domain.DisputeStatusOpen {
			if err := dispute.StartReview(now); err != nil {
				return err
			}
		}

		if err := dispute.Resolve(input.RefundAmount, input.Reason, now); err != nil {
			return err
		}

		if err := uc.disputeRepo.Update(ctx, tx, dispute); err != nil {
			return err
		}

		refund := domain.ProportionalRefund(charged, input.RefundAmount)

		shortfall = 0
		if order.PaymentMethod == domain.PaymentMethodCredits && refund.Net > 0 {
			held, err := uc.ledger.BalanceForUpdateTx(ctx, tx, domain.AccountKey{Party: order.SellerID, Denomination: domain.DenominationCredits})
			if err != nil {
				return err
			}
			refund, shortfall = domain.CoverCreditShortfall(refund, held)
		}

		entries := domain.RefundEntries(order, dispute.ID, refund)
		if shortfall > 0 {
			entries = append(entries, domain.ShortfallEntry(order, dispute.ID, shortfall))
		}

		if len(entries) > 0 {
			if _, err := uc.ledger.RecordTx(ctx, tx, RecordInput{Entries: entries, Settled: true}); err != nil {
				return err
			}
		}

		if shortfall > 0 {
			if err := uc.outbox.write(ctx, tx, domain.AggregateTypeDispute, dispute.ID, domain.EventTypeDisputeShortfall, map[string]any{
				"order_id":  order.ID,
				"seller_id": order.SellerID,
				"shortfall": shortfall,
			}); err != nil {
				return err
			}
		}

		if refund.Gross == charged.Gross && refund.Gross > 0 {
			if err := uc.revokeLicense(ctx, tx, order.ID, now); err != nil {
				return err
			}
		}

		if err := uc.outbox.write(ctx, tx, domain.AggregateTypeDispute, dispute.ID, domain.EventTypeDisputeResolved, domain.DisputeEvent{
			DisputeID:    dispute.ID,
			OrderID:      order.ID,
			Status:       string(dispute.Status),
			RefundAmount: dispute.RefundAmount,
			Reason:       dispute.ResolutionReason,
		}); err != nil {
			return err
		}

		return uc.audit.write(ctx, tx, input.Actor, domain.AuditActionDisputeResolve, domain.AggregateTypeDispute, dispute.ID, before, dispute)
	})
	if err != nil {
		return nil, err
	}

	uc.metrics.DisputeFinished(dispute.Status)

	if input.RefundAmount > 0 {
		if err := uc.balances.Invalidate(ctx, order.BuyerID, order.SellerID); err != nil {
			uc.logger.Warn().Err(err).Str("dispute_id", dispute.ID).Msg("failed to invalidate balances after refund")
		}
	}

	if shortfall > 0 {
		uc.logger.Warn().
			Str("dispute_id", dispute.ID).
			Str("seller_id", order.SellerID).
			Int64("shortfall", shortfall).
			Msg("seller already spent refunded credits, platform covered the difference")
	}

	uc.logger.Info().
		Str("dispute_id", dispute.ID).
		Str("order_id", order.ID).
		Int64("refund", dispute.RefundAmount).
		Msg("dispute resolved")

	return dispute, nil
}

func (uc *DisputeUseCase) revokeLicense(ctx context.Context, tx Transaction, orderID string, at time.Time) error {
	license, err := uc.licenseRepo.GetByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrLicenseNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !license.IsValid() {
		return nil
	}

	return uc.licenseRepo.Revoke(ctx, tx, license.ID, at)
}

// EscalateOverdue raises the priority of active disputes past their response
// deadline. Status and money are untouched.
func (uc *DisputeUseCase) EscalateOverdue(ctx context.Context) (int, error) {
	overdue, err := uc.disputeRepo.ListOverdue(ctx, uc.clock.Now(), uc.settings.JobBatchSize)
	if err != nil {
		return 0, err
	}

	escalated := 0

	for _, d := range overdue {
		changed := false

		err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
			changed = false

			dispute, err := uc.disputeRepo.GetByIDForUpdate(ctx, tx, d.ID)
			if err != nil {
				return err
			}

			before := *dispute
			if !dispute.Escalate(uc.clock.Now()) {
				return nil
			}

			if err := uc.disputeRepo.Update(ctx, tx, dispute); err != nil {
				return err
			}

			changed = true

			return uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionDisputeEscalate, domain.AggregateTypeDispute, dispute.ID, before, dispute)
		})
		if err != nil {
			uc.logger.Error().Err(err).Str("dispute_id", d.ID).Msg("failed to escalate dispute")
			continue
		}

		if changed {
			escalated++
			uc.logger.Warn().Str("dispute_id", d.ID).Str("order_id", d.OrderID).Msg("dispute escalated")
		}
	}

	return escalated, nil
}

// GetDispute retrieves a dispute by ID.
func (uc *DisputeUseCase) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	return uc.disputeRepo.GetByID(ctx, id)
}

// GetDisputeByOrder retrieves the dispute opened for an order.
func (uc *DisputeUseCase) GetDisputeByOrder(ctx context.Context, orderID string) (*domain.Dispute, error) {
	return uc.disputeRepo.GetByOrderID(ctx, orderID)
}
