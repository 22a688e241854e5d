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

// OrderUseCase turns purchase requests into completed orders, ledger entries
// and licenses.
type OrderUseCase struct {
	tx          txRunner
	orderRepo   OrderRepository
	listingRepo ListingRepository
	licenseRepo LicenseRepository
	outboxRepo  OutboxRepository
	ledger      *LedgerUseCase
	balances    *BalanceUseCase
	processor   PaymentProcessor
	outbox      outboxWriter
	audit       auditWriter
	idGen       IDGenerator
	clock       Clock
	settings    Settings
	metrics     Metrics
	logger      zerolog.Logger
}

// OrderUseCaseParams configure the order use case.
type OrderUseCaseParams struct {
	TxManager   TransactionManager
	OrderRepo   OrderRepository
	ListingRepo ListingRepository
	LicenseRepo LicenseRepository
	OutboxRepo  OutboxRepository
	AuditRepo   AuditRepository
	Ledger      *LedgerUseCase
	Balances    *BalanceUseCase
	Processor   PaymentProcessor
	IDGen       IDGenerator
	Clock       Clock
	Settings    Settings
	Metrics     Metrics
	Logger      zerolog.Logger
}

// NewOrderUseCase creates a new OrderUseCase.
func NewOrderUseCase(p OrderUseCaseParams) *OrderUseCase {
	return &OrderUseCase{
		tx:          newTxRunner(p.TxManager),
		orderRepo:   p.OrderRepo,
		listingRepo: p.ListingRepo,
		licenseRepo: p.LicenseRepo,
		outboxRepo:  p.OutboxRepo,
		ledger:      p.Ledger,
		balances:    p.Balances,
		processor:   p.Processor,
		outbox:      outboxWriter{repo: p.OutboxRepo, idGen: p.IDGen, clock: p.Clock},
		audit:       auditWriter{repo: p.AuditRepo, idGen: p.IDGen, clock: p.Clock},
		idGen:       p.IDGen,
		clock:       p.Clock,
		settings:    p.Settings,
		metrics:     p.Metrics,
		logger:      p.Logger.With().Str("component", "orders").Logger(),
	}
}

// WithRetrier sets the retrier used for order transactions.
func (uc *OrderUseCase) WithRetrier(r Retrier) *OrderUseCase {
	uc.tx.retrier = r
	return uc
}

// CreateOrderInput represents input for creating an order.
type CreateOrderInput struct {
	BuyerID       string
	ListingID     string
	PaymentMethod domain.PaymentMethod
}

// CreateOrder validates a purchase against the listing and either settles it
// immediately (credits) or charges the buyer and leaves it pending until the
// processor confirms payment (money). Availability is reserved in both cases
// before any money moves.
func (uc *OrderUseCase) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if err := domain.ValidatePartyID(input.BuyerID); err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.ListingID) == "" {
		return nil, fmt.Errorf("%w: listing id is required", domain.ErrValidation)
	}

	if !input.PaymentMethod.IsValid() {
		return nil, domain.ErrInvalidPaymentMethod
	}

	if input.PaymentMethod == domain.PaymentMethodMoney {
		frozen, err := uc.balances.IsFrozen(ctx, input.BuyerID)
		if err != nil {
			return nil, err
		}
		if frozen {
			return nil, domain.ErrAccountFrozen
		}
	}

	var order *domain.Order

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		listing, err := uc.listingRepo.GetByIDForUpdate(ctx, tx, input.ListingID)
		if err != nil {
			return err
		}

		if listing.SellerID == input.BuyerID {
			return domain.ErrSelfPurchase
		}

		if input.PaymentMethod == domain.PaymentMethodCredits && listing.PriceCredits <= 0 {
			return domain.ErrCreditsNotAccepted
		}

		now := uc.clock.Now()

		if err := listing.Reserve(now); err != nil {
			return err
		}

		if listing.IsLimited() {
			if err := uc.listingRepo.Update(ctx, tx, listing); err != nil {
				return err
			}
		}

		rate := uc.settings.DefaultCommissionRate
		if listing.CommissionRate != nil {
			rate = *listing.CommissionRate
		}

		order = domain.NewOrderFromListing(uc.idGen.Generate(), input.BuyerID, listing, input.PaymentMethod, rate, now)

		if err := uc.orderRepo.Create(ctx, tx, order); err != nil {
			return err
		}

		if err := uc.audit.write(ctx, tx, input.BuyerID, domain.AuditActionOrderCreate, domain.AggregateTypeOrder, order.ID, nil, order); err != nil {
			return err
		}

		if input.PaymentMethod == domain.PaymentMethodCredits {
			return uc.completeTx(ctx, tx, order, listing, false)
		}

		return nil
	})
	if err != nil {
		if input.PaymentMethod == domain.PaymentMethodCredits && errors.Is(err, domain.ErrInsufficientBalance) {
			uc.metrics.OrderFinished(input.PaymentMethod, domain.OrderStatusFailed)
		}
		return nil, err
	}

	if order.Status == domain.OrderStatusCompleted {
		uc.afterCompletion(ctx, order)
		return order, nil
	}

	return uc.charge(ctx, order)
}

// charge asks the processor for the buyer's money outside any transaction and
// attaches the payment reference. A synchronous failure fails the order and
// releases the reservation.
func (uc *OrderUseCase) charge(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	result, err := uc.processor.Charge(ctx, ChargeRequest{
		OrderID:        order.ID,
		BuyerRef:       order.BuyerID,
		Amount:         order.Amounts.Money.Gross,
		Currency:       order.Currency,
		IdempotencyKey: order.ID,
	})
	if err != nil {
		uc.logger.Warn().Err(err).Str("order_id", order.ID).Msg("charge failed")

		if _, _, failErr := uc.failOrder(ctx, uc.byID(order.ID), "charge failed: "+err.Error()); failErr != nil {
			uc.logger.Error().Err(failErr).Str("order_id", order.ID).Msg("failed to fail order after charge error")
		}

		var procErr *domain.ExternalProcessorError
		if errors.As(err, &procErr) {
			return nil, err
		}

		return nil, &domain.ExternalProcessorError{Op: "charge", Err: err}
	}

	var updated *domain.Order

	err = uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		current, err := uc.orderRepo.GetByIDForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		// A fast webhook may already have attached the reference.
		if current.PaymentReference == nil {
			ref := result.PaymentReference
			current.PaymentReference = &ref

			if err := uc.orderRepo.Update(ctx, tx, current); err != nil {
				return err
			}
		}

		updated = current

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("attach payment reference: %w", err)
	}

	return updated, nil
}

// PaymentSucceededInput identifies a captured payment.
type PaymentSucceededInput struct {
	PaymentReference string
	// OrderID lets a notification that races the charge response find its order.
	OrderID string
}

// CompletePayment completes the pending money order a payment belongs to. It
// is idempotent: replays for a completed order are no-ops, and payment for an
// order that already failed is recorded as orphaned for manual refund.
func (uc *OrderUseCase) CompletePayment(ctx context.Context, input PaymentSucceededInput) (*domain.Order, error) {
	if strings.TrimSpace(input.PaymentReference) == "" {
		return nil, fmt.Errorf("%w: payment reference is required", domain.ErrValidation)
	}

	var (
		order     *domain.Order
		completed bool
	)

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		completed = false

		var err error
		order, err = uc.findPaymentOrder(ctx, tx, input)
		if err != nil {
			return err
		}

		if order.PaymentMethod != domain.PaymentMethodMoney {
			return domain.ErrPaymentMethodMismatch
		}

		switch order.Status {
		case domain.OrderStatusCompleted:
			return nil
		case domain.OrderStatusFailed:
			return uc.recordOrphanTx(ctx, tx, order, input.PaymentReference)
		}

		listing, err := uc.listingRepo.GetByIDForUpdate(ctx, tx, order.ListingID)
		if err != nil {
			return err
		}

		if err := uc.completeTx(ctx, tx, order, listing, true); err != nil {
			return err
		}

		completed = true

		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed {
		uc.afterCompletion(ctx, order)
	}

	return order, nil
}

func (uc *OrderUseCase) findPaymentOrder(ctx context.Context, tx Transaction, input PaymentSucceededInput) (*domain.Order, error) {
	order, err := uc.orderRepo.GetByPaymentReferenceForUpdate(ctx, tx, input.PaymentReference)
	switch {
	case err == nil:
		return order, nil
	case !errors.Is(err, domain.ErrOrderNotFound):
		return nil, err
	case input.OrderID == "":
		return nil, domain.ErrPaymentRefUnknown
	}

	order, err = uc.orderRepo.GetByIDForUpdate(ctx, tx, input.OrderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentReference != nil {
		return nil, fmt.Errorf("%w: order %s was charged under %s", domain.ErrDuplicatePaymentRef, order.ID, *order.PaymentReference)
	}

	ref := input.PaymentReference
	order.PaymentReference = &ref

	if err := uc.orderRepo.Update(ctx, tx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// completeTx completes a pending order: state change, balanced entries,
// license and events all commit together.
func (uc *OrderUseCase) completeTx(ctx context.Context, tx Transaction, order *domain.Order, listing *domain.Listing, settled bool) error {
	before := *order
	now := uc.clock.Now()

	if err := order.Complete(now); err != nil {
		return err
	}

	if err := uc.orderRepo.Update(ctx, tx, order); err != nil {
		return err
	}

	if _, err := uc.ledger.RecordTx(ctx, tx, RecordInput{Entries: domain.PurchaseEntries(order), Settled: settled}); err != nil {
		return err
	}

	license := domain.NewLicense(uc.idGen.Generate(), domain.NewLicenseKey(uc.idGen.Generate()), order, listing.Terms, now)
	if err := uc.licenseRepo.Create(ctx, tx, license); err != nil {
		return err
	}

	split := order.Charged()

	if err := uc.outbox.write(ctx, tx, domain.AggregateTypeOrder, order.ID, domain.EventTypeOrderCompleted, domain.OrderEvent{
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		ListingID:     order.ListingID,
		PaymentMethod: string(order.PaymentMethod),
		Gross:         split.Gross,
		Commission:    split.Commission,
		Net:           split.Net,
		EventAt:       now.Format(time.RFC3339),
	}); err != nil {
		return err
	}

	if err := uc.outbox.write(ctx, tx, domain.AggregateTypeOrder, order.ID, domain.EventTypeLicenseIssued, domain.LicenseIssuedEvent{
		LicenseID: license.ID,
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		ListingID: order.ListingID,
	}); err != nil {
		return err
	}

	return uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionOrderComplete, domain.AggregateTypeOrder, order.ID, before, order)
}

func (uc *OrderUseCase) afterCompletion(ctx context.Context, order *domain.Order) {
	uc.metrics.OrderFinished(order.PaymentMethod, order.Status)
	uc.balances.Refresh(ctx, order.PaymentMethod.Denomination(), order.BuyerID, order.SellerID)

	uc.logger.Info().
		Str("order_id", order.ID).
		Str("payment_method", string(order.PaymentMethod)).
		Int64("gross", order.Charged().Gross).
		Msg("order completed")
}

// recordOrphanTx notes a payment that arrived for a failed order. The event is
// written once per order.
func (uc *OrderUseCase) recordOrphanTx(ctx context.Context, tx Transaction, order *domain.Order, ref string) error {
	if uc.outboxRepo != nil {
		events, err := uc.outboxRepo.GetByAggregate(ctx, domain.AggregateTypeOrder, order.ID, 100, 0)
		if err != nil {
			return err
		}

		for _, e := range events {
			if e.EventType == domain.EventTypePaymentOrphaned {
				return nil
			}
		}
	}

	uc.logger.Warn().
		Str("order_id", order.ID).
		Str("payment_reference", ref).
		Msg("payment succeeded for failed order, manual refund required")

	return uc.outbox.write(ctx, tx, domain.AggregateTypeOrder, order.ID, domain.EventTypePaymentOrphaned, domain.PaymentOrphanedEvent{
		OrderID:          order.ID,
		PaymentReference: ref,
		Amount:           order.Amounts.Money.Gross,
		Currency:         order.Currency,
	})
}

// PaymentFailedInput identifies a declined payment.
type PaymentFailedInput struct {
	PaymentReference string
	OrderID          string
	Reason           string
}

// FailPayment fails the pending order a declined payment belongs to and
// releases its reservation. Terminal orders are left untouched.
func (uc *OrderUseCase) FailPayment(ctx context.Context, input PaymentFailedInput) (*domain.Order, error) {
	if input.PaymentReference == "" && input.OrderID == "" {
		return nil, fmt.Errorf("%w: payment reference or order id is required", domain.ErrValidation)
	}

	reason := input.Reason
	if reason == "" {
		reason = "payment failed"
	}

	order, _, err := uc.failOrder(ctx, func(ctx context.Context, tx Transaction) (*domain.Order, error) {
		if input.PaymentReference == "" {
			return uc.orderRepo.GetByIDForUpdate(ctx, tx, input.OrderID)
		}

		order, err := uc.orderRepo.GetByPaymentReferenceForUpdate(ctx, tx, input.PaymentReference)
		switch {
		case err == nil:
			return order, nil
		case !errors.Is(err, domain.ErrOrderNotFound):
			return nil, err
		case input.OrderID == "":
			return nil, domain.ErrPaymentRefUnknown
		}

		return uc.orderRepo.GetByIDForUpdate(ctx, tx, input.OrderID)
	}, reason)

	return order, err
}

type orderLocator func(ctx context.Context, tx Transaction) (*domain.Order, error)

func (uc *OrderUseCase) byID(orderID string) orderLocator {
	return func(ctx context.Context, tx Transaction) (*domain.Order, error) {
		return uc.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
	}
}

// failOrder moves a pending order to failed and returns the reserved
// availability to the listing. It reports whether the order changed.
func (uc *OrderUseCase) failOrder(ctx context.Context, locate orderLocator, reason string) (*domain.Order, bool, error) {
	var (
		order  *domain.Order
		failed bool
	)

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		failed = false

		var err error
		order, err = locate(ctx, tx)
		if err != nil {
			return err
		}

		if order.Status != domain.OrderStatusPending {
			return nil
		}

		before := *order
		now := uc.clock.Now()

		if err := order.Fail(now, reason); err != nil {
			return err
		}

		if err := uc.orderRepo.Update(ctx, tx, order); err != nil {
			return err
		}

		listing, err := uc.listingRepo.GetByIDForUpdate(ctx, tx, order.ListingID)
		if err != nil {
			return err
		}

		if listing.IsLimited() {
			listing.Release(now)
			if err := uc.listingRepo.Update(ctx, tx, listing); err != nil {
				return err
			}
		}

		split := order.Charged()

		if err := uc.outbox.write(ctx, tx, domain.AggregateTypeOrder, order.ID, domain.EventTypeOrderFailed, domain.OrderEvent{
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			SellerID:      order.SellerID,
			ListingID:     order.ListingID,
			PaymentMethod: string(order.PaymentMethod),
			Gross:         split.Gross,
			Commission:    split.Commission,
			Net:           split.Net,
			Reason:        reason,
			EventAt:       now.Format(time.RFC3339),
		}); err != nil {
			return err
		}

		if err := uc.audit.write(ctx, tx, domain.ActorSystem, domain.AuditActionOrderFail, domain.AggregateTypeOrder, order.ID, before, order); err != nil {
			return err
		}

		failed = true

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if failed {
		uc.metrics.OrderFinished(order.PaymentMethod, order.Status)
		uc.logger.Info().Str("order_id", order.ID).Str("reason", reason).Msg("order failed")
	}

	return order, failed, nil
}

// ExpirePendingOrders fails money orders whose payment never arrived within
// the pending window. It returns how many orders were expired.
func (uc *OrderUseCase) ExpirePendingOrders(ctx context.Context) (int, error) {
	cutoff := uc.clock.Now().Add(-uc.settings.PendingOrderTTL)

	orders, err := uc.orderRepo.ListExpiredPending(ctx, cutoff, uc.settings.JobBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0

	for _, o := range orders {
		_, changed, err := uc.failOrder(ctx, uc.byID(o.ID), "payment window expired")
		if err != nil {
			uc.logger.Error().Err(err).Str("order_id", o.ID).Msg("failed to expire pending order")
			continue
		}

		if changed {
			expired++
		}
	}

	return expired, nil
}

// GetOrder retrieves an order by ID.
func (uc *OrderUseCase) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return uc.orderRepo.GetByID(ctx, id)
}

// GetLicense returns the license issued for an order.
func (uc *OrderUseCase) GetLicense(ctx context.Context, orderID string) (*domain.DigitalLicense, error) {
	return uc.licenseRepo.GetByOrderID(ctx, orderID)
}

// VerifyLicense looks a license up by its redeemable key.
func (uc *OrderUseCase) VerifyLicense(ctx context.Context, key string) (*domain.DigitalLicense, error) {
	key = domain.NormalizeLicenseKey(key)
	if key == "" {
		return nil, fmt.Errorf("%w: license key is required", domain.ErrValidation)
	}

	return uc.licenseRepo.GetByKey(ctx, key)
}
