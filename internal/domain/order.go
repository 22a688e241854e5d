package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how the buyer pays for an order.
type PaymentMethod string

const (
	PaymentMethodMoney   PaymentMethod = "money"
	PaymentMethodCredits PaymentMethod = "credits"
)

// IsValid reports whether m is a known payment method.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodMoney || m == PaymentMethodCredits
}

// Denomination returns the ledger denomination the buyer is charged in.
func (m PaymentMethod) Denomination() Denomination {
	if m == PaymentMethodCredits {
		return DenominationCredits
	}

	return DenominationMoney
}

// OrderStatus is the order state machine value.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// CanTransitionTo reports whether s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && (next == OrderStatusCompleted || next == OrderStatusFailed)
}

// IsTerminal reports whether s accepts no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// OrderAmounts holds the sale split in both denominations.
type OrderAmounts struct {
	Money   Split
	Credits Split
}

// In returns the split for d.
func (a OrderAmounts) In(d Denomination) Split {
	if d == DenominationCredits {
		return a.Credits
	}

	return a.Money
}

// Order is one buyer/seller/listing transaction.
type Order struct {
	ID               string
	BuyerID          string
	SellerID         string
	ListingID        string
	PaymentMethod    PaymentMethod
	Currency         string
	CommissionRate   decimal.Decimal
	Amounts          OrderAmounts
	Status           OrderStatus
	PaymentReference *string
	FailureReason    string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	FailedAt         *time.Time
}

// Charged returns the split in the denomination the buyer actually pays.
func (o *Order) Charged() Split {
	return o.Amounts.In(o.PaymentMethod.Denomination())
}

// Complete moves a pending order to completed.
func (o *Order) Complete(at time.Time) error {
	if !o.Status.CanTransitionTo(OrderStatusCompleted) {
		return &IllegalTransitionError{Entity: "order", From: string(o.Status), To: string(OrderStatusCompleted)}
	}

	o.Status = OrderStatusCompleted
	o.CompletedAt = &at

	return nil
}

// Fail moves a pending order to failed.
func (o *Order) Fail(at time.Time, reason string) error {
	if !o.Status.CanTransitionTo(OrderStatusFailed) {
		return &IllegalTransitionError{Entity: "order", From: string(o.Status), To: string(OrderStatusFailed)}
	}

	o.Status = OrderStatusFailed
	o.FailedAt = &at
	o.FailureReason = reason

	return nil
}

// IsParticipant reports whether userID is the buyer or the seller.
func (o *Order) IsParticipant(userID string) bool {
	return userID == o.BuyerID || userID == o.SellerID
}

// NewOrderFromListing builds a pending order snapshotting the listing's price
// and the commission rate in force.
func NewOrderFromListing(id, buyerID string, listing *Listing, method PaymentMethod, rate decimal.Decimal, at time.Time) *Order {
	return &Order{
		ID:             id,
		BuyerID:        buyerID,
		SellerID:       listing.SellerID,
		ListingID:      listing.ID,
		PaymentMethod:  method,
		Currency:       listing.Currency,
		CommissionRate: rate,
		Amounts: OrderAmounts{
			Money:   SplitAmount(listing.PriceMinor, rate),
			Credits: SplitAmount(listing.PriceCredits, rate),
		},
		Status:    OrderStatusPending,
		CreatedAt: at,
	}
}
