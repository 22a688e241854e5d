package dto

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// CreateOrderRequest represents a purchase request.
type CreateOrderRequest struct {
	BuyerID       string `json:"buyer_id"`
	ListingID     string `json:"listing_id"`
	PaymentMethod string `json:"payment_method"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateOrderRequest) ToUseCaseInput() usecase.CreateOrderInput {
	return usecase.CreateOrderInput{
		BuyerID:       r.BuyerID,
		ListingID:     r.ListingID,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(r.PaymentMethod)),
	}
}

// OpenDisputeRequest represents a request to dispute an order.
type OpenDisputeRequest struct {
	OpenedBy string `json:"opened_by"`
	Reason   string `json:"reason"`
}

// ToUseCaseInput converts to use case input.
func (r *OpenDisputeRequest) ToUseCaseInput(orderID string) usecase.OpenDisputeInput {
	return usecase.OpenDisputeInput{
		OrderID:  orderID,
		OpenedBy: r.OpenedBy,
		Reason:   r.Reason,
	}
}

// DisputeActionRequest carries who moves a dispute and why.
type DisputeActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// ResolveDisputeRequest represents a dispute resolution decision.
type ResolveDisputeRequest struct {
	RefundAmount int64  `json:"refund_amount"`
	Reason       string `json:"reason"`
	Actor        string `json:"actor"`
}

// ToUseCaseInput converts to use case input.
func (r *ResolveDisputeRequest) ToUseCaseInput(disputeID string) usecase.ResolveDisputeInput {
	return usecase.ResolveDisputeInput{
		DisputeID:    disputeID,
		RefundAmount: r.RefundAmount,
		Reason:       r.Reason,
		Actor:        r.Actor,
	}
}

// GrantCreditsRequest represents a credit grant to a user.
type GrantCreditsRequest struct {
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
	Actor  string `json:"actor"`
}

// ToUseCaseInput converts to use case input.
func (r *GrantCreditsRequest) ToUseCaseInput(userID string) usecase.GrantCreditsInput {
	return usecase.GrantCreditsInput{
		UserID: userID,
		Amount: r.Amount,
		Memo:   r.Memo,
		Actor:  r.Actor,
	}
}

// UnfreezeRequest lifts an audit freeze.
type UnfreezeRequest struct {
	Actor string `json:"actor"`
}

// UpsertListingRequest is the catalog projection pushed into the core.
type UpsertListingRequest struct {
	SellerID       string              `json:"seller_id"`
	Title          string              `json:"title"`
	Currency       string              `json:"currency"`
	PriceMinor     int64               `json:"price_minor"`
	PriceCredits   int64               `json:"price_credits"`
	CommissionRate *string             `json:"commission_rate,omitempty"`
	Status         string              `json:"status"`
	SingleSale     bool                `json:"single_sale"`
	Available      *int64              `json:"available,omitempty"`
	Terms          domain.LicenseTerms `json:"terms"`
}

// ToDomain converts to a listing with the given ID. The commission rate is a
// decimal string such as "0.15".
func (r *UpsertListingRequest) ToDomain(id string) (*domain.Listing, error) {
	listing := &domain.Listing{
		ID:           id,
		SellerID:     r.SellerID,
		Title:        r.Title,
		Currency:     strings.ToUpper(r.Currency),
		PriceMinor:   r.PriceMinor,
		PriceCredits: r.PriceCredits,
		Status:       domain.ListingStatus(r.Status),
		SingleSale:   r.SingleSale,
		Available:    r.Available,
		Terms:        r.Terms,
	}

	if listing.Status == "" {
		listing.Status = domain.ListingStatusActive
	}

	if r.CommissionRate != nil {
		rate, err := decimal.NewFromString(*r.CommissionRate)
		if err != nil {
			return nil, fmt.Errorf("%w: commission_rate: %v", domain.ErrValidation, err)
		}
		listing.CommissionRate = &rate
	}

	return listing, nil
}

// PayoutProfileRequest sets how a seller is paid.
type PayoutProfileRequest struct {
	Method      string `json:"method"`
	Destination string `json:"destination"`
	Currency    string `json:"currency"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// ToDomain converts to a profile. Profiles are enabled unless stated otherwise.
func (r *PayoutProfileRequest) ToDomain(sellerID string) *domain.SellerPayoutProfile {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}

	return &domain.SellerPayoutProfile{
		SellerID:    sellerID,
		Method:      r.Method,
		Destination: r.Destination,
		Currency:    strings.ToUpper(r.Currency),
		Enabled:     enabled,
	}
}

// RunPayoutBatchRequest starts a batch for one payout method.
type RunPayoutBatchRequest struct {
	Method string `json:"method"`
}
