package dto

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

func TestCreateOrderRequest_ToUseCaseInput(t *testing.T) {
	req := &CreateOrderRequest{BuyerID: "buyer", ListingID: "listing", PaymentMethod: "Credits"}

	got := req.ToUseCaseInput()
	want := usecase.CreateOrderInput{
		BuyerID:       "buyer",
		ListingID:     "listing",
		PaymentMethod: domain.PaymentMethodCredits,
	}

	if got != want {
		t.Fatalf("ToUseCaseInput() = %+v, want %+v", got, want)
	}
}

func TestResolveDisputeRequest_ToUseCaseInput(t *testing.T) {
	req := &ResolveDisputeRequest{RefundAmount: 500, Reason: "not as described", Actor: "ops"}

	got := req.ToUseCaseInput("d1")

	assert.Equal(t, usecase.ResolveDisputeInput{
		DisputeID:    "d1",
		RefundAmount: 500,
		Reason:       "not as described",
		Actor:        "ops",
	}, got)
}

func TestUpsertListingRequest_ToDomain(t *testing.T) {
	available := int64(3)
	rate := "0.15"

	tests := []struct {
		name        string
		request     *UpsertListingRequest
		check       func(t *testing.T, l *domain.Listing)
		expectError bool
	}{
		{
			name: "with commission override",
			request: &UpsertListingRequest{
				SellerID:       "seller",
				Currency:       "usd",
				PriceMinor:     1000,
				CommissionRate: &rate,
				Available:      &available,
			},
			check: func(t *testing.T, l *domain.Listing) {
				assert.Equal(t, "l1", l.ID)
				assert.Equal(t, "USD", l.Currency)
				assert.Equal(t, domain.ListingStatusActive, l.Status)
				require.NotNil(t, l.CommissionRate)
				assert.True(t, l.CommissionRate.Equal(decimal.RequireFromString("0.15")))
				assert.Equal(t, int64(3), *l.Available)
			},
		},
		{
			name:    "default commission",
			request: &UpsertListingRequest{SellerID: "seller", Status: "inactive"},
			check: func(t *testing.T, l *domain.Listing) {
				assert.Nil(t, l.CommissionRate)
				assert.Equal(t, domain.ListingStatusInactive, l.Status)
			},
		},
		{
			name:        "invalid commission",
			request:     &UpsertListingRequest{CommissionRate: ptr("fifteen")},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.request.ToDomain("l1")
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrValidation))
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestPayoutProfileRequest_DefaultsToEnabled(t *testing.T) {
	req := &PayoutProfileRequest{Method: "bank", Destination: "acct", Currency: "eur"}

	p := req.ToDomain("seller")
	assert.True(t, p.Enabled)
	assert.Equal(t, "EUR", p.Currency)

	disabled := false
	req.Enabled = &disabled
	assert.False(t, req.ToDomain("seller").Enabled)
}

func ptr[T any](v T) *T { return &v }
