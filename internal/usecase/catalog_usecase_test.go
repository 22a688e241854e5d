package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/domain"
)

func TestUpsertListing_ReplacesProjection(t *testing.T) {
	h := newHarness(t)

	created := h.listing("listing-1", "seller-1", 1000, 0, ptr(int64(5)))
	assert.Equal(t, "USD", created.Currency)
	createdAt := created.CreatedAt

	h.clock.Advance(time.Hour)

	updated, err := h.catalog.UpsertListing(h.ctx, &domain.Listing{
		ID:         "listing-1",
		SellerID:   "seller-1",
		Title:      "Brush pack v2",
		Currency:   "eur",
		PriceMinor: 1500,
		Status:     domain.ListingStatusInactive,
		Available:  ptr(int64(2)),
	})
	require.NoError(t, err)

	got, err := h.catalog.GetListing(h.ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, createdAt, got.CreatedAt)
	assert.Equal(t, updated.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, int64(1500), got.PriceMinor)
	assert.Equal(t, int64(2), *got.Available)
	assert.Equal(t, domain.ListingStatusInactive, got.Status)
	assert.False(t, got.IsPurchasable())
}

func TestUpsertListing_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		listing domain.Listing
		want    error
	}{
		{"system seller", domain.Listing{ID: "l1", SellerID: domain.PartyRevenue, PriceMinor: 100, Status: domain.ListingStatusActive}, domain.ErrInvalidParty},
		{"zero price", domain.Listing{ID: "l1", SellerID: "seller-1", Status: domain.ListingStatusActive}, domain.ErrInvalidAmount},
		{"bad currency", domain.Listing{ID: "l1", SellerID: "seller-1", PriceMinor: 100, Currency: "XXX", Status: domain.ListingStatusActive}, domain.ErrInvalidCurrency},
		{"bad status", domain.Listing{ID: "l1", SellerID: "seller-1", PriceMinor: 100, Status: "draft"}, domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.catalog.UpsertListing(h.ctx, &tt.listing)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
