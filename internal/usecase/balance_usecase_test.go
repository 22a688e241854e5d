package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

func TestGetBalance_MatchesReplay(t *testing.T) {
	h := newHarness(t)
	h.chargesSucceed()
	h.listing("listing-1", "seller-1", 1000, 100, nil)
	h.listing("listing-2", "seller-1", 2500, 0, nil)
	h.grant("buyer-1", 300)

	h.buyWithMoney("buyer-1", "listing-1")
	order := h.buyWithMoney("buyer-2", "listing-2")
	_, err := h.orders.CreateOrder(h.ctx, usecase.CreateOrderInput{BuyerID: "buyer-1", ListingID: "listing-1", PaymentMethod: domain.PaymentMethodCredits})
	require.NoError(t, err)

	d := openDispute(t, h, order.ID, "buyer-2")
	_, err = h.disputes.ResolveDispute(h.ctx, usecase.ResolveDisputeInput{DisputeID: d.ID, RefundAmount: 333, Reason: "partial"})
	require.NoError(t, err)

	for _, party := range []string{"buyer-1", "buyer-2", "seller-1", domain.PartyRevenue, domain.PartyClearing, domain.PartyProcessor} {
		for _, denom := range []domain.Denomination{domain.DenominationMoney, domain.DenominationCredits} {
			assert.Equal(t, h.replay(party, denom), h.balance(party, denom), "%s/%s", party, denom)
		}
	}

	assert.Equal(t, int64(0), h.balance(domain.PartyClearing, domain.DenominationMoney))
	assert.Equal(t, int64(0), h.balance(domain.PartyClearing, domain.DenominationCredits))
}

func TestGetBalance_CatchesUpFromStaleCache(t *testing.T) {
	h := newHarness(t)
	h.grant("user-1", 100)

	key := domain.AccountKey{Party: "user-1", Denomination: domain.DenominationCredits}
	cached, ok, err := h.cache.Get(h.ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, usecase.CachedBalance{Balance: 100, Offset: 1}, cached)

	// Commit behind the cache's back.
	_, err = h.ledger.Record(h.ctx, usecase.RecordInput{Entries: []*domain.LedgerEntry{domain.CreditGrantEntry("user-1", 50, "bonus")}})
	require.NoError(t, err)

	balance, err := h.balances.GetBalance(h.ctx, "user-1", domain.DenominationCredits)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance.Amount)
	assert.Equal(t, int64(2), balance.Offset)

	cached, _, err = h.cache.Get(h.ctx, key)
	require.NoError(t, err)
	assert.Equal(t, usecase.CachedBalance{Balance: 150, Offset: 2}, cached)
}

func TestGetBalance_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.balances.GetBalance(h.ctx, "", domain.DenominationMoney)
	assert.ErrorIs(t, err, domain.ErrInvalidParty)

	_, err = h.balances.GetBalance(h.ctx, "user-1", "gold")
	assert.ErrorIs(t, err, domain.ErrValidation)

	b, err := h.balances.GetBalance(h.ctx, "nobody", domain.DenominationMoney)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Amount)
	assert.False(t, b.Frozen)
}
