package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

func TestRecord_RejectsUnbalancedOrderSet(t *testing.T) {
	h := newHarness(t)
	orderID := "order-1"

	_, err := h.ledger.Record(h.ctx, usecase.RecordInput{Entries: []*domain.LedgerEntry{
		{Type: domain.EntryTypePurchase, FromParty: "buyer-1", ToParty: domain.PartyClearing, Amount: 1000, Denomination: domain.DenominationMoney, Currency: "USD", OrderID: &orderID},
		{Type: domain.EntryTypePurchase, FromParty: domain.PartyClearing, ToParty: "seller-1", Amount: 900, Denomination: domain.DenominationMoney, Currency: "USD", OrderID: &orderID},
	}})

	var unbalanced *domain.UnbalancedEntrySetError
	require.ErrorAs(t, err, &unbalanced)
	assert.Equal(t, int64(100), unbalanced.Imbalance)

	entries, err := h.ledger.EntriesForOrder(h.ctx, orderID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecord_InvalidEntries(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		entry domain.LedgerEntry
		want  error
	}{
		{"zero amount", domain.LedgerEntry{Type: domain.EntryTypeAdjustment, FromParty: "a", ToParty: "b", Amount: 0, Denomination: domain.DenominationCredits}, domain.ErrInvalidAmount},
		{"same party", domain.LedgerEntry{Type: domain.EntryTypeAdjustment, FromParty: "a", ToParty: "a", Amount: 1, Denomination: domain.DenominationCredits}, domain.ErrSameParty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ledger.Record(h.ctx, usecase.RecordInput{Entries: []*domain.LedgerEntry{&tt.entry}})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := h.ledger.Record(h.ctx, usecase.RecordInput{})
	assert.ErrorIs(t, err, domain.ErrEmptyEntrySet)
}

func TestRecord_AssignsGapFreeVersions(t *testing.T) {
	h := newHarness(t)

	for range 3 {
		h.grant("user-1", 10)
	}

	_, err := h.ledger.Record(h.ctx, usecase.RecordInput{Entries: []*domain.LedgerEntry{
		{Type: domain.EntryTypeAdjustment, FromParty: "user-1", ToParty: "user-2", Amount: 5, Denomination: domain.DenominationCredits},
		{Type: domain.EntryTypeAdjustment, FromParty: "user-1", ToParty: "user-3", Amount: 5, Denomination: domain.DenominationCredits},
	}})
	require.NoError(t, err)

	entries, err := h.ledger.EntriesFor(h.ctx, usecase.EntriesForInput{Party: "user-1", Denomination: domain.DenominationCredits})
	require.NoError(t, err)
	require.Len(t, entries, 5)

	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.VersionFor("user-1"))
	}

	tail, err := h.ledger.EntriesFor(h.ctx, usecase.EntriesForInput{Party: "user-1", Denomination: domain.DenominationCredits, AfterVersion: 3})
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	assert.Equal(t, int64(20), h.balance("user-1", domain.DenominationCredits))
}

func TestRecord_CreditsCannotGoNegative(t *testing.T) {
	h := newHarness(t)
	h.grant("user-1", 10)

	_, err := h.ledger.Record(h.ctx, usecase.RecordInput{Entries: []*domain.LedgerEntry{
		{Type: domain.EntryTypeAdjustment, FromParty: "user-1", ToParty: "user-2", Amount: 11, Denomination: domain.DenominationCredits},
	}})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, int64(10), h.balance("user-1", domain.DenominationCredits))
	assert.Equal(t, int64(0), h.balance("user-2", domain.DenominationCredits))
}

func TestCheckConsistency(t *testing.T) {
	h := newHarness(t)
	h.chargesSucceed()
	h.listing("listing-1", "seller-1", 1000, 0, nil)
	h.buyWithMoney("buyer-1", "listing-1")

	report, err := h.ledger.CheckConsistency(h.ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Empty(t, report.Imbalances)
}
