package domain

import (
	"errors"
	"testing"
)

func ptr(s string) *string { return &s }

func TestLedgerEntry_Validate(t *testing.T) {
	valid := func() *LedgerEntry {
		return &LedgerEntry{
			Type:         EntryTypePurchase,
			FromParty:    "buyer-1",
			ToParty:      PartyClearing,
			Amount:       100,
			Denomination: DenominationMoney,
		}
	}

	tests := []struct {
		name   string
		mutate func(e *LedgerEntry)
		want   error
	}{
		{name: "valid", mutate: func(*LedgerEntry) {}},
		{name: "zero amount", mutate: func(e *LedgerEntry) { e.Amount = 0 }, want: ErrInvalidAmount},
		{name: "negative amount", mutate: func(e *LedgerEntry) { e.Amount = -1 }, want: ErrInvalidAmount},
		{name: "same party", mutate: func(e *LedgerEntry) { e.ToParty = "buyer-1" }, want: ErrSameParty},
		{name: "missing party", mutate: func(e *LedgerEntry) { e.FromParty = "" }, want: ErrInvalidParty},
		{name: "unknown type", mutate: func(e *LedgerEntry) { e.Type = "gift" }, want: ErrInvalidEntry},
		{name: "unknown denomination", mutate: func(e *LedgerEntry) { e.Denomination = "gold" }, want: ErrInvalidEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)

			err := e.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if e.Status != EntryStatusPosted {
					t.Fatalf("expected default status posted, got %s", e.Status)
				}
				return
			}

			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation kind, got %v", err)
			}
		})
	}
}

func TestCheckConservation(t *testing.T) {
	t.Run("balanced purchase", func(t *testing.T) {
		entries := []*LedgerEntry{
			{FromParty: "b", ToParty: PartyClearing, Amount: 1000, Denomination: DenominationMoney, OrderID: ptr("o1")},
			{FromParty: PartyClearing, ToParty: "s", Amount: 850, Denomination: DenominationMoney, OrderID: ptr("o1")},
			{FromParty: PartyClearing, ToParty: PartyRevenue, Amount: 150, Denomination: DenominationMoney, OrderID: ptr("o1")},
			{FromParty: PartyProcessor, ToParty: "b", Amount: 1000, Denomination: DenominationMoney, OrderID: ptr("o1")},
		}

		if err := CheckConservation(entries); err != nil {
			t.Fatalf("expected balanced set, got %v", err)
		}
	})

	t.Run("unbalanced order", func(t *testing.T) {
		entries := []*LedgerEntry{
			{FromParty: "b", ToParty: PartyClearing, Amount: 1000, Denomination: DenominationMoney, OrderID: ptr("o1")},
			{FromParty: PartyClearing, ToParty: "s", Amount: 900, Denomination: DenominationMoney, OrderID: ptr("o1")},
		}

		err := CheckConservation(entries)

		var unbalanced *UnbalancedEntrySetError
		if !errors.As(err, &unbalanced) {
			t.Fatalf("expected UnbalancedEntrySetError, got %v", err)
		}
		if unbalanced.OrderID != "o1" || unbalanced.Imbalance != 100 {
			t.Fatalf("unexpected detail: %+v", unbalanced)
		}
		if !errors.Is(err, ErrUnbalancedEntrySet) {
			t.Fatal("expected errors.Is to match ErrUnbalancedEntrySet")
		}
	})

	t.Run("denominations are checked separately", func(t *testing.T) {
		entries := []*LedgerEntry{
			{FromParty: "b", ToParty: PartyClearing, Amount: 10, Denomination: DenominationMoney, OrderID: ptr("o1")},
			{FromParty: PartyClearing, ToParty: "s", Amount: 10, Denomination: DenominationCredits, OrderID: ptr("o1")},
		}

		if err := CheckConservation(entries); !errors.Is(err, ErrUnbalancedEntrySet) {
			t.Fatalf("expected unbalanced, got %v", err)
		}
	})

	t.Run("entries without order are ignored", func(t *testing.T) {
		entries := []*LedgerEntry{CreditGrantEntry("u", 50, "promo")}

		if err := CheckConservation(entries); err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	})
}

func TestSumFor(t *testing.T) {
	entries := []*LedgerEntry{
		{FromParty: PartyIssuance, ToParty: "u", Amount: 100, Denomination: DenominationCredits},
		{FromParty: "u", ToParty: PartyClearing, Amount: 30, Denomination: DenominationCredits},
		{FromParty: PartyProcessor, ToParty: "u", Amount: 999, Denomination: DenominationMoney},
	}

	if got := SumFor(entries, "u", DenominationCredits); got != 70 {
		t.Fatalf("expected 70, got %d", got)
	}
	if got := SumFor(entries, "u", DenominationMoney); got != 999 {
		t.Fatalf("expected 999, got %d", got)
	}
}

func TestSortedKeys(t *testing.T) {
	entries := []*LedgerEntry{
		{FromParty: "zed", ToParty: PartyClearing, Denomination: DenominationMoney},
		{FromParty: PartyClearing, ToParty: "alice", Denomination: DenominationMoney},
		{FromParty: "alice", ToParty: PartyClearing, Denomination: DenominationCredits},
	}

	keys := SortedKeys(entries)
	if len(keys) != 4 {
		t.Fatalf("expected 4 distinct keys, got %d", len(keys))
	}

	for i := 1; i < len(keys); i++ {
		if !keys[i-1].Less(keys[i]) {
			t.Fatalf("keys not sorted at %d: %v", i, keys)
		}
	}
}
