package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testListing() *Listing {
	return &Listing{
		ID:           "listing-1",
		SellerID:     "seller-1",
		Currency:     "USD",
		PriceMinor:   1000,
		PriceCredits: 200,
		Status:       ListingStatusActive,
	}
}

func TestPurchaseEntries_Money(t *testing.T) {
	order := NewOrderFromListing("order-1", "buyer-1", testListing(), PaymentMethodMoney, decimal.RequireFromString("0.15"), time.Now())
	order.PaymentReference = ptr("pay_1")

	entries := PurchaseEntries(order)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}

	if err := CheckConservation(entries); err != nil {
		t.Fatalf("purchase entries unbalanced: %v", err)
	}

	if got := SumFor(entries, "buyer-1", DenominationMoney); got != 0 {
		t.Errorf("buyer should net to zero, got %d", got)
	}
	if got := SumFor(entries, "seller-1", DenominationMoney); got != 850 {
		t.Errorf("seller should receive 850, got %d", got)
	}
	if got := SumFor(entries, PartyRevenue, DenominationMoney); got != 150 {
		t.Errorf("platform should retain 150, got %d", got)
	}
	if got := SumFor(entries, PartyClearing, DenominationMoney); got != 0 {
		t.Errorf("clearing should net to zero, got %d", got)
	}
}

func TestPurchaseEntries_Credits(t *testing.T) {
	order := NewOrderFromListing("order-2", "buyer-1", testListing(), PaymentMethodCredits, decimal.RequireFromString("0.15"), time.Now())

	entries := PurchaseEntries(order)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	for _, e := range entries {
		if e.Denomination != DenominationCredits {
			t.Fatalf("expected credits entries, got %s", e.Denomination)
		}
		if e.Currency != "" {
			t.Fatalf("credits entries carry no currency, got %q", e.Currency)
		}
	}

	if got := SumFor(entries, "buyer-1", DenominationCredits); got != -200 {
		t.Errorf("buyer should pay 200 credits, got %d", got)
	}
	if got := SumFor(entries, "seller-1", DenominationCredits); got != 170 {
		t.Errorf("seller should receive 170 credits, got %d", got)
	}
}

func TestRefundEntries(t *testing.T) {
	order := NewOrderFromListing("order-1", "buyer-1", testListing(), PaymentMethodMoney, decimal.RequireFromString("0.15"), time.Now())
	order.PaymentReference = ptr("pay_1")

	t.Run("full refund zeroes seller net", func(t *testing.T) {
		all := append(PurchaseEntries(order), RefundEntries(order, "d1", ProportionalRefund(order.Charged(), 1000))...)

		if err := CheckConservation(all); err != nil {
			t.Fatalf("unbalanced: %v", err)
		}
		if got := SumFor(all, "seller-1", DenominationMoney); got != 0 {
			t.Errorf("seller net should be zero, got %d", got)
		}
		if got := SumFor(all, PartyRevenue, DenominationMoney); got != 0 {
			t.Errorf("revenue should be zero, got %d", got)
		}
		if got := SumFor(all, PartyProcessor, DenominationMoney); got != 0 {
			t.Errorf("buyer should be repaid in full, processor net %d", got)
		}
	})

	t.Run("zero refund has no entries", func(t *testing.T) {
		if got := RefundEntries(order, "d1", ProportionalRefund(order.Charged(), 0)); len(got) != 0 {
			t.Fatalf("expected no entries, got %d", len(got))
		}
	})

	t.Run("partial refund", func(t *testing.T) {
		refund := RefundEntries(order, "d1", ProportionalRefund(order.Charged(), 400))

		if err := CheckConservation(refund); err != nil {
			t.Fatalf("unbalanced: %v", err)
		}
		if got := SumFor(refund, "seller-1", DenominationMoney); got != -340 {
			t.Errorf("seller should give back 340, got %d", got)
		}
		if got := SumFor(refund, PartyRevenue, DenominationMoney); got != -60 {
			t.Errorf("platform should give back 60, got %d", got)
		}
	})
}

func TestPayoutEntry(t *testing.T) {
	line := &PayoutLine{ID: "line-1", BatchID: "batch-1", SellerID: "seller-1", Amount: 850, Currency: "USD", TransferReference: "po_batch-1_seller-1"}

	e := PayoutEntry(line)
	if e.Type != EntryTypePayout || e.ToParty != PartyPayoutRail || e.Amount != 850 {
		t.Fatalf("unexpected payout entry: %+v", e)
	}
	if e.OrderID != nil {
		t.Fatal("payout entries are not linked to an order")
	}
	if *e.ExternalReference != line.TransferReference {
		t.Fatalf("expected transfer reference, got %s", *e.ExternalReference)
	}
}

func TestCoverCreditShortfall(t *testing.T) {
	refund := Split{Gross: 200, Commission: 30, Net: 170}

	tests := []struct {
		name          string
		available     int64
		wantNet       int64
		wantShortfall int64
	}{
		{"seller holds enough", 500, 170, 0},
		{"seller holds part", 100, 100, 70},
		{"seller spent everything", 0, 0, 170},
		{"negative treated as empty", -5, 0, 170},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, shortfall := CoverCreditShortfall(refund, tt.available)
			if got.Net != tt.wantNet || shortfall != tt.wantShortfall {
				t.Fatalf("got net %d shortfall %d, want %d %d", got.Net, shortfall, tt.wantNet, tt.wantShortfall)
			}
			if got.Gross != refund.Gross || got.Commission != refund.Commission {
				t.Fatalf("gross and commission must not change: %+v", got)
			}
		})
	}
}

func TestShortfallEntryBalancesReducedRefund(t *testing.T) {
	o := &Order{ID: "order-1", BuyerID: "buyer-1", SellerID: "seller-1", PaymentMethod: PaymentMethodCredits}

	refund, shortfall := CoverCreditShortfall(Split{Gross: 200, Commission: 30, Net: 170}, 100)
	entries := append(RefundEntries(o, "dispute-1", refund), ShortfallEntry(o, "dispute-1", shortfall))

	if err := CheckConservation(entries); err != nil {
		t.Fatalf("refund with shortfall must balance: %v", err)
	}
}
