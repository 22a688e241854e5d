package domain

// Entry set builders. Each returns the entries for one atomic ledger commit;
// IDs, commit IDs and versions are assigned by the ledger engine.

// PurchaseEntries returns the balanced entries that settle a completed order
// in the denomination the buyer paid with. Money orders are preceded by a
// funding entry from the processor so the buyer's fiat balance nets to zero.
func PurchaseEntries(o *Order) []*LedgerEntry {
	d := o.PaymentMethod.Denomination()
	split := o.Charged()
	orderID := o.ID

	entries := make([]*LedgerEntry, 0, 4)

	if d == DenominationMoney {
		ref := o.PaymentReference
		entries = append(entries, &LedgerEntry{
			Type:              EntryTypePurchase,
			FromParty:         PartyProcessor,
			ToParty:           o.BuyerID,
			Amount:            split.Gross,
			Denomination:      d,
			Currency:          o.Currency,
			OrderID:           &orderID,
			ExternalReference: ref,
			Memo:              "buyer funding",
		})
	}

	entries = append(entries, &LedgerEntry{
		Type:         EntryTypePurchase,
		FromParty:    o.BuyerID,
		ToParty:      PartyClearing,
		Amount:       split.Gross,
		Denomination: d,
		Currency:     currencyFor(d, o.Currency),
		OrderID:      &orderID,
		Memo:         "purchase",
	})

	if split.Net > 0 {
		entries = append(entries, &LedgerEntry{
			Type:         EntryTypePurchase,
			FromParty:    PartyClearing,
			ToParty:      o.SellerID,
			Amount:       split.Net,
			Denomination: d,
			Currency:     currencyFor(d, o.Currency),
			OrderID:      &orderID,
			Memo:         "seller net",
		})
	}

	if split.Commission > 0 {
		entries = append(entries, &LedgerEntry{
			Type:         EntryTypeCommission,
			FromParty:    PartyClearing,
			ToParty:      PartyRevenue,
			Amount:       split.Commission,
			Denomination: d,
			Currency:     currencyFor(d, o.Currency),
			OrderID:      &orderID,
			Memo:         "commission retained",
		})
	}

	return entries
}

// RefundEntries returns the reversing entries for a dispute refund. The seller
// and the platform give back their shares of refund into clearing, and
// clearing returns the whole refund to the buyer. A zero refund yields no
// entries.
func RefundEntries(o *Order, disputeID string, refund Split) []*LedgerEntry {
	if refund.Gross <= 0 {
		return nil
	}

	d := o.PaymentMethod.Denomination()
	orderID := o.ID
	dispute := disputeID
	currency := currencyFor(d, o.Currency)

	entries := make([]*LedgerEntry, 0, 4)

	if refund.Net > 0 {
		entries = append(entries, &LedgerEntry{
			Type:         EntryTypeRefund,
			FromParty:    o.SellerID,
			ToParty:      PartyClearing,
			Amount:       refund.Net,
			Denomination: d,
			Currency:     currency,
			OrderID:      &orderID,
			DisputeID:    &dispute,
			Memo:         "seller share of refund",
		})
	}

	if refund.Commission > 0 {
		entries = append(entries, &LedgerEntry{
			Type:         EntryTypeRefund,
			FromParty:    PartyRevenue,
			ToParty:      PartyClearing,
			Amount:       refund.Commission,
			Denomination: d,
			Currency:     currency,
			OrderID:      &orderID,
			DisputeID:    &dispute,
			Memo:         "commission share of refund",
		})
	}

	entries = append(entries, &LedgerEntry{
		Type:         EntryTypeRefund,
		FromParty:    PartyClearing,
		ToParty:      o.BuyerID,
		Amount:       refund.Gross,
		Denomination: d,
		Currency:     currency,
		OrderID:      &orderID,
		DisputeID:    &dispute,
		Memo:         "refund to buyer",
	})

	if d == DenominationMoney {
		entries = append(entries, &LedgerEntry{
			Type:              EntryTypeRefund,
			FromParty:         o.BuyerID,
			ToParty:           PartyProcessor,
			Amount:            refund.Gross,
			Denomination:      d,
			Currency:          currency,
			OrderID:           &orderID,
			DisputeID:         &dispute,
			ExternalReference: o.PaymentReference,
			Memo:              "refund to payment method",
		})
	}

	return entries
}

// CoverCreditShortfall caps the seller's share of a credits refund at what the
// seller still holds. Credits cannot go negative, so the uncovered part is
// returned for the platform to pay from revenue.
func CoverCreditShortfall(refund Split, sellerAvailable int64) (Split, int64) {
	available := max(sellerAvailable, 0)
	if refund.Net <= available {
		return refund, 0
	}

	shortfall := refund.Net - available
	refund.Net = available

	return refund, shortfall
}

// ShortfallEntry returns the revenue to clearing entry through which the
// platform covers the part of a credits refund the seller could not return.
func ShortfallEntry(o *Order, disputeID string, amount int64) *LedgerEntry {
	orderID := o.ID
	dispute := disputeID
	d := o.PaymentMethod.Denomination()

	return &LedgerEntry{
		Type:         EntryTypeRefund,
		FromParty:    PartyRevenue,
		ToParty:      PartyClearing,
		Amount:       amount,
		Denomination: d,
		Currency:     currencyFor(d, o.Currency),
		OrderID:      &orderID,
		DisputeID:    &dispute,
		Memo:         "platform covers seller credit shortfall",
	}
}

// PayoutEntry returns the entry recording money that left the platform for a
// completed payout line.
func PayoutEntry(line *PayoutLine) *LedgerEntry {
	batchID := line.BatchID
	lineID := line.ID
	ref := line.TransferReference

	return &LedgerEntry{
		Type:              EntryTypePayout,
		FromParty:         line.SellerID,
		ToParty:           PartyPayoutRail,
		Amount:            line.Amount,
		Denomination:      DenominationMoney,
		Currency:          line.Currency,
		BatchID:           &batchID,
		BatchLineID:       &lineID,
		ExternalReference: &ref,
		Memo:              "seller payout",
	}
}

// CreditGrantEntry issues platform credits to a user.
func CreditGrantEntry(userID string, amount int64, memo string) *LedgerEntry {
	return &LedgerEntry{
		Type:         EntryTypeAdjustment,
		FromParty:    PartyIssuance,
		ToParty:      userID,
		Amount:       amount,
		Denomination: DenominationCredits,
		Memo:         memo,
	}
}

func currencyFor(d Denomination, currency string) string {
	if d == DenominationCredits {
		return ""
	}

	return currency
}
