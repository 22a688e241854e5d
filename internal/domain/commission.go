package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Split is the division of a gross amount between platform and seller.
type Split struct {
	Gross      int64
	Commission int64
	Net        int64
}

// SplitAmount divides gross using rate. The commission is rounded half away
// from zero to a whole minor unit and the seller receives the remainder, so
// Commission + Net == Gross always holds.
func SplitAmount(gross int64, rate decimal.Decimal) Split {
	commission := decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	if commission > gross {
		commission = gross
	}

	return Split{
		Gross:      gross,
		Commission: commission,
		Net:        gross - commission,
	}
}

// ProportionalRefund splits a refund of an order between the seller's net and
// the platform's commission in the ratio of the original split. A full refund
// reverses the split exactly.
func ProportionalRefund(split Split, refund int64) Split {
	if refund <= 0 || split.Gross == 0 {
		return Split{}
	}

	if refund >= split.Gross {
		return split
	}

	sellerPart := decimal.NewFromInt(refund).
		Mul(decimal.NewFromInt(split.Net)).
		Div(decimal.NewFromInt(split.Gross)).
		Round(0).
		IntPart()

	return Split{
		Gross:      refund,
		Commission: refund - sellerPart,
		Net:        sellerPart,
	}
}

// ValidateCommissionRate checks rate lies in [0, 1].
func ValidateCommissionRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: commission rate %s outside [0, 1]", ErrValidation, rate)
	}

	return nil
}
