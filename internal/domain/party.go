package domain

import (
	"fmt"
	"strings"
)

// Denomination is the unit a ledger amount is expressed in.
type Denomination string

const (
	// DenominationMoney is fiat money in minor units (cents).
	DenominationMoney Denomination = "money"
	// DenominationCredits is integer platform credits.
	DenominationCredits Denomination = "credits"
)

// IsValid reports whether d is a known denomination.
func (d Denomination) IsValid() bool {
	return d == DenominationMoney || d == DenominationCredits
}

// ParseDenomination parses a denomination string.
func ParseDenomination(s string) (Denomination, error) {
	d := Denomination(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: unknown denomination %q", ErrValidation, s)
	}

	return d, nil
}

// Platform and external parties. User parties are opaque identifiers handed
// to us by the identity service and never carry one of these prefixes.
const (
	PartyClearing   = "platform:clearing"
	PartyRevenue    = "platform:revenue"
	PartyIssuance   = "platform:credit_issuance"
	PartyProcessor  = "external:processor"
	PartyPayoutRail = "external:payout_rail"

	platformPrefix = "platform:"
	externalPrefix = "external:"
)

// IsSystemParty reports whether party belongs to the platform or an external rail.
func IsSystemParty(party string) bool {
	return strings.HasPrefix(party, platformPrefix) || strings.HasPrefix(party, externalPrefix)
}

// IsUserParty reports whether party is an end user (buyer or seller).
func IsUserParty(party string) bool {
	return party != "" && !IsSystemParty(party)
}

// MustStayNonNegative reports whether the ledger account for party in
// denomination may never be driven below zero.
func MustStayNonNegative(party string, d Denomination) bool {
	return d == DenominationCredits && IsUserParty(party)
}

// AccountKey identifies a ledger account: one per party and denomination.
type AccountKey struct {
	Party        string
	Denomination Denomination
}

func (k AccountKey) String() string {
	return k.Party + "/" + string(k.Denomination)
}

// Less orders account keys for deterministic lock acquisition.
func (k AccountKey) Less(other AccountKey) bool {
	if k.Party != other.Party {
		return k.Party < other.Party
	}

	return k.Denomination < other.Denomination
}
