package domain

import (
	"strings"
	"time"
)

// DigitalLicense is issued once per completed order. Terms are a snapshot
// taken at sale time and never follow later listing edits.
type DigitalLicense struct {
	ID        string
	OrderID   string
	ListingID string
	BuyerID   string
	SellerID  string
	Key       string
	Terms     LicenseTerms
	IssuedAt  time.Time
	RevokedAt *time.Time
}

// IsValid reports whether the license can still be redeemed.
func (l *DigitalLicense) IsValid() bool {
	return l.RevokedAt == nil
}

// Revoke invalidates the license after a full refund.
func (l *DigitalLicense) Revoke(at time.Time) {
	if l.RevokedAt == nil {
		l.RevokedAt = &at
	}
}

// NewLicenseKey formats a redeemable key from an opaque unique token, grouping
// it in blocks of five for readability.
func NewLicenseKey(token string) string {
	token = strings.ToUpper(token)

	var b strings.Builder
	b.WriteString("LIC")

	for i := 0; i < len(token); i += 5 {
		end := i + 5
		if end > len(token) {
			end = len(token)
		}
		b.WriteByte('-')
		b.WriteString(token[i:end])
	}

	return b.String()
}

// NormalizeLicenseKey canonicalizes a user-supplied key for lookup.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// NewLicense snapshots the listing terms for an order.
func NewLicense(id, key string, order *Order, terms LicenseTerms, at time.Time) *DigitalLicense {
	return &DigitalLicense{
		ID:        id,
		OrderID:   order.ID,
		ListingID: order.ListingID,
		BuyerID:   order.BuyerID,
		SellerID:  order.SellerID,
		Key:       key,
		Terms:     terms,
		IssuedAt:  at,
	}
}
