package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus is the catalog status of a listing.
type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusInactive ListingStatus = "inactive"
	ListingStatusSoldOut  ListingStatus = "sold_out"
)

// IsValid reports whether s is a known listing status.
func (s ListingStatus) IsValid() bool {
	switch s {
	case ListingStatusActive, ListingStatusInactive, ListingStatusSoldOut:
		return true
	}

	return false
}

// LicenseTerms are the usage rights a listing grants. They are copied into
// every license at sale time.
type LicenseTerms struct {
	Usage        string `json:"usage"`
	Commercial   bool   `json:"commercial"`
	Transferable bool   `json:"transferable"`
	MaxSeats     int    `json:"max_seats,omitempty"`
	TermsVersion string `json:"terms_version"`
}

// Listing is the local, lockable projection of a catalog listing.
type Listing struct {
	ID             string
	SellerID       string
	Title          string
	Currency       string
	PriceMinor     int64
	PriceCredits   int64
	CommissionRate *decimal.Decimal
	Status         ListingStatus
	SingleSale     bool
	Available      *int64
	Terms          LicenseTerms
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsPurchasable reports whether the listing can currently be sold.
func (l *Listing) IsPurchasable() bool {
	if l.Status != ListingStatusActive {
		return false
	}

	if l.Available != nil && *l.Available <= 0 {
		return false
	}

	return true
}

// IsLimited reports whether every sale consumes availability.
func (l *Listing) IsLimited() bool {
	return l.SingleSale || l.Available != nil
}

// Reserve consumes one unit of availability. It marks single-sale and exhausted
// listings sold out. The caller must hold the listing lock.
func (l *Listing) Reserve(at time.Time) error {
	if !l.IsPurchasable() {
		return ErrListingUnavailable
	}

	if l.SingleSale {
		zero := int64(0)
		l.Available = &zero
	} else if l.Available != nil {
		remaining := *l.Available - 1
		l.Available = &remaining
	}

	if l.Available != nil && *l.Available == 0 {
		l.Status = ListingStatusSoldOut
	}

	l.UpdatedAt = at

	return nil
}

// Release returns one unit of availability taken by Reserve.
func (l *Listing) Release(at time.Time) {
	if !l.IsLimited() {
		return
	}

	restored := int64(1)
	if l.Available != nil && !l.SingleSale {
		restored = *l.Available + 1
	}

	l.Available = &restored
	if l.Status == ListingStatusSoldOut {
		l.Status = ListingStatusActive
	}

	l.UpdatedAt = at
}

// PriceIn returns the listing price in the given denomination.
func (l *Listing) PriceIn(d Denomination) int64 {
	if d == DenominationCredits {
		return l.PriceCredits
	}

	return l.PriceMinor
}

// Validate checks a listing pushed by the catalog.
func (l *Listing) Validate() error {
	if l.ID == "" || !IsUserParty(l.SellerID) {
		return ErrInvalidParty
	}

	if l.PriceMinor <= 0 || l.PriceCredits < 0 {
		return ErrInvalidAmount
	}

	if !l.Status.IsValid() {
		return ErrValidation
	}

	if l.CommissionRate != nil {
		if err := ValidateCommissionRate(*l.CommissionRate); err != nil {
			return err
		}
	}

	if l.Available != nil && *l.Available < 0 {
		return ErrInvalidAmount
	}

	return ValidateCurrency(l.Currency)
}
