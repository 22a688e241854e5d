package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors
var (
	ErrInvalidCurrency  = fmt.Errorf("%w: invalid currency code", ErrValidation)
	ErrAmountTooLarge   = fmt.Errorf("%w: amount exceeds maximum allowed", ErrValidation)
	ErrMetadataTooLarge = fmt.Errorf("%w: metadata size exceeds limit", ErrValidation)
	ErrInvalidIDFormat  = errors.New("invalid ID format")
)

// Validation constants
const (
	MaxReasonLength  = 2000
	MaxMetadataSize  = 10240 // 10KB
	MaxAmount        = int64(1_000_000_000_000)
	MaxPartyIDLength = 128
)

// Valid currency codes (ISO 4217)
var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CNY": true, "AUD": true, "CAD": true, "CHF": true,
	"SEK": true, "NZD": true, "KRW": true, "SGD": true,
	"NOK": true, "MXN": true, "INR": true, "BRL": true,
	"ZAR": true, "RUB": true, "TRY": true, "HKD": true,
}

// ValidateCurrency validates currency code
func ValidateCurrency(currency string) error {
	currency = strings.ToUpper(strings.TrimSpace(currency))

	if !validCurrencies[currency] {
		return fmt.Errorf("%w: %s is not a valid ISO 4217 currency code", ErrInvalidCurrency, currency)
	}

	return nil
}

// ValidateAmount validates a positive integer amount in minor units or credits.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if amount > MaxAmount {
		return fmt.Errorf("%w: maximum amount is %d", ErrAmountTooLarge, MaxAmount)
	}

	return nil
}

// ValidatePartyID validates an opaque user identifier.
func ValidatePartyID(id string) error {
	id = strings.TrimSpace(id)

	if id == "" || len(id) > MaxPartyIDLength {
		return fmt.Errorf("%w: %w", ErrInvalidParty, ErrInvalidIDFormat)
	}

	if !IsUserParty(id) || strings.ContainsAny(id, " /\t\n") {
		return fmt.Errorf("%w: %q is reserved or malformed", ErrInvalidParty, id)
	}

	return nil
}

// ValidateReason validates a free-text reason.
func ValidateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}

	if len(reason) > MaxReasonLength {
		return fmt.Errorf("%w: reason exceeds %d characters", ErrValidation, MaxReasonLength)
	}

	return nil
}

// ValidateMetadata validates metadata size
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}

	// Estimate size (rough approximation)
	size := 0
	for k, v := range metadata {
		size += len(k)
		size += len(fmt.Sprintf("%v", v))
	}

	if size > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d bytes exceeds limit of %d bytes", ErrMetadataTooLarge, size, MaxMetadataSize)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int, error) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
