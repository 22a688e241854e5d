package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const listingColumns = `id, seller_id, title, currency, price_minor, price_credits, commission_rate,
	status, single_sale, available, terms, created_at, updated_at`

// ListingRepository implements usecase.ListingRepository.
type ListingRepository struct {
	db DBTX
}

// NewListingRepository creates a new ListingRepository.
func NewListingRepository(db DBTX) *ListingRepository {
	return &ListingRepository{db: db}
}

func (r *ListingRepository) Create(ctx context.Context, tx usecase.Transaction, listing *domain.Listing) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	terms, err := json.Marshal(listing.Terms)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		listing.ID, listing.SellerID, listing.Title, listing.Currency, listing.PriceMinor, listing.PriceCredits,
		optionalDecimalToNumeric(listing.CommissionRate), string(listing.Status), listing.SingleSale,
		listing.Available, terms, listing.CreatedAt, listing.UpdatedAt,
	)

	return mapError(err, nil)
}

func (r *ListingRepository) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := scanListing(r.db.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, domain.ErrListingNotFound)
	}

	return l, nil
}

func (r *ListingRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Listing, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	l, err := scanListing(q.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err, domain.ErrListingNotFound)
	}

	return l, nil
}

func (r *ListingRepository) Update(ctx context.Context, tx usecase.Transaction, listing *domain.Listing) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	terms, err := json.Marshal(listing.Terms)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE listings
		SET seller_id = $2, title = $3, currency = $4, price_minor = $5, price_credits = $6,
		    commission_rate = $7, status = $8, single_sale = $9, available = $10, terms = $11, updated_at = $12
		WHERE id = $1`,
		listing.ID, listing.SellerID, listing.Title, listing.Currency, listing.PriceMinor, listing.PriceCredits,
		optionalDecimalToNumeric(listing.CommissionRate), string(listing.Status), listing.SingleSale,
		listing.Available, terms, listing.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotFound
	}

	return nil
}

func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		l      domain.Listing
		status string
		rate   pgtype.Numeric
		terms  []byte
	)

	if err := row.Scan(
		&l.ID, &l.SellerID, &l.Title, &l.Currency, &l.PriceMinor, &l.PriceCredits, &rate,
		&status, &l.SingleSale, &l.Available, &terms, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	l.Status = domain.ListingStatus(status)
	l.CommissionRate = numericToOptionalDecimal(rate)

	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &l.Terms); err != nil {
			return nil, err
		}
	}

	return &l, nil
}

const licenseColumns = `id, order_id, listing_id, buyer_id, seller_id, license_key, terms, issued_at, revoked_at`

// LicenseRepository implements usecase.LicenseRepository.
type LicenseRepository struct {
	db DBTX
}

// NewLicenseRepository creates a new LicenseRepository.
func NewLicenseRepository(db DBTX) *LicenseRepository {
	return &LicenseRepository{db: db}
}

func (r *LicenseRepository) Create(ctx context.Context, tx usecase.Transaction, license *domain.DigitalLicense) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	terms, err := json.Marshal(license.Terms)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO digital_licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		license.ID, license.OrderID, license.ListingID, license.BuyerID, license.SellerID,
		license.Key, terms, license.IssuedAt, timestamptz(license.RevokedAt),
	)

	return mapError(err, nil)
}

func (r *LicenseRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.DigitalLicense, error) {
	return r.get(ctx, `WHERE order_id = $1`, orderID)
}

func (r *LicenseRepository) GetByKey(ctx context.Context, key string) (*domain.DigitalLicense, error) {
	return r.get(ctx, `WHERE license_key = $1`, key)
}

func (r *LicenseRepository) get(ctx context.Context, where string, arg any) (*domain.DigitalLicense, error) {
	var (
		l         domain.DigitalLicense
		terms     []byte
		revokedAt pgtype.Timestamptz
	)

	err := r.db.QueryRow(ctx, `SELECT `+licenseColumns+` FROM digital_licenses `+where, arg).Scan(
		&l.ID, &l.OrderID, &l.ListingID, &l.BuyerID, &l.SellerID, &l.Key, &terms, &l.IssuedAt, &revokedAt,
	)
	if err != nil {
		return nil, mapError(err, domain.ErrLicenseNotFound)
	}

	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &l.Terms); err != nil {
			return nil, err
		}
	}

	l.RevokedAt = timePtr(revokedAt)

	return &l, nil
}

// Revoke stamps revoked_at once; revoking twice keeps the first timestamp.
func (r *LicenseRepository) Revoke(ctx context.Context, tx usecase.Transaction, id string, at time.Time) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE digital_licenses
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrLicenseNotFound
	}

	return nil
}
