package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

// CatalogUseCase maintains the local listing projection pushed by the catalog
// service.
type CatalogUseCase struct {
	tx          txRunner
	listingRepo ListingRepository
	clock       Clock
	settings    Settings
	logger      zerolog.Logger
}

// NewCatalogUseCase creates a new CatalogUseCase.
func NewCatalogUseCase(txManager TransactionManager, listingRepo ListingRepository, clock Clock, settings Settings, logger zerolog.Logger) *CatalogUseCase {
	return &CatalogUseCase{
		tx:          newTxRunner(txManager),
		listingRepo: listingRepo,
		clock:       clock,
		settings:    settings,
		logger:      logger.With().Str("component", "catalog").Logger(),
	}
}

// WithRetrier sets the retrier used for catalog transactions.
func (uc *CatalogUseCase) WithRetrier(r Retrier) *CatalogUseCase {
	uc.tx.retrier = r
	return uc
}

// UpsertListing replaces the projection of a listing under its row lock, so a
// push never interleaves with a reservation. The catalog is authoritative for
// every field, availability included.
func (uc *CatalogUseCase) UpsertListing(ctx context.Context, listing *domain.Listing) (*domain.Listing, error) {
	if listing.Currency == "" {
		listing.Currency = uc.settings.Currency
	}
	listing.Currency = strings.ToUpper(listing.Currency)

	if err := listing.Validate(); err != nil {
		return nil, err
	}

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		now := uc.clock.Now()

		existing, err := uc.listingRepo.GetByIDForUpdate(ctx, tx, listing.ID)
		switch {
		case errors.Is(err, domain.ErrListingNotFound):
			listing.CreatedAt = now
			listing.UpdatedAt = now
			return uc.listingRepo.Create(ctx, tx, listing)
		case err != nil:
			return err
		}

		listing.CreatedAt = existing.CreatedAt
		listing.UpdatedAt = now

		return uc.listingRepo.Update(ctx, tx, listing)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Debug().Str("listing_id", listing.ID).Str("status", string(listing.Status)).Msg("listing synced")

	return listing, nil
}

// GetListing returns the projected listing.
func (uc *CatalogUseCase) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	return uc.listingRepo.GetByID(ctx, id)
}
