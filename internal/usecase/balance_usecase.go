package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

var denominations = []domain.Denomination{domain.DenominationMoney, domain.DenominationCredits}

// BalanceUseCase derives spendable balances from the ledger and keeps them in
// a cache keyed by the last applied account version.
type BalanceUseCase struct {
	accountRepo LedgerAccountRepository
	entryRepo   EntryRepository
	orderRepo   OrderRepository
	cache       BalanceCache
	clock       Clock
	settings    Settings
	logger      zerolog.Logger
}

// NewBalanceUseCase creates a new BalanceUseCase.
func NewBalanceUseCase(
	accountRepo LedgerAccountRepository,
	entryRepo EntryRepository,
	orderRepo OrderRepository,
	cache BalanceCache,
	clock Clock,
	settings Settings,
	logger zerolog.Logger,
) *BalanceUseCase {
	return &BalanceUseCase{
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		orderRepo:   orderRepo,
		cache:       cache,
		clock:       clock,
		settings:    settings,
		logger:      logger.With().Str("component", "balance").Logger(),
	}
}

// GetBalance returns the balance of party in d. The cached value is advanced
// with every entry committed after its offset before it is returned.
func (uc *BalanceUseCase) GetBalance(ctx context.Context, party string, d domain.Denomination) (*domain.Balance, error) {
	if party == "" {
		return nil, domain.ErrInvalidParty
	}

	if !d.IsValid() {
		return nil, fmt.Errorf("%w: unknown denomination %q", domain.ErrValidation, d)
	}

	key := domain.AccountKey{Party: party, Denomination: d}

	frozen := false
	account, err := uc.accountRepo.Get(ctx, key)
	switch {
	case err == nil:
		frozen = account.Frozen
	case errors.Is(err, domain.ErrAccountNotFound):
	default:
		return nil, err
	}

	cached, ok, err := uc.cache.Get(ctx, key)
	if err != nil {
		uc.logger.Warn().Err(err).Str("account", key.String()).Msg("balance cache read failed, replaying")
		ok = false
	}

	if !ok || account == nil || cached.Offset > account.Version {
		cached = CachedBalance{}
	}

	advanced, err := uc.catchUp(ctx, key, cached)
	if err != nil {
		return nil, err
	}

	if advanced != cached || !ok {
		if err := uc.cache.Set(ctx, key, advanced); err != nil {
			uc.logger.Warn().Err(err).Str("account", key.String()).Msg("balance cache write failed")
		}
	}

	return &domain.Balance{
		Party:        party,
		Denomination: d,
		Amount:       advanced.Balance,
		Offset:       advanced.Offset,
		Frozen:       frozen,
	}, nil
}

// catchUp applies every entry after from.Offset in version order.
func (uc *BalanceUseCase) catchUp(ctx context.Context, key domain.AccountKey, from CachedBalance) (CachedBalance, error) {
	current := from

	for {
		page, err := uc.entryRepo.ListByParty(ctx, key.Party, key.Denomination, current.Offset, replayPageSize)
		if err != nil {
			return CachedBalance{}, fmt.Errorf("replay %s: %w", key, err)
		}

		for _, e := range page {
			current.Balance += e.SignedFor(key.Party)
			current.Offset = e.VersionFor(key.Party)
		}

		if len(page) < replayPageSize {
			return current, nil
		}
	}
}

// Refresh advances the cached balances for parties after a commit. Failures
// are logged; the next read catches up anyway.
func (uc *BalanceUseCase) Refresh(ctx context.Context, d domain.Denomination, parties ...string) {
	for _, party := range parties {
		if !domain.IsUserParty(party) {
			continue
		}

		if _, err := uc.GetBalance(ctx, party, d); err != nil {
			uc.logger.Warn().Err(err).Str("party", party).Msg("balance refresh failed")
		}
	}
}

// Invalidate drops every cached balance of the given users.
func (uc *BalanceUseCase) Invalidate(ctx context.Context, parties ...string) error {
	keys := make([]domain.AccountKey, 0, len(parties)*len(denominations))
	for _, party := range parties {
		for _, d := range denominations {
			keys = append(keys, domain.AccountKey{Party: party, Denomination: d})
		}
	}

	if len(keys) == 0 {
		return nil
	}

	return uc.cache.Delete(ctx, keys...)
}

// IsFrozen reports whether any of the user's ledger accounts is frozen.
func (uc *BalanceUseCase) IsFrozen(ctx context.Context, party string) (bool, error) {
	accounts, err := uc.accountRepo.ListByParty(ctx, party)
	if err != nil {
		return false, err
	}

	for _, a := range accounts {
		if a.Frozen {
			return true, nil
		}
	}

	return false, nil
}

// HeldAmount returns the seller net that is not yet payable: earnings from
// orders inside the settlement delay or under an active dispute.
func (uc *BalanceUseCase) HeldAmount(ctx context.Context, sellerID string) (int64, error) {
	completedAfter := uc.clock.Now().Add(-uc.settings.SettlementDelay)

	orderIDs, err := uc.orderRepo.ListHeldOrderIDs(ctx, sellerID, completedAfter)
	if err != nil {
		return 0, fmt.Errorf("list held orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return 0, nil
	}

	held, err := uc.entryRepo.SumForOrders(ctx, sellerID, domain.DenominationMoney, orderIDs)
	if err != nil {
		return 0, fmt.Errorf("sum held earnings: %w", err)
	}

	return max(held, 0), nil
}

// heldAmountTx is HeldAmount read from tx, so disputes and entries written
// earlier in the same transaction count.
func (uc *BalanceUseCase) heldAmountTx(ctx context.Context, tx Transaction, sellerID string) (int64, error) {
	completedAfter := uc.clock.Now().Add(-uc.settings.SettlementDelay)

	orderIDs, err := uc.orderRepo.ListHeldOrderIDsTx(ctx, tx, sellerID, completedAfter)
	if err != nil {
		return 0, fmt.Errorf("list held orders: %w", err)
	}

	if len(orderIDs) == 0 {
		return 0, nil
	}

	held, err := uc.entryRepo.SumForOrdersTx(ctx, tx, sellerID, domain.DenominationMoney, orderIDs)
	if err != nil {
		return 0, fmt.Errorf("sum held earnings: %w", err)
	}

	return max(held, 0), nil
}

// EligibleForPayout returns max(0, money balance - held).
func (uc *BalanceUseCase) EligibleForPayout(ctx context.Context, sellerID string) (int64, error) {
	balance, err := uc.GetBalance(ctx, sellerID, domain.DenominationMoney)
	if err != nil {
		return 0, err
	}

	if balance.Frozen {
		return 0, nil
	}

	held, err := uc.HeldAmount(ctx, sellerID)
	if err != nil {
		return 0, err
	}

	return payable(balance.Amount, held), nil
}

// EligibleForPayoutTx is EligibleForPayout with the balance and holds read
// inside tx, where the caller holds the seller's money account lock.
func (uc *BalanceUseCase) EligibleForPayoutTx(ctx context.Context, tx Transaction, account *domain.LedgerAccount) (int64, error) {
	if account.Frozen {
		return 0, nil
	}

	sellerID := account.Key.Party

	balance, err := uc.entryRepo.SumByPartyTx(ctx, tx, sellerID, domain.DenominationMoney)
	if err != nil {
		return 0, err
	}

	held, err := uc.heldAmountTx(ctx, tx, sellerID)
	if err != nil {
		return 0, err
	}

	return payable(balance, held), nil
}

func payable(balance, held int64) int64 {
	if amount := balance - held; amount > 0 {
		return amount
	}

	return 0
}
