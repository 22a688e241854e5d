package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

// LedgerUseCase is the only writer of ledger entries.
type LedgerUseCase struct {
	tx          txRunner
	accountRepo LedgerAccountRepository
	entryRepo   EntryRepository
	idGen       IDGenerator
	clock       Clock
	metrics     Metrics
	logger      zerolog.Logger
}

// NewLedgerUseCase creates a new LedgerUseCase.
func NewLedgerUseCase(
	txManager TransactionManager,
	accountRepo LedgerAccountRepository,
	entryRepo EntryRepository,
	idGen IDGenerator,
	clock Clock,
	metrics Metrics,
	logger zerolog.Logger,
) *LedgerUseCase {
	return &LedgerUseCase{
		tx:          newTxRunner(txManager),
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		idGen:       idGen,
		clock:       clock,
		metrics:     metrics,
		logger:      logger.With().Str("component", "ledger").Logger(),
	}
}

// WithRetrier sets the retrier used for standalone commits.
func (uc *LedgerUseCase) WithRetrier(r Retrier) *LedgerUseCase {
	uc.tx.retrier = r
	return uc
}

// RecordInput is one atomic set of entries.
type RecordInput struct {
	Entries []*domain.LedgerEntry
	// Settled marks movements that already happened outside the platform
	// (a captured payment, a transfer the rail confirmed, a refund decision).
	// Frozen accounts do not block them.
	Settled bool
}

// Record commits entries in their own transaction.
func (uc *LedgerUseCase) Record(ctx context.Context, input RecordInput) (*domain.CommitResult, error) {
	var result *domain.CommitResult

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		var err error
		result, err = uc.RecordTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RecordTx commits entries inside the caller's transaction. It validates the
// set, checks conservation per order and denomination, locks every touched
// account in sorted order, assigns versions, inserts, and finally re-reads the
// balances that must stay non-negative.
func (uc *LedgerUseCase) RecordTx(ctx context.Context, tx Transaction, input RecordInput) (*domain.CommitResult, error) {
	entries := input.Entries
	if len(entries) == 0 {
		return nil, domain.ErrEmptyEntrySet
	}

	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	if err := domain.CheckConservation(entries); err != nil {
		uc.metrics.UnbalancedEntrySet()
		uc.logger.Error().
			Str("alert", "critical").
			Err(err).
			Int("entries", len(entries)).
			Msg("rejected unbalanced entry set")
		return nil, err
	}

	keys := domain.SortedKeys(entries)

	accounts, err := uc.accountRepo.LockForUpdate(ctx, tx, keys)
	if err != nil {
		return nil, fmt.Errorf("lock ledger accounts: %w", err)
	}

	if len(accounts) != len(keys) {
		return nil, domain.ErrAccountNotFound
	}

	byKey := make(map[domain.AccountKey]*domain.LedgerAccount, len(accounts))
	for _, a := range accounts {
		byKey[a.Key] = a
	}

	if !input.Settled {
		for _, e := range entries {
			from, _ := e.Keys()
			if err := byKey[from].ValidateDebit(); err != nil {
				return nil, fmt.Errorf("%s: %w", from, err)
			}
		}
	}

	now := uc.clock.Now()
	commitID := uc.idGen.Generate()
	debited := make(map[domain.AccountKey]bool)

	for i, e := range entries {
		from, to := e.Keys()

		e.ID = uc.idGen.Generate()
		e.CommitID = commitID
		e.Seq = int64(i)
		e.CreatedAt = now
		e.FromVersion = byKey[from].NextVersion(now)
		e.ToVersion = byKey[to].NextVersion(now)

		debited[from] = true
	}

	if err := uc.entryRepo.CreateBatch(ctx, tx, entries); err != nil {
		return nil, fmt.Errorf("insert entries: %w", err)
	}

	for _, a := range accounts {
		if err := uc.accountRepo.Save(ctx, tx, a); err != nil {
			return nil, fmt.Errorf("save account %s: %w", a.Key, err)
		}
	}

	for _, key := range keys {
		if !debited[key] || !domain.MustStayNonNegative(key.Party, key.Denomination) {
			continue
		}

		balance, err := uc.entryRepo.SumByPartyTx(ctx, tx, key.Party, key.Denomination)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", key, err)
		}

		if balance < 0 {
			return nil, fmt.Errorf("%w: %s short by %d", domain.ErrInsufficientBalance, key, -balance)
		}
	}

	uc.metrics.LedgerCommitted(len(entries))

	return &domain.CommitResult{
		CommitID:    commitID,
		Entries:     entries,
		CommittedAt: now,
	}, nil
}

// EntriesForInput filters a party's entries.
type EntriesForInput struct {
	Party        string
	Denomination domain.Denomination
	AfterVersion int64
	Limit        int
}

// BalanceForUpdateTx locks key's account inside tx and replays its balance, so
// the value cannot change before tx ends.
func (uc *LedgerUseCase) BalanceForUpdateTx(ctx context.Context, tx Transaction, key domain.AccountKey) (int64, error) {
	if _, err := uc.accountRepo.LockForUpdate(ctx, tx, []domain.AccountKey{key}); err != nil {
		return 0, fmt.Errorf("lock %s: %w", key, err)
	}

	return uc.entryRepo.SumByPartyTx(ctx, tx, key.Party, key.Denomination)
}

// EntriesFor returns a party's entries in one denomination ordered by account
// version.
func (uc *LedgerUseCase) EntriesFor(ctx context.Context, input EntriesForInput) ([]*domain.LedgerEntry, error) {
	if input.Party == "" {
		return nil, domain.ErrInvalidParty
	}

	if !input.Denomination.IsValid() {
		return nil, fmt.Errorf("%w: unknown denomination %q", domain.ErrValidation, input.Denomination)
	}

	limit, _, _ := domain.ValidatePagination(input.Limit, 0)

	return uc.entryRepo.ListByParty(ctx, input.Party, input.Denomination, input.AfterVersion, limit)
}

// EntriesForOrder returns every entry linked to an order.
func (uc *LedgerUseCase) EntriesForOrder(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error) {
	return uc.entryRepo.ListByOrder(ctx, orderID)
}

// ConsistencyReport is the result of a ledger-wide conservation check.
type ConsistencyReport struct {
	Consistent bool
	Imbalances []domain.UnbalancedEntrySetError
	CheckedAt  time.Time
}

// CheckConsistency reports every order whose clearing sum is not zero.
func (uc *LedgerUseCase) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	imbalances, err := uc.entryRepo.ListImbalances(ctx)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{
		Consistent: len(imbalances) == 0,
		Imbalances: imbalances,
		CheckedAt:  uc.clock.Now(),
	}

	for i := range imbalances {
		uc.logger.Error().
			Str("alert", "critical").
			Err(&imbalances[i]).
			Msg("ledger conservation violated")
	}

	return report, nil
}
