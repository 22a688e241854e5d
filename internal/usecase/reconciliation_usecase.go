package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

// ReconciliationUseCase compares cached balances against a full ledger replay
// and freezes users whose cache disagrees.
type ReconciliationUseCase struct {
	tx          txRunner
	accountRepo LedgerAccountRepository
	entryRepo   EntryRepository
	balances    *BalanceUseCase
	cache       BalanceCache
	outbox      outboxWriter
	audit       auditWriter
	clock       Clock
	metrics     Metrics
	logger      zerolog.Logger
}

// ReconciliationUseCaseParams configure the reconciliation use case.
type ReconciliationUseCaseParams struct {
	TxManager   TransactionManager
	AccountRepo LedgerAccountRepository
	EntryRepo   EntryRepository
	OutboxRepo  OutboxRepository
	AuditRepo   AuditRepository
	Balances    *BalanceUseCase
	Cache       BalanceCache
	IDGen       IDGenerator
	Clock       Clock
	Metrics     Metrics
	Logger      zerolog.Logger
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(p ReconciliationUseCaseParams) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		tx:          newTxRunner(p.TxManager),
		accountRepo: p.AccountRepo,
		entryRepo:   p.EntryRepo,
		balances:    p.Balances,
		cache:       p.Cache,
		outbox:      outboxWriter{repo: p.OutboxRepo, idGen: p.IDGen, clock: p.Clock},
		audit:       auditWriter{repo: p.AuditRepo, idGen: p.IDGen, clock: p.Clock},
		clock:       p.Clock,
		metrics:     p.Metrics,
		logger:      p.Logger.With().Str("component", "reconciliation").Logger(),
	}
}

// WithRetrier sets the retrier used for freeze transactions.
func (uc *ReconciliationUseCase) WithRetrier(r Retrier) *ReconciliationUseCase {
	uc.tx.retrier = r
	return uc
}

// ReconciliationResult represents the result of a reconciliation check for
// one denomination.
type ReconciliationResult struct {
	Denomination domain.Denomination
	Cached       int64
	Replayed     int64
	Offset       int64
	WasCached    bool
	IsReconciled bool
}

// ReconciliationReport is the outcome of reconciling one user.
type ReconciliationReport struct {
	UserID    string
	Results   []ReconciliationResult
	Frozen    bool
	CheckedAt time.Time
}

// Reconcile replays the user's full ledger up to each cached offset and
// compares it with the cached balance. Any disagreement freezes all of the
// user's accounts and returns a *domain.ReconciliationMismatchError together
// with the report.
func (uc *ReconciliationUseCase) Reconcile(ctx context.Context, userID string) (*ReconciliationReport, error) {
	if err := domain.ValidatePartyID(userID); err != nil {
		return nil, err
	}

	report := &ReconciliationReport{UserID: userID, CheckedAt: uc.clock.Now()}

	var mismatch *domain.ReconciliationMismatchError

	for _, d := range denominations {
		key := domain.AccountKey{Party: userID, Denomination: d}

		cached, ok, err := uc.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read cached balance %s: %w", key, err)
		}

		result := ReconciliationResult{Denomination: d, WasCached: ok}

		if !ok {
			// Nothing cached: seed the cache from a full replay.
			balance, err := uc.balances.GetBalance(ctx, userID, d)
			if err != nil {
				return nil, err
			}
			result.Cached = balance.Amount
			result.Replayed = balance.Amount
			result.Offset = balance.Offset
			result.IsReconciled = true
			report.Results = append(report.Results, result)
			continue
		}

		replayed, err := uc.entryRepo.SumUpTo(ctx, userID, d, cached.Offset)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", key, err)
		}

		consistentOffset, err := uc.offsetExists(ctx, key, cached.Offset)
		if err != nil {
			return nil, err
		}

		result.Cached = cached.Balance
		result.Replayed = replayed
		result.Offset = cached.Offset
		result.IsReconciled = replayed == cached.Balance && consistentOffset
		report.Results = append(report.Results, result)

		if !result.IsReconciled && mismatch == nil {
			mismatch = &domain.ReconciliationMismatchError{
				Party:        userID,
				Denomination: d,
				Cached:       cached.Balance,
				Replayed:     replayed,
			}
		}
	}

	if mismatch == nil {
		frozen, err := uc.balances.IsFrozen(ctx, userID)
		if err != nil {
			return nil, err
		}
		report.Frozen = frozen
		return report, nil
	}

	uc.metrics.ReconciliationMismatch()
	uc.logger.Error().
		Str("alert", "critical").
		Str("user_id", userID).
		Str("denomination", string(mismatch.Denomination)).
		Int64("cached", mismatch.Cached).
		Int64("replayed", mismatch.Replayed).
		Msg("cached balance disagrees with ledger replay, freezing user")

	if err := uc.setFrozen(ctx, userID, true, domain.ActorSystem, mismatch.Error()); err != nil {
		return nil, fmt.Errorf("freeze %s: %w", userID, err)
	}

	// The ledger is the truth; rebuild the cache from it on the next read.
	if err := uc.balances.Invalidate(ctx, userID); err != nil {
		uc.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to drop mismatched cache")
	}

	report.Frozen = true

	return report, mismatch
}

// offsetExists reports whether the account has actually reached offset.
func (uc *ReconciliationUseCase) offsetExists(ctx context.Context, key domain.AccountKey, offset int64) (bool, error) {
	if offset == 0 {
		return true, nil
	}

	account, err := uc.accountRepo.Get(ctx, key)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return account.Version >= offset, nil
}

// Unfreeze lifts an audit freeze after manual review.
func (uc *ReconciliationUseCase) Unfreeze(ctx context.Context, userID, actor string) error {
	if err := domain.ValidatePartyID(userID); err != nil {
		return err
	}

	if err := uc.setFrozen(ctx, userID, false, actor, ""); err != nil {
		return err
	}

	return uc.balances.Invalidate(ctx, userID)
}

func (uc *ReconciliationUseCase) setFrozen(ctx context.Context, userID string, frozen bool, actor, reason string) error {
	keys := make([]domain.AccountKey, 0, len(denominations))
	for _, d := range denominations {
		keys = append(keys, domain.AccountKey{Party: userID, Denomination: d})
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	return uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		accounts, err := uc.accountRepo.LockForUpdate(ctx, tx, keys)
		if err != nil {
			return err
		}

		now := uc.clock.Now()
		action := domain.AuditActionAccountFreeze
		if !frozen {
			action = domain.AuditActionAccountUnfreeze
		}

		for _, a := range accounts {
			before := *a
			if frozen {
				a.Freeze(reason, now)
			} else {
				a.Unfreeze(now)
			}

			if err := uc.accountRepo.Save(ctx, tx, a); err != nil {
				return err
			}

			if err := uc.audit.write(ctx, tx, actor, action, "ledger_account", a.Key.String(), before, a); err != nil {
				return err
			}
		}

		if frozen {
			return uc.outbox.write(ctx, tx, domain.AggregateTypeUser, userID, domain.EventTypeReconcileMismatch, map[string]any{
				"user_id": userID,
				"reason":  reason,
			})
		}

		return nil
	})
}
