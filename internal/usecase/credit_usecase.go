package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/domain"
)

// CreditUseCase issues platform credits. Grants are the only way credits
// enter circulation.
type CreditUseCase struct {
	tx       txRunner
	ledger   *LedgerUseCase
	balances *BalanceUseCase
	outbox   outboxWriter
	audit    auditWriter
	logger   zerolog.Logger
}

// NewCreditUseCase creates a new CreditUseCase.
func NewCreditUseCase(
	txManager TransactionManager,
	ledger *LedgerUseCase,
	balances *BalanceUseCase,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	clock Clock,
	logger zerolog.Logger,
) *CreditUseCase {
	return &CreditUseCase{
		tx:       newTxRunner(txManager),
		ledger:   ledger,
		balances: balances,
		outbox:   outboxWriter{repo: outboxRepo, idGen: idGen, clock: clock},
		audit:    auditWriter{repo: auditRepo, idGen: idGen, clock: clock},
		logger:   logger.With().Str("component", "credits").Logger(),
	}
}

// WithRetrier sets the retrier used for grant transactions.
func (uc *CreditUseCase) WithRetrier(r Retrier) *CreditUseCase {
	uc.tx.retrier = r
	return uc
}

// GrantCreditsInput represents input for granting credits.
type GrantCreditsInput struct {
	UserID string
	Amount int64
	Memo   string
	Actor  string
}

// Grant records an adjustment entry moving credits from issuance to the user.
func (uc *CreditUseCase) Grant(ctx context.Context, input GrantCreditsInput) (*domain.CommitResult, error) {
	if err := domain.ValidatePartyID(input.UserID); err != nil {
		return nil, err
	}

	if err := domain.ValidateAmount(input.Amount); err != nil {
		return nil, err
	}

	memo := input.Memo
	if memo == "" {
		memo = "credit grant"
	}

	var result *domain.CommitResult

	err := uc.tx.run(ctx, func(ctx context.Context, tx Transaction) error {
		var err error
		result, err = uc.ledger.RecordTx(ctx, tx, RecordInput{
			Entries: []*domain.LedgerEntry{domain.CreditGrantEntry(input.UserID, input.Amount, memo)},
		})
		if err != nil {
			return err
		}

		if err := uc.outbox.write(ctx, tx, domain.AggregateTypeUser, input.UserID, domain.EventTypeCreditsGranted, map[string]any{
			"user_id":   input.UserID,
			"amount":    input.Amount,
			"commit_id": result.CommitID,
		}); err != nil {
			return err
		}

		return uc.audit.write(ctx, tx, input.Actor, domain.AuditActionCreditGrant, domain.AggregateTypeUser, input.UserID, nil, map[string]any{
			"amount":    input.Amount,
			"memo":      memo,
			"commit_id": result.CommitID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("grant credits: %w", err)
	}

	uc.balances.Refresh(ctx, domain.DenominationCredits, input.UserID)

	uc.logger.Info().
		Str("user_id", input.UserID).
		Int64("amount", input.Amount).
		Str("commit_id", result.CommitID).
		Msg("credits granted")

	return result, nil
}
