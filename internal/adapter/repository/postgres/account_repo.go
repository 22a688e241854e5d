package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const accountColumns = `party, denomination, version, frozen, frozen_reason, created_at, updated_at`

// AccountRepository implements usecase.LedgerAccountRepository.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// LockForUpdate creates missing accounts and locks every key in the order
// given.
func (r *AccountRepository) LockForUpdate(ctx context.Context, tx usecase.Transaction, keys []domain.AccountKey) ([]*domain.LedgerAccount, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return nil, err
	}

	accounts := make([]*domain.LedgerAccount, 0, len(keys))

	for _, key := range keys {
		if _, err := q.Exec(ctx, `
			INSERT INTO ledger_accounts (party, denomination)
			VALUES ($1, $2)
			ON CONFLICT (party, denomination) DO NOTHING`,
			key.Party, string(key.Denomination),
		); err != nil {
			return nil, err
		}

		a, err := scanAccount(q.QueryRow(ctx, `
			SELECT `+accountColumns+`
			FROM ledger_accounts
			WHERE party = $1 AND denomination = $2
			FOR UPDATE`,
			key.Party, string(key.Denomination),
		))
		if err != nil {
			return nil, mapError(err, domain.ErrAccountNotFound)
		}

		accounts = append(accounts, a)
	}

	return accounts, nil
}

// Save persists the version and freeze state of a locked account.
func (r *AccountRepository) Save(ctx context.Context, tx usecase.Transaction, account *domain.LedgerAccount) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE ledger_accounts
		SET version = $3, frozen = $4, frozen_reason = $5, updated_at = $6
		WHERE party = $1 AND denomination = $2`,
		account.Key.Party, string(account.Key.Denomination),
		account.Version, account.Frozen, account.FrozenReason, account.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

func (r *AccountRepository) Get(ctx context.Context, key domain.AccountKey) (*domain.LedgerAccount, error) {
	a, err := scanAccount(r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM ledger_accounts
		WHERE party = $1 AND denomination = $2`,
		key.Party, string(key.Denomination),
	))
	if err != nil {
		return nil, mapError(err, domain.ErrAccountNotFound)
	}

	return a, nil
}

func (r *AccountRepository) ListByParty(ctx context.Context, party string) ([]*domain.LedgerAccount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM ledger_accounts
		WHERE party = $1
		ORDER BY denomination`,
		party,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.LedgerAccount, error) {
		return scanAccount(row)
	})
}

func scanAccount(row pgx.Row) (*domain.LedgerAccount, error) {
	var (
		a            domain.LedgerAccount
		denomination string
	)

	if err := row.Scan(
		&a.Key.Party,
		&denomination,
		&a.Version,
		&a.Frozen,
		&a.FrozenReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Key.Denomination = domain.Denomination(denomination)

	return &a, nil
}
