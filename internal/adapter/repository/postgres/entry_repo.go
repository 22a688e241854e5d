package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

var entryColumnNames = []string{
	"id", "commit_id", "seq", "entry_type", "status",
	"from_party", "to_party", "amount", "denomination", "currency",
	"order_id", "dispute_id", "batch_id", "batch_line_id", "external_reference", "reverses_entry_id",
	"memo", "from_version", "to_version", "created_at",
}

const entryColumns = `id, commit_id, seq, entry_type, status,
	from_party, to_party, amount, denomination, currency,
	order_id, dispute_id, batch_id, batch_line_id, external_reference, reverses_entry_id,
	memo, from_version, to_version, created_at`

// signedFor and versionFor project an entry onto the party bound to $1.
const (
	signedFor  = `CASE WHEN to_party = $1 THEN amount ELSE -amount END`
	versionFor = `CASE WHEN to_party = $1 THEN to_version ELSE from_version END`
)

// EntryRepository implements usecase.EntryRepository. Rows are append-only;
// the schema rejects UPDATE and DELETE.
type EntryRepository struct {
	db DBTX
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(db DBTX) *EntryRepository {
	return &EntryRepository{db: db}
}

// CreateBatch copies entries into the ledger inside tx.
func (r *EntryRepository) CreateBatch(ctx context.Context, tx usecase.Transaction, entries []*domain.LedgerEntry) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	_, err = q.CopyFrom(ctx, pgx.Identifier{"ledger_entries"}, entryColumnNames,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{
				e.ID, e.CommitID, e.Seq, string(e.Type), string(e.Status),
				e.FromParty, e.ToParty, e.Amount, string(e.Denomination), e.Currency,
				e.OrderID, e.DisputeID, e.BatchID, e.BatchLineID, e.ExternalReference, e.ReversesEntryID,
				e.Memo, e.FromVersion, e.ToVersion, e.CreatedAt,
			}, nil
		}),
	)

	return mapError(err, nil)
}

func (r *EntryRepository) ListByParty(ctx context.Context, party string, d domain.Denomination, afterVersion int64, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE denomination = $2
		  AND ((to_party = $1 AND to_version > $3) OR (from_party = $1 AND from_version > $3))
		ORDER BY `+versionFor+`
		LIMIT $4`,
		party, string(d), afterVersion, limitArg(limit),
	)
	if err != nil {
		return nil, err
	}

	return collectEntries(rows)
}

func (r *EntryRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE order_id = $1
		ORDER BY created_at, commit_id, seq`,
		orderID,
	)
	if err != nil {
		return nil, err
	}

	return collectEntries(rows)
}

func (r *EntryRepository) SumByPartyTx(ctx context.Context, tx usecase.Transaction, party string, d domain.Denomination) (int64, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return 0, err
	}

	return sumInt64(q.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+signedFor+`), 0)::BIGINT
		FROM ledger_entries
		WHERE denomination = $2 AND (to_party = $1 OR from_party = $1)`,
		party, string(d),
	))
}

func (r *EntryRepository) SumUpTo(ctx context.Context, party string, d domain.Denomination, version int64) (int64, error) {
	return sumInt64(r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+signedFor+`), 0)::BIGINT
		FROM ledger_entries
		WHERE denomination = $2
		  AND (to_party = $1 OR from_party = $1)
		  AND `+versionFor+` <= $3`,
		party, string(d), version,
	))
}

func (r *EntryRepository) SumForOrders(ctx context.Context, party string, d domain.Denomination, orderIDs []string) (int64, error) {
	return sumForOrders(ctx, r.db, party, d, orderIDs)
}

func (r *EntryRepository) SumForOrdersTx(ctx context.Context, tx usecase.Transaction, party string, d domain.Denomination, orderIDs []string) (int64, error) {
	q, err := pgxTx(tx)
	if err != nil {
		return 0, err
	}

	return sumForOrders(ctx, q, party, d, orderIDs)
}

func sumForOrders(ctx context.Context, q DBTX, party string, d domain.Denomination, orderIDs []string) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}

	return sumInt64(q.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+signedFor+`), 0)::BIGINT
		FROM ledger_entries
		WHERE denomination = $2
		  AND (to_party = $1 OR from_party = $1)
		  AND order_id = ANY($3)`,
		party, string(d), orderIDs,
	))
}

func (r *EntryRepository) ListImbalances(ctx context.Context) ([]domain.UnbalancedEntrySetError, error) {
	rows, err := r.db.Query(ctx, `
		SELECT order_id, denomination, imbalance
		FROM (
			SELECT order_id, denomination,
			       SUM(CASE WHEN to_party = $1 THEN amount WHEN from_party = $1 THEN -amount ELSE 0 END)::BIGINT AS imbalance
			FROM ledger_entries
			WHERE order_id IS NOT NULL
			GROUP BY order_id, denomination
		) sums
		WHERE imbalance <> 0
		ORDER BY order_id, denomination`,
		domain.PartyClearing,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UnbalancedEntrySetError, error) {
		var (
			out          domain.UnbalancedEntrySetError
			denomination string
		)
		err := row.Scan(&out.OrderID, &denomination, &out.Imbalance)
		out.Denomination = domain.Denomination(denomination)
		return out, err
	})
}

func sumInt64(row pgx.Row) (int64, error) {
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, err
	}

	return sum, nil
}

func collectEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.LedgerEntry, error) {
		var (
			e                               domain.LedgerEntry
			entryType, status, denomination string
		)

		if err := row.Scan(
			&e.ID, &e.CommitID, &e.Seq, &entryType, &status,
			&e.FromParty, &e.ToParty, &e.Amount, &denomination, &e.Currency,
			&e.OrderID, &e.DisputeID, &e.BatchID, &e.BatchLineID, &e.ExternalReference, &e.ReversesEntryID,
			&e.Memo, &e.FromVersion, &e.ToVersion, &e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.Type = domain.EntryType(entryType)
		e.Status = domain.EntryStatus(status)
		e.Denomination = domain.Denomination(denomination)

		return &e, nil
	})
}
