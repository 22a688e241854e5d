package postgres

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const auditColumns = `id, actor, action, resource_type, resource_id, request_id,
	before_state, after_state, status, error_message, created_at`

// AuditRepository implements audit log persistence
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateTx inserts an audit log entry in the same transaction as the change
// it describes.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	q, err := pgxTx(tx)
	if err != nil {
		return err
	}

	before, err := marshalState(log.BeforeState)
	if err != nil {
		return err
	}

	after, err := marshalState(log.AfterState)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID, log.Actor, string(log.Action), log.ResourceType, log.ResourceID, log.RequestID,
		before, after, string(log.Status), log.ErrorMessage, log.CreatedAt,
	)

	return err
}

// List retrieves audit logs with filtering, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`
	args := []any{}

	add := func(clause string, v any) {
		args = append(args, v)
		query += " AND " + clause + " $" + strconv.Itoa(len(args))
	}

	if filter.Actor != "" {
		add("actor =", filter.Actor)
	}

	if filter.Action != "" {
		add("action =", string(filter.Action))
	}

	if filter.ResourceType != "" {
		add("resource_type =", filter.ResourceType)
	}

	if filter.ResourceID != "" {
		add("resource_id =", filter.ResourceID)
	}

	if filter.StartDate != nil {
		add("created_at >=", *filter.StartDate)
	}

	if filter.EndDate != nil {
		add("created_at <=", *filter.EndDate)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.AuditLog, error) {
		var (
			log                   domain.AuditLog
			action, status        string
			beforeJSON, afterJSON []byte
		)

		if err := row.Scan(
			&log.ID, &log.Actor, &action, &log.ResourceType, &log.ResourceID, &log.RequestID,
			&beforeJSON, &afterJSON, &status, &log.ErrorMessage, &log.CreatedAt,
		); err != nil {
			return nil, err
		}

		log.Action = domain.AuditAction(action)
		log.Status = domain.AuditStatus(status)

		if beforeJSON != nil {
			_ = json.Unmarshal(beforeJSON, &log.BeforeState)
		}

		if afterJSON != nil {
			_ = json.Unmarshal(afterJSON, &log.AfterState)
		}

		return &log, nil
	})
}

func marshalState(state domain.JSON) ([]byte, error) {
	if state == nil {
		return nil, nil
	}

	return json.Marshal(state)
}
