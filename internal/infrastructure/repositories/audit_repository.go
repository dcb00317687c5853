package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainrepos "github.com/stacklayer/custody-service/internal/domain/repositories"
)

// AuditRepository stores operator actions in an append-only table
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create records one operator action
func (r *AuditRepository) Create(ctx context.Context, log *entities.AuditLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_logs (id, actor_id, action, resource, resource_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.ActorID, log.Action, log.Resource, log.ResourceID, log.Detail, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	return nil
}

// List returns audit entries matching the filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter domainrepos.AuditLogFilter) ([]*entities.AuditLog, error) {
	where, args := buildAuditFilter(filter)

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, actor_id, action, resource, resource_id, detail, created_at
		FROM audit_logs
		%s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d
	`, where, limit, filter.Offset)

	var logs []*entities.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	return logs, nil
}

// Count returns how many audit entries match the filter
func (r *AuditRepository) Count(ctx context.Context, filter domainrepos.AuditLogFilter) (int64, error) {
	where, args := buildAuditFilter(filter)

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM audit_logs %s`, where)
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	return count, nil
}

func buildAuditFilter(filter domainrepos.AuditLogFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if filter.Action != nil {
		add("action = $%d", *filter.Action)
	}
	if filter.Resource != nil {
		add("resource = $%d", *filter.Resource)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
