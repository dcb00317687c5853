package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
)

// AuditLogFilter narrows audit trail queries.
type AuditLogFilter struct {
	ActorID   *uuid.UUID
	Action    *entities.AuditAction
	Resource  *string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// AuditRepository persists the operator audit trail.
type AuditRepository interface {
	Create(ctx context.Context, log *entities.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter) ([]*entities.AuditLog, error)
	Count(ctx context.Context, filter AuditLogFilter) (int64, error)
}
