package entities

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies an operator action recorded in the audit trail.
type AuditAction string

const (
	AuditActionDenylistAdd       AuditAction = "denylist.add"
	AuditActionDenylistRemove    AuditAction = "denylist.remove"
	AuditActionWithdrawalApprove AuditAction = "withdrawal.approve"
	AuditActionWithdrawalReject  AuditAction = "withdrawal.reject"
	AuditActionConfirmSweep      AuditAction = "deposits.confirm_sweep"
)

// AuditLog is one operator action. Rows are written by the admin API
// and never updated.
type AuditLog struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	ActorID    uuid.UUID   `json:"actor_id" db:"actor_id"`
	Action     AuditAction `json:"action" db:"action"`
	Resource   string      `json:"resource" db:"resource"`
	ResourceID string      `json:"resource_id" db:"resource_id"`
	Detail     string      `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}
