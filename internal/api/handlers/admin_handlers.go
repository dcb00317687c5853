package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/internal/domain/repositories"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// DepositSweeper runs confirmation sweeps on demand
type DepositSweeper interface {
	CheckPendingDeposits(ctx context.Context) (*entities.ConfirmationSweepResult, error)
}

// WithdrawalReviewer is the operator surface for withdrawals
type WithdrawalReviewer interface {
	Review(ctx context.Context, reviewerID, withdrawalID uuid.UUID, approve bool, reason string) (*entities.Withdrawal, error)
	ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error)
}

// DenylistManager manages blocked destinations
type DenylistManager interface {
	Add(ctx context.Context, entry *entities.DenylistEntry) error
	Remove(ctx context.Context, chain entities.Chain, address string) error
	List(ctx context.Context) ([]*entities.DenylistEntry, error)
}

// ConservationChecker audits ledger invariants
type ConservationChecker interface {
	CheckConservation(ctx context.Context, assetID string) (available, locked decimal.Decimal, err error)
}

// AdminHandlers serves operator endpoints
type AdminHandlers struct {
	sweeper      DepositSweeper
	withdrawals  WithdrawalReviewer
	denylist     DenylistManager
	conservation ConservationChecker
	audit        repositories.AuditRepository
	logger       *logger.Logger
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(
	sweeper DepositSweeper,
	withdrawals WithdrawalReviewer,
	denylist DenylistManager,
	conservation ConservationChecker,
	audit repositories.AuditRepository,
	logger *logger.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		sweeper:      sweeper,
		withdrawals:  withdrawals,
		denylist:     denylist,
		conservation: conservation,
		audit:        audit,
		logger:       logger,
	}
}

// recordAudit writes the action to the audit trail. Failures are
// logged, not surfaced: the action itself already happened.
func (h *AdminHandlers) recordAudit(c *gin.Context, action entities.AuditAction, resource, resourceID, detail string) {
	actorID, err := getUserID(c)
	if err != nil {
		return
	}

	entry := &entities.AuditLog{
		ActorID:    actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Detail:     detail,
	}
	if err := h.audit.Create(c.Request.Context(), entry); err != nil {
		h.logger.Error("Failed to record audit entry", "action", action, "error", err)
	}
}

// ConfirmDeposits triggers a confirmation sweep immediately
func (h *AdminHandlers) ConfirmDeposits(c *gin.Context) {
	result, err := h.sweeper.CheckPendingDeposits(c.Request.Context())
	if err != nil {
		h.logger.Error("Manual confirmation sweep failed", "error", err)
		respondInternalError(c, "confirmation sweep failed")
		return
	}

	h.recordAudit(c, entities.AuditActionConfirmSweep, "deposits", "",
		fmt.Sprintf("checked=%d confirmed=%d failed=%d", result.Checked, result.Confirmed, result.Failed))

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"checked":   result.Checked,
		"confirmed": result.Confirmed,
		"failed":    result.Failed,
		"timestamp": time.Now().UTC(),
	})
}

// ListWithdrawalsByStatus returns withdrawals in a status for review
func (h *AdminHandlers) ListWithdrawalsByStatus(c *gin.Context) {
	status := entities.WithdrawalStatus(c.DefaultQuery("status", string(entities.WithdrawalStatusRiskReview)))
	if !status.IsValid() {
		respondBadRequest(c, "invalid status")
		return
	}

	limit, _ := getPagination(c)
	withdrawals, err := h.withdrawals.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		h.logger.Error("Failed to list withdrawals for review", "status", status, "error", err)
		respondInternalError(c, "failed to list withdrawals")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": withdrawals, "status": status})
}

// ReviewWithdrawal records an operator decision
func (h *AdminHandlers) ReviewWithdrawal(c *gin.Context) {
	reviewerID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	withdrawalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid withdrawal id")
		return
	}

	var req entities.WithdrawalReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	withdrawal, err := h.withdrawals.Review(c.Request.Context(), reviewerID, withdrawalID, req.Approve, req.Reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	action := entities.AuditActionWithdrawalReject
	if req.Approve {
		action = entities.AuditActionWithdrawalApprove
	}
	h.recordAudit(c, action, "withdrawal", withdrawalID.String(), req.Reason)

	c.JSON(http.StatusOK, withdrawal)
}

type denylistRequest struct {
	Chain   string `json:"chain" binding:"required"`
	Address string `json:"address" binding:"required"`
	Reason  string `json:"reason"`
}

// AddDenylistEntry blocks a destination address
func (h *AdminHandlers) AddDenylistEntry(c *gin.Context) {
	var req denylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	chain, err := entities.ParseChain(req.Chain)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	entry := &entities.DenylistEntry{
		Chain:   chain,
		Address: chain.NormalizeAddress(req.Address),
		Reason:  req.Reason,
	}
	if err := h.denylist.Add(c.Request.Context(), entry); err != nil {
		respondDomainError(c, err)
		return
	}

	h.recordAudit(c, entities.AuditActionDenylistAdd, "denylist",
		fmt.Sprintf("%s:%s", entry.Chain, entry.Address), entry.Reason)

	c.JSON(http.StatusCreated, entry)
}

// RemoveDenylistEntry unblocks a destination address
func (h *AdminHandlers) RemoveDenylistEntry(c *gin.Context) {
	chain, err := entities.ParseChain(c.Param("chain"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	address := chain.NormalizeAddress(c.Param("address"))
	if err := h.denylist.Remove(c.Request.Context(), chain, address); err != nil {
		respondDomainError(c, err)
		return
	}

	h.recordAudit(c, entities.AuditActionDenylistRemove, "denylist",
		fmt.Sprintf("%s:%s", chain, address), "")

	c.Status(http.StatusNoContent)
}

// ListDenylist returns all blocked destinations
func (h *AdminHandlers) ListDenylist(c *gin.Context) {
	entries, err := h.denylist.List(c.Request.Context())
	if err != nil {
		respondInternalError(c, "failed to list denylist")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// ListAuditLogs returns the operator audit trail, newest first
func (h *AdminHandlers) ListAuditLogs(c *gin.Context) {
	limit, offset := getPagination(c)
	filter := repositories.AuditLogFilter{Limit: limit, Offset: offset}

	if actor := c.Query("actor_id"); actor != "" {
		actorID, err := uuid.Parse(actor)
		if err != nil {
			respondBadRequest(c, "invalid actor_id")
			return
		}
		filter.ActorID = &actorID
	}
	if action := c.Query("action"); action != "" {
		a := entities.AuditAction(action)
		filter.Action = &a
	}

	logs, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list audit logs", "error", err)
		respondInternalError(c, "failed to list audit logs")
		return
	}

	total, err := h.audit.Count(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to count audit logs", "error", err)
		respondInternalError(c, "failed to list audit logs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// CheckConservation audits one asset's ledger totals
func (h *AdminHandlers) CheckConservation(c *gin.Context) {
	assetID := c.Param("asset")
	available, locked, err := h.conservation.CheckConservation(c.Request.Context(), assetID)
	if err != nil {
		h.logger.Error("Conservation check failed", "asset", assetID, "error", err)
		respondError(c, http.StatusConflict, "CONSERVATION_VIOLATION", err.Error(), map[string]interface{}{
			"available": available.String(),
			"locked":    locked.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset":      assetID,
		"available":  available.String(),
		"locked":     locked.String(),
		"checked_at": time.Now().UTC(),
	})
}
