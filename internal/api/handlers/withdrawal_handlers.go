package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/internal/domain/services"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// WithdrawalManager is the service surface the withdrawal handlers use
type WithdrawalManager interface {
	Request(ctx context.Context, userID uuid.UUID, req *entities.WithdrawalRequest) (*entities.Withdrawal, error)
	Cancel(ctx context.Context, userID, withdrawalID uuid.UUID) (*entities.Withdrawal, error)
	GetByID(ctx context.Context, userID, withdrawalID uuid.UUID) (*entities.Withdrawal, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Withdrawal, error)
}

// WithdrawalHandlers serves withdrawal endpoints
type WithdrawalHandlers struct {
	withdrawals WithdrawalManager
	logger      *logger.Logger
}

// NewWithdrawalHandlers creates withdrawal handlers
func NewWithdrawalHandlers(withdrawals WithdrawalManager, logger *logger.Logger) *WithdrawalHandlers {
	return &WithdrawalHandlers{withdrawals: withdrawals, logger: logger}
}

// CreateWithdrawal submits a new withdrawal request
func (h *WithdrawalHandlers) CreateWithdrawal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	var req entities.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	withdrawal, err := h.withdrawals.Request(c.Request.Context(), userID, &req)
	if err != nil {
		if errors.Is(err, services.ErrDestinationDenied) {
			respondError(c, http.StatusUnprocessableEntity, "DESTINATION_DENIED", "destination address is not allowed", nil)
			return
		}
		h.logger.Error("Failed to create withdrawal", "user_id", userID, "error", err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal)
}

// ListWithdrawals returns the caller's withdrawals
func (h *WithdrawalHandlers) ListWithdrawals(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	limit, offset := getPagination(c)
	withdrawals, err := h.withdrawals.ListForUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list withdrawals", "user_id", userID, "error", err)
		respondInternalError(c, "failed to list withdrawals")
		return
	}

	c.JSON(http.StatusOK, entities.ListResponse{Data: withdrawals, Limit: limit, Offset: offset})
}

// GetWithdrawal returns one of the caller's withdrawals
func (h *WithdrawalHandlers) GetWithdrawal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	withdrawalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid withdrawal id")
		return
	}

	withdrawal, err := h.withdrawals.GetByID(c.Request.Context(), userID, withdrawalID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, withdrawal)
}

// CancelWithdrawal cancels one of the caller's withdrawals if it has
// not been approved yet
func (h *WithdrawalHandlers) CancelWithdrawal(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	withdrawalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid withdrawal id")
		return
	}

	withdrawal, err := h.withdrawals.Cancel(c.Request.Context(), userID, withdrawalID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, withdrawal)
}
