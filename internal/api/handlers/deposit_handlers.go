package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// AddressProvisioner provisions deposit addresses
type AddressProvisioner interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, chain entities.Chain) (*entities.DepositAddress, error)
}

// DepositReader reads deposits for API responses
type DepositReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.Deposit, error)
}

// DepositHandlers serves deposit endpoints
type DepositHandlers struct {
	addresses AddressProvisioner
	deposits  DepositReader
	logger    *logger.Logger
}

// NewDepositHandlers creates deposit handlers
func NewDepositHandlers(addresses AddressProvisioner, deposits DepositReader, logger *logger.Logger) *DepositHandlers {
	return &DepositHandlers{
		addresses: addresses,
		deposits:  deposits,
		logger:    logger,
	}
}

// GetDepositAddress returns the caller's deposit address on a chain,
// provisioning one on first use
func (h *DepositHandlers) GetDepositAddress(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	chain, err := entities.ParseChain(c.Param("chain"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	addr, err := h.addresses.GetOrCreate(c.Request.Context(), userID, chain)
	if err != nil {
		h.logger.Error("Failed to provision deposit address", "user_id", userID, "chain", chain, "error", err)
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, addr)
}

// ListDeposits returns the caller's deposits
func (h *DepositHandlers) ListDeposits(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	limit, offset := getPagination(c)
	deposits, err := h.deposits.GetByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list deposits", "user_id", userID, "error", err)
		respondInternalError(c, "failed to list deposits")
		return
	}

	c.JSON(http.StatusOK, entities.ListResponse{Data: deposits, Limit: limit, Offset: offset})
}

// GetDeposit returns one of the caller's deposits
func (h *DepositHandlers) GetDeposit(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	depositID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "invalid deposit id")
		return
	}

	deposit, err := h.deposits.GetByID(c.Request.Context(), depositID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if deposit.UserID != userID {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}

	c.JSON(http.StatusOK, deposit)
}
