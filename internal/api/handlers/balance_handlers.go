package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// BalanceReader reads balances and ledger history
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID, assetID string) (*entities.Balance, error)
	GetEntries(ctx context.Context, userID uuid.UUID, assetID string, limit, offset int) ([]*entities.LedgerEntry, error)
}

// BalanceHandlers serves balance and ledger endpoints
type BalanceHandlers struct {
	ledger BalanceReader
	logger *logger.Logger
}

// NewBalanceHandlers creates balance handlers
func NewBalanceHandlers(ledger BalanceReader, logger *logger.Logger) *BalanceHandlers {
	return &BalanceHandlers{ledger: ledger, logger: logger}
}

// GetBalance returns the caller's balance in an asset
func (h *BalanceHandlers) GetBalance(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	assetID := c.Param("asset")
	if assetID == "" {
		respondBadRequest(c, "asset is required")
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), userID, assetID)
	if err != nil {
		h.logger.Error("Failed to get balance", "user_id", userID, "asset", assetID, "error", err)
		respondInternalError(c, "failed to get balance")
		return
	}

	c.JSON(http.StatusOK, balance)
}

// ListLedgerEntries returns the caller's ledger history in an asset
func (h *BalanceHandlers) ListLedgerEntries(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}

	assetID := c.Param("asset")
	limit, offset := getPagination(c)

	entries, err := h.ledger.GetEntries(c.Request.Context(), userID, assetID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list ledger entries", "user_id", userID, "error", err)
		respondInternalError(c, "failed to list ledger entries")
		return
	}

	c.JSON(http.StatusOK, entities.ListResponse{Data: entries, Limit: limit, Offset: offset})
}
