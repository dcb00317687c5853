package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// getUserID extracts and validates user ID from context
func getUserID(c *gin.Context) (uuid.UUID, error) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}

	switch v := userIDVal.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	default:
		return uuid.Nil, fmt.Errorf("invalid user ID type in context")
	}
}

// getPagination reads limit/offset query params with sane bounds
func getPagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, "INVALID_REQUEST", message, nil)
}

// respondInternalError sends an internal server error
func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

// respondDomainError maps domain errors onto HTTP statuses
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, domainerrors.ErrForbidden):
		respondError(c, http.StatusForbidden, "FORBIDDEN", "access denied", nil)
	case errors.Is(err, domainerrors.ErrInsufficientFunds):
		respondError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error(), nil)
	case errors.Is(err, domainerrors.ErrInvalidState):
		respondError(c, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, domainerrors.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, domainerrors.ErrAlreadyExists):
		respondError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error(), nil)
	default:
		respondInternalError(c, "internal server error")
	}
}
