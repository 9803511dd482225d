package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"stockcart-backend/cart"
	"stockcart-backend/ledger"
	"stockcart-backend/reservation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps domain errors onto HTTP responses. Unexpected errors are
// logged and reported as 500 without detail.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var stockErr *ledger.StockError
	switch {
	case errors.Is(err, reservation.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.As(err, &stockErr) && stockErr.NotFound,
		errors.Is(err, ledger.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})

	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     fmt.Sprintf("Insufficient stock. Available: %d, Requested: %d", stockErr.Available, stockErr.Requested),
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})

	case errors.Is(err, ledger.ErrLockTimeout):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stock is busy, please retry"})

	default:
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
	_ = c.Error(err)
}
