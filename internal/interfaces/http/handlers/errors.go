// internal/interfaces/http/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/pricing"
)

// respondError maps domain errors onto HTTP status codes with a structured
// body. Unrecognized errors become opaque 500s so internals never leak.
func respondError(c *gin.Context, err error) {
	var stockErr *inventory.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Insufficient stock",
			"details": gin.H{
				"product":   stockErr.ProductName,
				"available": stockErr.Available,
				"requested": stockErr.Requested,
			},
		})
		return
	}

	var couponErr *pricing.CouponError
	if errors.As(err, &couponErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Coupon rejected",
			"details": gin.H{
				"code":   couponErr.Code,
				"reason": couponErr.Reason,
			},
		})
		return
	}

	var transitionErr *order.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Invalid status transition",
			"details": transitionErr.Error(),
		})
		return
	}

	var statusErr *payment.InvalidStatusError
	if errors.As(err, &statusErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Invalid payment transition",
			"details": statusErr.Error(),
		})
		return
	}

	var gatewayErr *payment.GatewayError
	if errors.As(err, &gatewayErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Payment gateway error",
			"details": gatewayErr.Message,
		})
		return
	}

	switch {
	case errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, payment.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, order.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrRefundExceedsAmount),
		errors.Is(err, payment.ErrNothingToRefund):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// parseUUIDParam reads a UUID path parameter, writing a 400 on failure
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return uuid.Nil, false
	}
	return id, true
}
