// internal/interfaces/http/handlers/payment.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/notification"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/pricing"
	"gorm.io/gorm"
)

// PaymentHandler handles payment endpoints
type PaymentHandler struct {
	paymentService *payment.Service
	orderService   *order.Service
	config         *config.Config
	log            *logrus.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(db *gorm.DB, cfg *config.Config, log *logrus.Logger) *PaymentHandler {
	gateway := payment.NewGatewayClient(cfg.Payment)
	orderService := order.NewService(db,
		inventory.NewService(db),
		pricing.NewService(db),
		cart.NewService(db),
		notification.NewService(db))

	return &PaymentHandler{
		paymentService: payment.NewService(db, gateway, cfg, log),
		orderService:   orderService,
		config:         cfg,
		log:            log,
	}
}

// InitiatePayment handles POST /orders/:id/payments. Opens a new payment
// attempt for an order whose earlier attempt failed or was abandoned.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	orderID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Method payment.Method `json:"method" binding:"required,oneof=cash online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	o, err := h.orderService.GetByID(orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	if o.PaymentStatus == order.PaymentStatusPaid {
		c.JSON(http.StatusConflict, gin.H{"error": "Order is already paid"})
		return
	}
	if o.Status == order.StatusCancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "Order is cancelled"})
		return
	}

	pay, err := h.paymentService.CreatePayment(c.Request.Context(), o, req.Method)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Payment initiated",
		"data":    pay,
	})
}

// GetPayment handles GET /payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	pay, err := h.paymentService.GetByID(paymentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": pay})
}

// ConfirmCashPayment handles POST /payments/:id/confirm (staff). Settles a
// cash payment when the money changes hands.
func (h *PaymentHandler) ConfirmCashPayment(c *gin.Context) {
	paymentID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	pay, err := h.paymentService.GetByID(paymentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if pay.Method != payment.MethodCash {
		c.JSON(http.StatusConflict, gin.H{"error": "Only cash payments can be confirmed manually"})
		return
	}

	confirmed, err := h.paymentService.Confirm(c.Request.Context(), paymentID, "")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Payment confirmed",
		"data":    confirmed,
	})
}

// RefundPayment handles POST /payments/:id/refund (staff)
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	paymentID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Amount *int64 `json:"amount" binding:"omitempty,min=1"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	refunded, err := h.paymentService.Refund(c.Request.Context(), paymentID, req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Refund processed",
		"data":    refunded,
	})
}
