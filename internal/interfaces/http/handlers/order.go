// internal/interfaces/http/handlers/order.go
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/notification"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/pricing"
	"github.com/your-org/storefront-backend/internal/domain/store"
	"github.com/your-org/storefront-backend/internal/pkg/pdf"
	"gorm.io/gorm"
)

// OrderHandler handles order endpoints
type OrderHandler struct {
	db             *gorm.DB
	orderService   *order.Service
	paymentService *payment.Service
	pdfService     *pdf.Service
	config         *config.Config
	log            *logrus.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(db *gorm.DB, cfg *config.Config, log *logrus.Logger) *OrderHandler {
	orderService := order.NewService(db,
		inventory.NewService(db),
		pricing.NewService(db),
		cart.NewService(db),
		notification.NewService(db))
	gateway := payment.NewGatewayClient(cfg.Payment)

	return &OrderHandler{
		db:             db,
		orderService:   orderService,
		paymentService: payment.NewService(db, gateway, cfg, log),
		pdfService:     pdf.NewService(),
		config:         cfg,
		log:            log,
	}
}

// GetOrder handles GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	o, err := h.orderService.GetByID(orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": o})
}

// GetOrderByNumber handles GET /orders/number/:orderNumber
func (h *OrderHandler) GetOrderByNumber(c *gin.Context) {
	o, err := h.orderService.GetByOrderNumber(c.Param("orderNumber"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": o})
}

// ListOrders handles GET /stores/:storeId/orders (staff)
func (h *OrderHandler) ListOrders(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	status := order.Status(c.Query("status"))

	orders, total, err := h.orderService.ListByStore(storeID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": orders,
		"pagination": gin.H{
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
	})
}

// UpdateStatus handles PUT /orders/:id/status (staff)
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	orderID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status order.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	author := "staff"
	if email, exists := c.Get("user_email"); exists {
		author = fmt.Sprintf("%v", email)
	}

	updated, err := h.orderService.UpdateStatus(c.Request.Context(), orderID, req.Status, author)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order status updated",
		"data":    updated,
	})
}

// CancelOrder handles POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	cancelled, err := h.orderService.Cancel(c.Request.Context(), orderID, req.Reason, h.paymentService, true)
	if err != nil {
		if cancelled != nil {
			// Cancelled but the refund needs attention
			h.log.WithError(err).WithField("order_id", orderID).Error("refund failed after cancellation")
			c.JSON(http.StatusOK, gin.H{
				"message": "Order cancelled, refund pending manual review",
				"data":    cancelled,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Order cancelled",
		"data":    cancelled,
	})
}

// GetReceipt handles GET /orders/:id/receipt
func (h *OrderHandler) GetReceipt(c *gin.Context) {
	orderID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	o, err := h.orderService.GetByID(orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	var st store.Store
	if err := h.db.Where("id = ?", o.StoreID).First(&st).Error; err != nil {
		respondError(c, err)
		return
	}

	buf, err := h.pdfService.GenerateReceipt(&st, o)
	if err != nil {
		h.log.WithError(err).Error("failed to render receipt PDF")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate receipt"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=receipt-%s.pdf", o.OrderNumber))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// GetOrderEvents handles GET /orders/:id/events. Returns the audit trail of
// the order as the dashboard's status feed.
func (h *OrderHandler) GetOrderEvents(c *gin.Context) {
	orderID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	o, err := h.orderService.GetByID(orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	payments, err := h.paymentService.ListByOrder(orderID)
	if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"order_number":   o.OrderNumber,
			"status":         o.Status,
			"payment_status": o.PaymentStatus,
			"notes":          o.Notes,
			"payments":       payments,
			"timestamps": gin.H{
				"created_at":   o.CreatedAt,
				"confirmed_at": o.ConfirmedAt,
				"delivered_at": o.DeliveredAt,
				"cancelled_at": o.CancelledAt,
				"paid_at":      o.PaidAt,
				"refunded_at":  o.RefundedAt,
			},
		},
	})
}
