// internal/interfaces/http/handlers/webhook.go
package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
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

// WebhookHandler handles provider webhook deliveries
type WebhookHandler struct {
	reconciler *payment.Reconciler
	config     *config.Config
	log        *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(db *gorm.DB, cfg *config.Config, log *logrus.Logger) *WebhookHandler {
	gateway := payment.NewGatewayClient(cfg.Payment)
	paymentService := payment.NewService(db, gateway, cfg, log)
	orderService := order.NewService(db,
		inventory.NewService(db),
		pricing.NewService(db),
		cart.NewService(db),
		notification.NewService(db))

	return &WebhookHandler{
		reconciler: payment.NewReconciler(db, gateway, paymentService, orderService, log),
		config:     cfg,
		log:        log,
	}
}

// HandlePaymentWebhook handles POST /webhooks/payments. The signature is
// validated before any processing. Once the payload parses, the response is
// always 200 so the provider stops retrying; real outcomes live in the
// event log.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if !h.verifySignature(body, signature) {
		h.log.WithField("client_ip", c.ClientIP()).Warn("webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	event, err := h.reconciler.ProcessNotification(c.Request.Context(), body)
	if err != nil {
		h.log.WithError(err).Error("webhook processing failed")
	}

	resp := gin.H{"received": true}
	if event != nil {
		resp["event_id"] = event.EventID
		resp["status"] = event.Status
	}
	c.JSON(http.StatusOK, resp)
}

// verifySignature checks the HMAC-SHA256 signature over the raw body
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	secret := h.config.Payment.WebhookSecret
	if secret == "" {
		// Without a configured secret nothing can be verified; reject in
		// production, accept in development for local testing.
		return !h.config.IsProduction()
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
