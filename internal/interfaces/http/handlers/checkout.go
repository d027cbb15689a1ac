// internal/interfaces/http/handlers/checkout.go
package handlers

import (
	"errors"
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
	"github.com/your-org/storefront-backend/internal/domain/store"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"github.com/your-org/storefront-backend/internal/pkg/maps"
	"gorm.io/gorm"
)

// CheckoutHandler handles quote and order placement endpoints
type CheckoutHandler struct {
	db             *gorm.DB
	cartService    *cart.Service
	pricingService *pricing.Service
	orderService   *order.Service
	paymentService *payment.Service
	mapsClient     *maps.Client
	config         *config.Config
	log            *logrus.Logger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(db *gorm.DB, cfg *config.Config, log *logrus.Logger) *CheckoutHandler {
	cartService := cart.NewService(db)
	pricingService := pricing.NewService(db)
	orderService := order.NewService(db,
		inventory.NewService(db),
		pricingService,
		cartService,
		notification.NewService(db))
	gateway := payment.NewGatewayClient(cfg.Payment)

	return &CheckoutHandler{
		db:             db,
		cartService:    cartService,
		pricingService: pricingService,
		orderService:   orderService,
		paymentService: payment.NewService(db, gateway, cfg, log),
		mapsClient:     maps.NewClient(cfg.Maps, log),
		config:         cfg,
		log:            log,
	}
}

// QuoteRequest represents a checkout quote request
type QuoteRequest struct {
	FulfillmentType order.FulfillmentType `json:"fulfillment_type" binding:"required,oneof=delivery pickup"`
	DeliveryAddress string                `json:"delivery_address"`
	DeliveryZip     string                `json:"delivery_zip"`
	DeliveryLat     float64               `json:"delivery_lat"`
	DeliveryLng     float64               `json:"delivery_lng"`
	CouponCode      string                `json:"coupon_code"`
}

// Quote handles POST /stores/:storeId/checkout/quote. It prices the current
// cart without placing anything: delivery fee, coupon validation and totals.
func (h *CheckoutHandler) Quote(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var st store.Store
	if err := h.db.Where("id = ? AND is_active = ?", storeID, true).First(&st).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Store not found"})
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionKey := sessionKeyFrom(c)
	current, err := h.cartService.GetActiveCart(storeID, userID, sessionKey)
	if err != nil {
		respondError(c, err)
		return
	}

	violations := h.cartService.ValidateForCheckout(current)

	distanceKm := h.resolveDistance(c, &st, &req)
	isPickup := req.FulfillmentType == order.FulfillmentPickup
	deliveryFee, err := h.pricingService.CalculateDeliveryFee(&st, isPickup, distanceKm, req.DeliveryZip)
	if err != nil {
		respondError(c, err)
		return
	}

	subtotal := current.Subtotal()

	var couponResult gin.H
	var coupon *store.Coupon
	if req.CouponCode != "" {
		coupon, err = h.pricingService.ValidateCoupon(storeID, req.CouponCode, subtotal)
		if err != nil {
			var couponErr *pricing.CouponError
			if errors.As(err, &couponErr) {
				coupon = nil
				couponResult = gin.H{"valid": false, "reason": couponErr.Reason}
			} else {
				respondError(c, err)
				return
			}
		} else {
			couponResult = gin.H{"valid": true, "discount": coupon.DiscountFor(subtotal)}
		}
	}

	totals := h.pricingService.CalculateTotals(&st, subtotal, coupon, deliveryFee)

	resp := gin.H{
		"totals":      totals,
		"distance_km": distanceKm,
	}
	if couponResult != nil {
		resp["coupon"] = couponResult
	}
	if len(violations) > 0 {
		resp["stock_violations"] = violations
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// PlaceOrderRequest represents order placement input
type PlaceOrderRequest struct {
	CustomerName  string `json:"customer_name" binding:"required"`
	CustomerPhone string `json:"customer_phone" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"omitempty,email"`

	FulfillmentType order.FulfillmentType `json:"fulfillment_type" binding:"required,oneof=delivery pickup"`
	DeliveryAddress string                `json:"delivery_address"`
	DeliveryZip     string                `json:"delivery_zip"`
	DeliveryLat     float64               `json:"delivery_lat"`
	DeliveryLng     float64               `json:"delivery_lng"`

	CouponCode    string         `json:"coupon_code"`
	Notes         string         `json:"notes"`
	PaymentMethod payment.Method `json:"payment_method" binding:"required,oneof=cash online"`
}

// PlaceOrder handles POST /stores/:storeId/checkout. It creates the order
// atomically and then opens the payment attempt.
func (h *CheckoutHandler) PlaceOrder(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	if req.FulfillmentType == order.FulfillmentDelivery && req.DeliveryAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Delivery address required for delivery orders"})
		return
	}

	var st store.Store
	if err := h.db.Where("id = ? AND is_active = ?", storeID, true).First(&st).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Store not found"})
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionKey := sessionKeyFrom(c)
	current, err := h.cartService.GetActiveCart(storeID, userID, sessionKey)
	if err != nil {
		respondError(c, err)
		return
	}

	quoteReq := QuoteRequest{
		FulfillmentType: req.FulfillmentType,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
	}
	distanceKm := h.resolveDistance(c, &st, &quoteReq)

	createReq := &order.CreateOrderRequest{
		StoreID:         storeID,
		CartID:          current.ID,
		UserID:          userID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		FulfillmentType: req.FulfillmentType,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryZip:     req.DeliveryZip,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		DistanceKm:      distanceKm,
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	}

	placed, err := h.orderService.Create(c.Request.Context(), createReq)
	if err != nil {
		respondError(c, err)
		return
	}

	pay, err := h.paymentService.CreatePayment(c.Request.Context(), placed, req.PaymentMethod)
	if err != nil {
		// The order exists; the client can retry payment against it
		h.log.WithError(err).WithField("order_id", placed.ID).Warn("payment attempt failed at checkout")
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Order placed but payment could not be started",
			"data":  gin.H{"order": placed},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Order placed",
		"data": gin.H{
			"order":   placed,
			"payment": pay,
		},
	})
}

// resolveDistance computes the driving distance from the store to the
// delivery point. Zero when pickup or when no coordinates are available.
func (h *CheckoutHandler) resolveDistance(c *gin.Context, st *store.Store, req *QuoteRequest) float64 {
	if req.FulfillmentType == order.FulfillmentPickup {
		return 0
	}

	dest := maps.Coordinates{Lat: req.DeliveryLat, Lng: req.DeliveryLng}
	if dest.Lat == 0 && dest.Lng == 0 {
		if req.DeliveryAddress == "" {
			return 0
		}
		geo, err := h.mapsClient.Geocode(c.Request.Context(), req.DeliveryAddress)
		if err != nil {
			h.log.WithError(err).Warn("failed to geocode delivery address")
			return 0
		}
		dest = *geo
	}

	origin := maps.Coordinates{Lat: st.Latitude, Lng: st.Longitude}
	route, err := h.mapsClient.CalculateRoute(c.Request.Context(), origin, dest)
	if err != nil {
		return maps.HaversineKm(origin, dest)
	}
	return route.DistanceKm
}

// sessionKeyFrom reads the anonymous session identity without minting one
func sessionKeyFrom(c *gin.Context) string {
	if key, err := c.Cookie(sessionCookieName); err == nil && key != "" {
		return key
	}
	return c.GetHeader("X-Session-Key")
}
