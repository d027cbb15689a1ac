// internal/interfaces/http/handlers/cart.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"gorm.io/gorm"
)

const sessionCookieName = "cart_session"

// CartHandler handles cart endpoints
type CartHandler struct {
	cartService *cart.Service
	config      *config.Config
}

// NewCartHandler creates a new cart handler
func NewCartHandler(db *gorm.DB, cfg *config.Config) *CartHandler {
	return &CartHandler{
		cartService: cart.NewService(db),
		config:      cfg,
	}
}

// GetCart handles GET /stores/:storeId/cart
func (h *CartHandler) GetCart(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionKey := h.sessionKey(c, userID == nil)

	result, err := h.cartService.GetOrCreateCart(storeID, userID, sessionKey)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// AddItem handles POST /stores/:storeId/cart/items
func (h *CartHandler) AddItem(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	var req cart.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionKey := h.sessionKey(c, userID == nil)

	current, err := h.cartService.GetOrCreateCart(storeID, userID, sessionKey)
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.cartService.AddItem(current.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Item added to cart",
		"data":    updated,
	})
}

// AddCombo handles POST /stores/:storeId/cart/combos
func (h *CartHandler) AddCombo(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	var req cart.AddComboRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	userID := middleware.UserIDFromContext(c)
	sessionKey := h.sessionKey(c, userID == nil)

	current, err := h.cartService.GetOrCreateCart(storeID, userID, sessionKey)
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.cartService.AddCombo(current.ID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Combo added to cart",
		"data":    updated,
	})
}

// UpdateItem handles PUT /stores/:storeId/cart/items/:itemId
func (h *CartHandler) UpdateItem(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(c, "itemId")
	if !ok {
		return
	}

	var req struct {
		Quantity int `json:"quantity" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	current, err := h.resolveCart(c, storeID)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.cartService.UpdateItemQuantityByID(current.ID, itemID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.cartService.GetCartByID(current.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// RemoveItem handles DELETE /stores/:storeId/cart/items/:itemId
func (h *CartHandler) RemoveItem(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(c, "itemId")
	if !ok {
		return
	}

	current, err := h.resolveCart(c, storeID)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.cartService.RemoveItem(current.ID, itemID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Item removed from cart"})
}

// ClearCart handles DELETE /stores/:storeId/cart
func (h *CartHandler) ClearCart(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	current, err := h.resolveCart(c, storeID)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.cartService.Clear(current.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}

// MergeCart handles POST /stores/:storeId/cart/merge. Requires auth: folds
// the anonymous session cart into the user's cart after login.
func (h *CartHandler) MergeCart(c *gin.Context) {
	storeID, ok := parseUUIDParam(c, "storeId")
	if !ok {
		return
	}

	userID := middleware.UserIDFromContext(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	sessionKey := h.sessionKey(c, false)
	if sessionKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No session cart to merge"})
		return
	}

	merged, err := h.cartService.Merge(storeID, *userID, sessionKey)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cart merged",
		"data":    merged,
	})
}

// resolveCart finds the caller's active cart
func (h *CartHandler) resolveCart(c *gin.Context, storeID uuid.UUID) (*cart.Cart, error) {
	userID := middleware.UserIDFromContext(c)
	sessionKey := h.sessionKey(c, false)
	return h.cartService.GetActiveCart(storeID, userID, sessionKey)
}

// sessionKey reads the anonymous session cookie, minting one when the
// caller is anonymous and create is set.
func (h *CartHandler) sessionKey(c *gin.Context, create bool) string {
	if key, err := c.Cookie(sessionCookieName); err == nil && key != "" {
		return key
	}
	if key := c.GetHeader("X-Session-Key"); key != "" {
		return key
	}
	if !create {
		return ""
	}
	key := uuid.New().String()
	c.SetCookie(sessionCookieName, key, 60*60*24*30, "/", "", h.config.IsProduction(), true)
	return key
}
