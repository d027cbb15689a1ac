// internal/interfaces/http/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/interfaces/http/handlers"
	"github.com/your-org/storefront-backend/internal/interfaces/http/middleware"
	"gorm.io/gorm"
)

// SetupRoutes wires all API routes
func SetupRoutes(api *gin.RouterGroup, db *gorm.DB, cfg *config.Config, log *logrus.Logger) {
	cartHandler := handlers.NewCartHandler(db, cfg)
	checkoutHandler := handlers.NewCheckoutHandler(db, cfg, log)
	orderHandler := handlers.NewOrderHandler(db, cfg, log)
	paymentHandler := handlers.NewPaymentHandler(db, cfg, log)
	webhookHandler := handlers.NewWebhookHandler(db, cfg, log)

	optionalAuth := middleware.OptionalAuthMiddleware(cfg)
	requireAuth := middleware.AuthMiddleware(cfg)
	requireStaff := middleware.StaffMiddleware()

	// Store-scoped storefront endpoints
	stores := api.Group("/stores/:storeId")
	{
		storeCart := stores.Group("/cart", optionalAuth)
		{
			storeCart.GET("", cartHandler.GetCart)
			storeCart.DELETE("", cartHandler.ClearCart)
			storeCart.POST("/items", cartHandler.AddItem)
			storeCart.PUT("/items/:itemId", cartHandler.UpdateItem)
			storeCart.DELETE("/items/:itemId", cartHandler.RemoveItem)
			storeCart.POST("/combos", cartHandler.AddCombo)
			storeCart.POST("/merge", requireAuth, cartHandler.MergeCart)
		}

		checkout := stores.Group("/checkout", optionalAuth)
		{
			checkout.POST("/quote", checkoutHandler.Quote)
			checkout.POST("", checkoutHandler.PlaceOrder)
		}

		// Staff dashboard
		stores.GET("/orders", requireAuth, requireStaff, orderHandler.ListOrders)
	}

	// Order endpoints
	orders := api.Group("/orders")
	{
		orders.GET("/:id", optionalAuth, orderHandler.GetOrder)
		orders.GET("/number/:orderNumber", optionalAuth, orderHandler.GetOrderByNumber)
		orders.GET("/:id/events", optionalAuth, orderHandler.GetOrderEvents)
		orders.GET("/:id/receipt", optionalAuth, orderHandler.GetReceipt)
		orders.POST("/:id/cancel", optionalAuth, orderHandler.CancelOrder)
		orders.POST("/:id/payments", optionalAuth, paymentHandler.InitiatePayment)
		orders.PUT("/:id/status", requireAuth, requireStaff, orderHandler.UpdateStatus)
	}

	// Payment endpoints
	payments := api.Group("/payments")
	{
		payments.GET("/:id", optionalAuth, paymentHandler.GetPayment)
		payments.POST("/:id/confirm", requireAuth, requireStaff, paymentHandler.ConfirmCashPayment)
		payments.POST("/:id/refund", requireAuth, requireStaff, paymentHandler.RefundPayment)
	}

	// Provider webhooks, authenticated by signature instead of JWT
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/payments", webhookHandler.HandlePaymentWebhook)
	}
}
