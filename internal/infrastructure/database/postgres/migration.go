// internal/infrastructure/database/postgres/migration.go
package postgres

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/notification"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/payment"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/domain/store"
	"gorm.io/gorm"
)

// Migration handles database migrations
type Migration struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewMigration creates a new migration instance
func NewMigration(db *gorm.DB, log *logrus.Logger) *Migration {
	return &Migration{db: db, log: log}
}

// Models lists every persisted model in dependency order. Shared with the
// test suite so test schemas never drift from production.
func Models() []interface{} {
	return []interface{}{
		// Store domain - base tables
		&store.Store{},
		&store.DeliveryZone{},
		&store.Coupon{},

		// Catalog
		&product.Product{},
		&product.ProductVariant{},
		&product.Combo{},
		&product.ComboItem{},

		// Cart
		&cart.Cart{},
		&cart.CartItem{},
		&cart.CartComboItem{},

		// Orders and payments
		&order.Order{},
		&order.OrderItem{},
		&order.OrderNote{},
		&payment.Payment{},
		&payment.WebhookEvent{},

		// Notification outbox
		&notification.Outbox{},
	}
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	m.log.Info("running database auto-migrations")

	for _, model := range Models() {
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	m.log.Info("database auto-migrations completed")
	return nil
}
