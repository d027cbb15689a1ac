// internal/domain/cart/entity.go
package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"gorm.io/gorm"
)

// Cart represents a pre-checkout basket owned by a user or an anonymous session
type Cart struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"store_id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	SessionKey string     `gorm:"size:100;index" json:"session_key,omitempty"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Relationships
	Items      []CartItem      `gorm:"foreignKey:CartID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items"`
	ComboItems []CartComboItem `gorm:"foreignKey:CartID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"combo_items"`
}

// CartItem represents one (product, variant) line in a cart
type CartItem struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CartID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"cart_id"`
	ProductID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"product_id"`
	ProductVariantID *uuid.UUID `gorm:"type:uuid;index" json:"product_variant_id,omitempty"`
	Quantity         int        `gorm:"not null" json:"quantity"`
	UnitPrice        int64      `gorm:"not null" json:"unit_price"` // In cents, effective price at add time
	Options          string     `gorm:"type:text" json:"options"`   // JSON object of selected options
	Notes            string     `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	// Relationships
	Product        *product.Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	ProductVariant *product.ProductVariant `gorm:"foreignKey:ProductVariantID" json:"product_variant,omitempty"`
}

// CartComboItem represents one combo line in a cart
type CartComboItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CartID    uuid.UUID `gorm:"type:uuid;not null;index" json:"cart_id"`
	ComboID   uuid.UUID `gorm:"type:uuid;not null;index" json:"combo_id"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Combo *product.Combo `gorm:"foreignKey:ComboID" json:"combo,omitempty"`
}

// TableName overrides
func (Cart) TableName() string          { return "carts" }
func (CartItem) TableName() string      { return "cart_items" }
func (CartComboItem) TableName() string { return "cart_combo_items" }

// BeforeCreate hooks assign UUID primary keys
func (c *Cart) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (i *CartItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (i *CartComboItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Subtotal computes the cart subtotal in cents from its lines
func (c *Cart) Subtotal() int64 {
	var subtotal int64
	for _, item := range c.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	for _, item := range c.ComboItems {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0 && len(c.ComboItems) == 0
}

// matchesLine reports whether the item holds the same (product, variant) key
func (i *CartItem) matchesLine(productID uuid.UUID, variantID *uuid.UUID) bool {
	if i.ProductID != productID {
		return false
	}
	if i.ProductVariantID == nil && variantID == nil {
		return true
	}
	return i.ProductVariantID != nil && variantID != nil && *i.ProductVariantID == *variantID
}
