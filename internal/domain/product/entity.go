// internal/domain/product/entity.go
package product

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product represents the product entity
type Product struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"store_id"`
	SKU           string         `gorm:"not null;size:100;index" json:"sku"`
	Name          string         `gorm:"not null;size:255" json:"name"`
	Description   string         `gorm:"type:text" json:"description"`
	Price         int64          `gorm:"not null" json:"price"` // Price in cents
	TrackStock    bool           `gorm:"default:false" json:"track_stock"`
	StockQuantity int            `gorm:"default:0" json:"stock_quantity"`
	SoldCount     int            `gorm:"default:0" json:"sold_count"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Variants []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"variants,omitempty"`
}

// ProductVariant represents product variants (size, flavor, etc.)
type ProductVariant struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProductID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"product_id"`
	SKU           string         `gorm:"size:100" json:"sku"`
	Name          string         `gorm:"not null;size:255" json:"name"`
	Price         int64          `json:"price"` // Overrides product price when > 0
	TrackStock    bool           `gorm:"default:false" json:"track_stock"`
	StockQuantity int            `gorm:"default:0" json:"stock_quantity"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Combo represents a fixed-price bundle of products
type Combo struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"store_id"`
	Name        string         `gorm:"not null;size:255" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Price       int64          `gorm:"not null" json:"price"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Items []ComboItem `gorm:"foreignKey:ComboID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"items,omitempty"`
}

// ComboItem represents one component product inside a combo
type ComboItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ComboID   uuid.UUID `gorm:"type:uuid;not null;index" json:"combo_id"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	Quantity  int       `gorm:"not null;default:1" json:"quantity"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	Product Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

// TableName overrides
func (Product) TableName() string        { return "products" }
func (ProductVariant) TableName() string { return "product_variants" }
func (Combo) TableName() string          { return "combos" }
func (ComboItem) TableName() string      { return "combo_items" }

// BeforeCreate hooks assign UUID primary keys
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (v *ProductVariant) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

func (c *Combo) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (ci *ComboItem) BeforeCreate(tx *gorm.DB) error {
	if ci.ID == uuid.Nil {
		ci.ID = uuid.New()
	}
	return nil
}

// Business methods

// EffectivePrice returns the variant price when it overrides the product price
func (p *Product) EffectivePrice(variant *ProductVariant) int64 {
	if variant != nil && variant.Price > 0 {
		return variant.Price
	}
	return p.Price
}

// AvailableStock returns the stock quantity that applies to a (product, variant) pair.
// A variant with its own tracked stock takes precedence over the parent product.
func (p *Product) AvailableStock(variant *ProductVariant) int {
	if variant != nil && variant.TrackStock {
		return variant.StockQuantity
	}
	return p.StockQuantity
}

// StockTracked reports whether stock is enforced for a (product, variant) pair
func (p *Product) StockTracked(variant *ProductVariant) bool {
	if variant != nil && variant.TrackStock {
		return true
	}
	return p.TrackStock
}

// IsInStock checks current availability
func (p *Product) IsInStock() bool {
	return !p.TrackStock || p.StockQuantity > 0
}
