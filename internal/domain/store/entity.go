// internal/domain/store/entity.go
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryZoneKind represents how a delivery zone matches an address
type DeliveryZoneKind string

const (
	ZoneKindDistanceBand  DeliveryZoneKind = "distance_band"
	ZoneKindDistanceRange DeliveryZoneKind = "distance_range"
	ZoneKindZipRange      DeliveryZoneKind = "zip_range"
)

// CouponDiscountType represents the discount type of a coupon
type CouponDiscountType string

const (
	DiscountTypePercentage CouponDiscountType = "percentage"
	DiscountTypeFixed      CouponDiscountType = "fixed"
)

// Store represents a tenant store
type Store struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name               string         `gorm:"not null;size:255" json:"name"`
	Slug               string         `gorm:"uniqueIndex;not null;size:255" json:"slug"`
	Currency           string         `gorm:"size:3;default:'BRL'" json:"currency"`
	TaxRate            float64        `gorm:"default:0" json:"tax_rate"` // Percentage, e.g. 18 means 18%
	DefaultDeliveryFee int64          `gorm:"default:0" json:"default_delivery_fee"`
	PickupEnabled      bool           `gorm:"default:true" json:"pickup_enabled"`
	Phone              string         `gorm:"size:20" json:"phone"`
	Email              string         `gorm:"size:255" json:"email"`
	AddressLine        string         `gorm:"size:255" json:"address_line"`
	City               string         `gorm:"size:100" json:"city"`
	State              string         `gorm:"size:100" json:"state"`
	ZipCode            string         `gorm:"size:20" json:"zip_code"`
	Latitude           float64        `json:"latitude"`
	Longitude          float64        `json:"longitude"`
	IsActive           bool           `gorm:"default:true" json:"is_active"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	DeliveryZones []DeliveryZone `gorm:"foreignKey:StoreID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"delivery_zones,omitempty"`
	Coupons       []Coupon       `gorm:"foreignKey:StoreID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"coupons,omitempty"`
}

// DeliveryZone represents a store-defined delivery fee rule
type DeliveryZone struct {
	ID            uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"store_id"`
	Name          string           `gorm:"not null;size:100" json:"name"`
	Kind          DeliveryZoneKind `gorm:"not null;size:20" json:"kind"`
	MinDistanceKm float64          `gorm:"default:0" json:"min_distance_km"`
	MaxDistanceKm float64          `gorm:"default:0" json:"max_distance_km"`
	ZipFrom       string           `gorm:"size:20" json:"zip_from"`
	ZipTo         string           `gorm:"size:20" json:"zip_to"`
	Fee           int64            `gorm:"not null" json:"fee"`
	FeePerKm      int64            `gorm:"default:0" json:"fee_per_km"` // Optional distance scaling
	EtaMinutes    int              `gorm:"default:0" json:"eta_minutes"`
	SortOrder     int              `gorm:"default:0" json:"sort_order"`
	IsActive      bool             `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Coupon represents a discount rule
type Coupon struct {
	ID                uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID           uuid.UUID          `gorm:"type:uuid;not null;index:idx_coupons_store_code,unique" json:"store_id"`
	Code              string             `gorm:"not null;size:50;index:idx_coupons_store_code,unique" json:"code"`
	DiscountType      CouponDiscountType `gorm:"not null;size:20" json:"discount_type"`
	DiscountValue     float64            `gorm:"not null" json:"discount_value"`      // Percent for percentage type, cents for fixed type
	MaxDiscountAmount int64              `gorm:"default:0" json:"max_discount_amount"` // Cap for percentage type, 0 = uncapped
	MinOrderValue     int64              `gorm:"default:0" json:"min_order_value"`
	ValidFrom         *time.Time         `json:"valid_from"`
	ValidUntil        *time.Time         `json:"valid_until"`
	MaxUses           *int               `json:"max_uses"` // nil = unlimited
	UsedCount         int                `gorm:"default:0" json:"used_count"`
	IsActive          bool               `gorm:"default:true" json:"is_active"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// TableName overrides
func (Store) TableName() string        { return "stores" }
func (DeliveryZone) TableName() string { return "delivery_zones" }
func (Coupon) TableName() string       { return "coupons" }

// BeforeCreate hooks assign UUID primary keys
func (s *Store) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (z *DeliveryZone) BeforeCreate(tx *gorm.DB) error {
	if z.ID == uuid.Nil {
		z.ID = uuid.New()
	}
	return nil
}

func (c *Coupon) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// MatchesDistance checks whether the zone covers the given distance
func (z *DeliveryZone) MatchesDistance(distanceKm float64) bool {
	switch z.Kind {
	case ZoneKindDistanceBand:
		return distanceKm <= z.MaxDistanceKm
	case ZoneKindDistanceRange:
		return distanceKm >= z.MinDistanceKm && distanceKm <= z.MaxDistanceKm
	default:
		return false
	}
}

// MatchesZip checks whether the zone covers the given ZIP code.
// ZIP codes are compared lexicographically after digit normalization.
func (z *DeliveryZone) MatchesZip(zipCode string) bool {
	if z.Kind != ZoneKindZipRange {
		return false
	}
	zip := normalizeZip(zipCode)
	if zip == "" {
		return false
	}
	return zip >= normalizeZip(z.ZipFrom) && zip <= normalizeZip(z.ZipTo)
}

// FeeForDistance returns the zone fee, applying distance scaling when configured
func (z *DeliveryZone) FeeForDistance(distanceKm float64) int64 {
	fee := z.Fee
	if z.FeePerKm > 0 && distanceKm > 0 {
		fee += int64(distanceKm * float64(z.FeePerKm))
	}
	return fee
}

func normalizeZip(zip string) string {
	digits := make([]byte, 0, len(zip))
	for i := 0; i < len(zip); i++ {
		if zip[i] >= '0' && zip[i] <= '9' {
			digits = append(digits, zip[i])
		}
	}
	return string(digits)
}

// Coupon business methods

// IsWithinValidityWindow checks the coupon validity window at the given time
func (c *Coupon) IsWithinValidityWindow(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// HasUsesRemaining checks the usage cap
func (c *Coupon) HasUsesRemaining() bool {
	return c.MaxUses == nil || c.UsedCount < *c.MaxUses
}

// DiscountFor computes the discount for a given subtotal in cents
func (c *Coupon) DiscountFor(subtotal int64) int64 {
	if c.DiscountType == DiscountTypeFixed {
		return int64(c.DiscountValue)
	}
	discount := int64(float64(subtotal) * c.DiscountValue / 100)
	if c.MaxDiscountAmount > 0 && discount > c.MaxDiscountAmount {
		discount = c.MaxDiscountAmount
	}
	return discount
}
