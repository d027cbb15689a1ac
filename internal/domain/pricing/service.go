// internal/domain/pricing/service.go
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/domain/store"
	"gorm.io/gorm"
)

// Coupon rejection reasons, stable strings surfaced to API clients
const (
	CouponReasonNotFound      = "not_found"
	CouponReasonInactive      = "inactive"
	CouponReasonExpired       = "expired"
	CouponReasonUsageExceeded = "usage_exceeded"
	CouponReasonBelowMinimum  = "below_minimum"
)

// CouponError reports why a coupon code was rejected
type CouponError struct {
	Code   string
	Reason string
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// ErrCouponExhausted signals that the redemption-time conditional increment
// found no uses left. Distinct from validation so callers can tell a race
// from a stale code.
var ErrCouponExhausted = errors.New("coupon usage limit reached")

// Totals is the complete price breakdown for a checkout
type Totals struct {
	Subtotal       int64 `json:"subtotal"`
	DiscountAmount int64 `json:"discount_amount"`
	TaxAmount      int64 `json:"tax_amount"`
	DeliveryFee    int64 `json:"delivery_fee"`
	Total          int64 `json:"total"`
}

// Service handles pricing, delivery fee and coupon business logic
type Service struct {
	db *gorm.DB
}

// NewService creates a new pricing service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CalculateDeliveryFee resolves the delivery fee for an address. Zones are
// evaluated in (sort_order, fee) order and the first match wins. With no
// matching zone the store default applies. Pickup orders always cost zero.
func (s *Service) CalculateDeliveryFee(st *store.Store, isPickup bool, distanceKm float64, zipCode string) (int64, error) {
	if isPickup {
		return 0, nil
	}

	var zones []store.DeliveryZone
	err := s.db.Where("store_id = ? AND is_active = ?", st.ID, true).
		Order("sort_order ASC, fee ASC").
		Find(&zones).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load delivery zones: %w", err)
	}

	for _, zone := range zones {
		switch zone.Kind {
		case store.ZoneKindZipRange:
			if zipCode != "" && zone.MatchesZip(zipCode) {
				return zone.Fee, nil
			}
		case store.ZoneKindDistanceBand, store.ZoneKindDistanceRange:
			if distanceKm > 0 && zone.MatchesDistance(distanceKm) {
				return zone.FeeForDistance(distanceKm), nil
			}
		}
	}

	return st.DefaultDeliveryFee, nil
}

// ValidateCoupon checks a coupon code against the store and subtotal without
// consuming a use. Returns the coupon on success or a CouponError naming the
// rejection reason.
func (s *Service) ValidateCoupon(storeID uuid.UUID, code string, subtotal int64) (*store.Coupon, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, &CouponError{Code: code, Reason: CouponReasonNotFound}
	}

	var coupon store.Coupon
	err := s.db.Where("store_id = ? AND code = ?", storeID, normalized).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &CouponError{Code: normalized, Reason: CouponReasonNotFound}
		}
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}

	if !coupon.IsActive {
		return nil, &CouponError{Code: normalized, Reason: CouponReasonInactive}
	}
	if !coupon.IsWithinValidityWindow(time.Now().UTC()) {
		return nil, &CouponError{Code: normalized, Reason: CouponReasonExpired}
	}
	if !coupon.HasUsesRemaining() {
		return nil, &CouponError{Code: normalized, Reason: CouponReasonUsageExceeded}
	}
	if subtotal < coupon.MinOrderValue {
		return nil, &CouponError{Code: normalized, Reason: CouponReasonBelowMinimum}
	}

	return &coupon, nil
}

// RedeemCoupon consumes one use of the coupon inside the given transaction.
// The increment is conditional so concurrent checkouts cannot push used_count
// past max_uses.
func (s *Service) RedeemCoupon(tx *gorm.DB, couponID uuid.UUID) error {
	query := tx.Model(&store.Coupon{}).
		Where("id = ?", couponID).
		Where("max_uses IS NULL OR used_count < max_uses")

	result := query.Update("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to redeem coupon: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCouponExhausted
	}
	return nil
}

// CalculateTotals produces the full price breakdown. Tax applies to the
// pre-discount subtotal; the discount then reduces the sum, and the final
// total never drops below zero.
func (s *Service) CalculateTotals(st *store.Store, subtotal int64, coupon *store.Coupon, deliveryFee int64) Totals {
	t := Totals{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
	}

	if st.TaxRate > 0 {
		t.TaxAmount = int64(math.Round(float64(subtotal) * st.TaxRate / 100))
	}

	if coupon != nil {
		t.DiscountAmount = coupon.DiscountFor(subtotal)
	}

	t.Total = t.Subtotal + t.TaxAmount + t.DeliveryFee - t.DiscountAmount
	if t.Total < 0 {
		t.Total = 0
	}
	return t
}
