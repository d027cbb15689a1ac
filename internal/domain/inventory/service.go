// internal/domain/inventory/service.go
package inventory

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"gorm.io/gorm"
)

// InsufficientStockError is returned when a decrement would take tracked
// stock below zero.
type InsufficientStockError struct {
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for '%s': available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

// Service implements the stock accounting operations guarding against oversell.
// All operations run against the caller-supplied transaction handle so that
// stock movement commits or rolls back together with the order that caused it.
type Service struct {
	db *gorm.DB
}

// NewService creates a new inventory service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Decrement atomically decrements tracked stock for a product or variant.
// The update is conditional on the current row holding enough stock; a
// read-then-write would lose updates under concurrent checkouts.
// Untracked stock passes through without touching quantities, but the sale
// is still counted.
func (s *Service) Decrement(tx *gorm.DB, p *product.Product, variant *product.ProductVariant, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	if variant != nil && variant.TrackStock {
		result := tx.Model(&product.ProductVariant{}).
			Where("id = ? AND stock_quantity >= ?", variant.ID, quantity).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", quantity))
		if result.Error != nil {
			return fmt.Errorf("failed to decrement variant stock: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return s.insufficient(tx, p, variant, quantity)
		}
	} else if p.TrackStock {
		result := tx.Model(&product.Product{}).
			Where("id = ? AND stock_quantity >= ?", p.ID, quantity).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", quantity))
		if result.Error != nil {
			return fmt.Errorf("failed to decrement product stock: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return s.insufficient(tx, p, nil, quantity)
		}
	}

	// Sold counter lives on the product regardless of which row held the stock
	if err := tx.Model(&product.Product{}).
		Where("id = ?", p.ID).
		UpdateColumn("sold_count", gorm.Expr("sold_count + ?", quantity)).Error; err != nil {
		return fmt.Errorf("failed to update sold count: %w", err)
	}

	return nil
}

// DecrementByID is the lookup-then-decrement convenience used by callers that
// only hold ids (order cancellation, webhook reconciliation).
func (s *Service) DecrementByID(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, quantity int) error {
	p, variant, err := s.load(tx, productID, variantID)
	if err != nil {
		return err
	}
	return s.Decrement(tx, p, variant, quantity)
}

// Restore unconditionally adds stock back for a product or variant.
// Idempotency is the caller's responsibility.
func (s *Service) Restore(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	p, variant, err := s.load(tx, productID, variantID)
	if err != nil {
		return err
	}

	if variant != nil && variant.TrackStock {
		if err := tx.Model(&product.ProductVariant{}).
			Where("id = ?", variant.ID).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", quantity)).Error; err != nil {
			return fmt.Errorf("failed to restore variant stock: %w", err)
		}
	} else if p.TrackStock {
		if err := tx.Model(&product.Product{}).
			Where("id = ?", p.ID).
			UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", quantity)).Error; err != nil {
			return fmt.Errorf("failed to restore product stock: %w", err)
		}
	}

	if err := tx.Model(&product.Product{}).
		Where("id = ? AND sold_count >= ?", p.ID, quantity).
		UpdateColumn("sold_count", gorm.Expr("sold_count - ?", quantity)).Error; err != nil {
		return fmt.Errorf("failed to update sold count: %w", err)
	}

	return nil
}

func (s *Service) load(tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID) (*product.Product, *product.ProductVariant, error) {
	var p product.Product
	if err := tx.Where("id = ?", productID).First(&p).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	var variant *product.ProductVariant
	if variantID != nil {
		var v product.ProductVariant
		if err := tx.Where("id = ?", *variantID).First(&v).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to load variant %s: %w", *variantID, err)
		}
		variant = &v
	}

	return &p, variant, nil
}

func (s *Service) insufficient(tx *gorm.DB, p *product.Product, variant *product.ProductVariant, requested int) error {
	// Re-read the row the conditional update rejected so the caller can
	// report how much actually remains.
	available := 0
	if variant != nil {
		var v product.ProductVariant
		if err := tx.Where("id = ?", variant.ID).First(&v).Error; err == nil {
			available = v.StockQuantity
		}
	} else {
		var fresh product.Product
		if err := tx.Where("id = ?", p.ID).First(&fresh).Error; err == nil {
			available = fresh.StockQuantity
		}
	}

	return &InsufficientStockError{
		ProductName: p.Name,
		Available:   available,
		Requested:   requested,
	}
}
