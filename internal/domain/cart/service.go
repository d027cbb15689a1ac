// internal/domain/cart/service.go
package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"gorm.io/gorm"
)

// Lookup errors. Misses are expected during normal operation and are
// reported as sentinel values, not wrapped database errors.
var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("cart item not found")
)

// StockViolation describes one cart line that can no longer be fulfilled
type StockViolation struct {
	ItemID      uuid.UUID `json:"item_id"`
	ProductName string    `json:"product_name"`
	Available   int       `json:"available"`
	Requested   int       `json:"requested"`
}

// Service handles cart business logic
type Service struct {
	db *gorm.DB
}

// NewService creates a new cart service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// AddItemRequest represents add to cart request
type AddItemRequest struct {
	ProductID        uuid.UUID  `json:"product_id" binding:"required"`
	ProductVariantID *uuid.UUID `json:"product_variant_id"`
	Quantity         int        `json:"quantity" binding:"required,min=1"`
	Options          map[string]string `json:"options"`
	Notes            string     `json:"notes"`
}

// AddComboRequest represents add combo to cart request
type AddComboRequest struct {
	ComboID  uuid.UUID `json:"combo_id" binding:"required"`
	Quantity int       `json:"quantity" binding:"required,min=1"`
	Notes    string    `json:"notes"`
}

// GetOrCreateCart returns the active cart for a user or session, creating one
// on first touch. A user id takes precedence over a session key.
func (s *Service) GetOrCreateCart(storeID uuid.UUID, userID *uuid.UUID, sessionKey string) (*Cart, error) {
	c, err := s.GetActiveCart(storeID, userID, sessionKey)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, err
	}

	newCart := &Cart{
		StoreID:    storeID,
		UserID:     userID,
		SessionKey: sessionKey,
		IsActive:   true,
	}
	if userID != nil {
		newCart.SessionKey = ""
	}
	if err := s.db.Create(newCart).Error; err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return newCart, nil
}

// GetActiveCart retrieves the active cart for a user or session
func (s *Service) GetActiveCart(storeID uuid.UUID, userID *uuid.UUID, sessionKey string) (*Cart, error) {
	query := s.db.
		Preload("Items").
		Preload("Items.Product").
		Preload("Items.ProductVariant").
		Preload("ComboItems").
		Preload("ComboItems.Combo").
		Preload("ComboItems.Combo.Items").
		Preload("ComboItems.Combo.Items.Product").
		Where("store_id = ? AND is_active = ?", storeID, true)

	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else {
		if sessionKey == "" {
			return nil, ErrCartNotFound
		}
		query = query.Where("session_key = ? AND user_id IS NULL", sessionKey)
	}

	var c Cart
	if err := query.First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to retrieve cart: %w", err)
	}
	return &c, nil
}

// GetCartByID retrieves a cart with its lines
func (s *Service) GetCartByID(cartID uuid.UUID) (*Cart, error) {
	var c Cart
	err := s.db.
		Preload("Items").
		Preload("Items.Product").
		Preload("Items.ProductVariant").
		Preload("ComboItems").
		Preload("ComboItems.Combo").
		Preload("ComboItems.Combo.Items").
		Preload("ComboItems.Combo.Items.Product").
		Where("id = ?", cartID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to retrieve cart: %w", err)
	}
	return &c, nil
}

// AddItem adds a product line to the cart. An existing line with the same
// (product, variant) key accumulates quantity and merges options; the stock
// check runs against the cumulative quantity.
func (s *Service) AddItem(cartID uuid.UUID, req *AddItemRequest) (*Cart, error) {
	var prod product.Product
	if err := s.db.Where("id = ? AND is_active = ?", req.ProductID, true).First(&prod).Error; err != nil {
		return nil, fmt.Errorf("product not found or inactive")
	}

	var variant *product.ProductVariant
	if req.ProductVariantID != nil {
		var v product.ProductVariant
		err := s.db.Where("id = ? AND product_id = ? AND is_active = ?",
			*req.ProductVariantID, req.ProductID, true).First(&v).Error
		if err != nil {
			return nil, fmt.Errorf("product variant not found or inactive")
		}
		variant = &v
	}

	var existing CartItem
	lineQuery := s.db.Where("cart_id = ? AND product_id = ?", cartID, req.ProductID)
	if req.ProductVariantID != nil {
		lineQuery = lineQuery.Where("product_variant_id = ?", *req.ProductVariantID)
	} else {
		lineQuery = lineQuery.Where("product_variant_id IS NULL")
	}
	result := lineQuery.First(&existing)

	cumulative := req.Quantity
	if result.Error == nil {
		cumulative += existing.Quantity
	}

	if prod.StockTracked(variant) {
		available := prod.AvailableStock(variant)
		if available < cumulative {
			return nil, &inventory.InsufficientStockError{
				ProductName: prod.Name,
				Available:   available,
				Requested:   cumulative,
			}
		}
	}

	if result.Error == nil {
		existing.Quantity = cumulative
		existing.UnitPrice = prod.EffectivePrice(variant)
		existing.Options = mergeOptions(existing.Options, req.Options)
		if req.Notes != "" {
			existing.Notes = req.Notes
		}
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update cart item: %w", err)
		}
	} else if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		item := CartItem{
			CartID:           cartID,
			ProductID:        req.ProductID,
			ProductVariantID: req.ProductVariantID,
			Quantity:         req.Quantity,
			UnitPrice:        prod.EffectivePrice(variant),
			Options:          mergeOptions("", req.Options),
			Notes:            req.Notes,
		}
		if err := s.db.Create(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to create cart item: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to look up cart item: %w", result.Error)
	}

	return s.GetCartByID(cartID)
}

// AddCombo adds a combo line to the cart, validating component stock
// for the cumulative quantity.
func (s *Service) AddCombo(cartID uuid.UUID, req *AddComboRequest) (*Cart, error) {
	var combo product.Combo
	err := s.db.Preload("Items").Preload("Items.Product").
		Where("id = ? AND is_active = ?", req.ComboID, true).First(&combo).Error
	if err != nil {
		return nil, fmt.Errorf("combo not found or inactive")
	}

	var existing CartComboItem
	result := s.db.Where("cart_id = ? AND combo_id = ?", cartID, req.ComboID).First(&existing)

	cumulative := req.Quantity
	if result.Error == nil {
		cumulative += existing.Quantity
	}

	for _, component := range combo.Items {
		needed := component.Quantity * cumulative
		if component.Product.TrackStock && component.Product.StockQuantity < needed {
			return nil, &inventory.InsufficientStockError{
				ProductName: component.Product.Name,
				Available:   component.Product.StockQuantity,
				Requested:   needed,
			}
		}
	}

	if result.Error == nil {
		existing.Quantity = cumulative
		if req.Notes != "" {
			existing.Notes = req.Notes
		}
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to update combo item: %w", err)
		}
	} else if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		item := CartComboItem{
			CartID:    cartID,
			ComboID:   req.ComboID,
			Quantity:  req.Quantity,
			UnitPrice: combo.Price,
			Notes:     req.Notes,
		}
		if err := s.db.Create(&item).Error; err != nil {
			return nil, fmt.Errorf("failed to create combo item: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to look up combo item: %w", result.Error)
	}

	return s.GetCartByID(cartID)
}

// UpdateItemQuantity replaces the quantity of a cart line. A quantity of zero
// or less deletes the line. The stock check runs against the new quantity
// alone, not cumulatively.
func (s *Service) UpdateItemQuantity(item *CartItem, newQuantity int) error {
	if newQuantity <= 0 {
		return s.db.Delete(&CartItem{}, "id = ?", item.ID).Error
	}

	var prod product.Product
	if err := s.db.Where("id = ?", item.ProductID).First(&prod).Error; err != nil {
		return fmt.Errorf("product not found")
	}

	var variant *product.ProductVariant
	if item.ProductVariantID != nil {
		var v product.ProductVariant
		if err := s.db.Where("id = ?", *item.ProductVariantID).First(&v).Error; err == nil {
			variant = &v
		}
	}

	if prod.StockTracked(variant) {
		available := prod.AvailableStock(variant)
		if available < newQuantity {
			return &inventory.InsufficientStockError{
				ProductName: prod.Name,
				Available:   available,
				Requested:   newQuantity,
			}
		}
	}

	return s.db.Model(&CartItem{}).Where("id = ?", item.ID).
		Update("quantity", newQuantity).Error
}

// UpdateItemQuantityByID resolves the line by id within the cart before
// delegating to UpdateItemQuantity.
func (s *Service) UpdateItemQuantityByID(cartID, itemID uuid.UUID, newQuantity int) error {
	var item CartItem
	err := s.db.Where("id = ? AND cart_id = ?", itemID, cartID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to look up cart item: %w", err)
	}
	return s.UpdateItemQuantity(&item, newQuantity)
}

// RemoveItem removes a line from the cart
func (s *Service) RemoveItem(cartID, itemID uuid.UUID) error {
	result := s.db.Where("id = ? AND cart_id = ?", itemID, cartID).Delete(&CartItem{})
	if result.Error != nil {
		return fmt.Errorf("failed to remove cart item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Clear removes all lines from the cart
func (s *Service) Clear(cartID uuid.UUID) error {
	if err := s.db.Where("cart_id = ?", cartID).Delete(&CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}
	if err := s.db.Where("cart_id = ?", cartID).Delete(&CartComboItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear combo items: %w", err)
	}
	return nil
}

// Merge folds the session cart into the user cart on login. Matching
// (product, variant) lines sum quantities; the rest move over. The source
// cart is deactivated afterwards.
func (s *Service) Merge(storeID, userID uuid.UUID, sessionKey string) (*Cart, error) {
	source, err := s.GetActiveCart(storeID, nil, sessionKey)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			// Nothing to merge
			return s.GetOrCreateCart(storeID, &userID, "")
		}
		return nil, err
	}

	target, err := s.GetOrCreateCart(storeID, &userID, "")
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, sourceItem := range source.Items {
			merged := false
			for _, targetItem := range target.Items {
				if targetItem.matchesLine(sourceItem.ProductID, sourceItem.ProductVariantID) {
					if err := tx.Model(&CartItem{}).Where("id = ?", targetItem.ID).
						Update("quantity", gorm.Expr("quantity + ?", sourceItem.Quantity)).Error; err != nil {
						return fmt.Errorf("failed to merge cart line: %w", err)
					}
					if err := tx.Delete(&CartItem{}, "id = ?", sourceItem.ID).Error; err != nil {
						return err
					}
					merged = true
					break
				}
			}
			if !merged {
				if err := tx.Model(&CartItem{}).Where("id = ?", sourceItem.ID).
					Update("cart_id", target.ID).Error; err != nil {
					return fmt.Errorf("failed to move cart line: %w", err)
				}
			}
		}

		for _, sourceCombo := range source.ComboItems {
			merged := false
			for _, targetCombo := range target.ComboItems {
				if targetCombo.ComboID == sourceCombo.ComboID {
					if err := tx.Model(&CartComboItem{}).Where("id = ?", targetCombo.ID).
						Update("quantity", gorm.Expr("quantity + ?", sourceCombo.Quantity)).Error; err != nil {
						return fmt.Errorf("failed to merge combo line: %w", err)
					}
					if err := tx.Delete(&CartComboItem{}, "id = ?", sourceCombo.ID).Error; err != nil {
						return err
					}
					merged = true
					break
				}
			}
			if !merged {
				if err := tx.Model(&CartComboItem{}).Where("id = ?", sourceCombo.ID).
					Update("cart_id", target.ID).Error; err != nil {
					return fmt.Errorf("failed to move combo line: %w", err)
				}
			}
		}

		return tx.Model(&Cart{}).Where("id = ?", source.ID).
			Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetCartByID(target.ID)
}

// ValidateForCheckout re-checks every line (regular and combo) against live
// stock and product availability, returning every violation so the caller can
// report all problems at once. This check is advisory: the order creation
// transaction re-validates under its own snapshot.
func (s *Service) ValidateForCheckout(c *Cart) []StockViolation {
	var violations []StockViolation

	for _, item := range c.Items {
		var prod product.Product
		if err := s.db.Where("id = ?", item.ProductID).First(&prod).Error; err != nil {
			violations = append(violations, StockViolation{
				ItemID: item.ID, ProductName: "unknown product", Available: 0, Requested: item.Quantity,
			})
			continue
		}
		if !prod.IsActive {
			violations = append(violations, StockViolation{
				ItemID: item.ID, ProductName: prod.Name, Available: 0, Requested: item.Quantity,
			})
			continue
		}

		var variant *product.ProductVariant
		if item.ProductVariantID != nil {
			var v product.ProductVariant
			if err := s.db.Where("id = ?", *item.ProductVariantID).First(&v).Error; err == nil {
				variant = &v
			}
		}

		if prod.StockTracked(variant) {
			available := prod.AvailableStock(variant)
			if available < item.Quantity {
				violations = append(violations, StockViolation{
					ItemID:      item.ID,
					ProductName: prod.Name,
					Available:   available,
					Requested:   item.Quantity,
				})
			}
		}
	}

	for _, comboItem := range c.ComboItems {
		var combo product.Combo
		err := s.db.Preload("Items").Preload("Items.Product").
			Where("id = ?", comboItem.ComboID).First(&combo).Error
		if err != nil || !combo.IsActive {
			violations = append(violations, StockViolation{
				ItemID: comboItem.ID, ProductName: "unavailable combo", Available: 0, Requested: comboItem.Quantity,
			})
			continue
		}
		for _, component := range combo.Items {
			needed := component.Quantity * comboItem.Quantity
			if component.Product.TrackStock && component.Product.StockQuantity < needed {
				violations = append(violations, StockViolation{
					ItemID:      comboItem.ID,
					ProductName: component.Product.Name,
					Available:   component.Product.StockQuantity,
					Requested:   needed,
				})
			}
		}
	}

	return violations
}

// Deactivate marks the cart inactive inside the given transaction and clears
// its lines. Called at order-creation time.
func (s *Service) Deactivate(tx *gorm.DB, cartID uuid.UUID) error {
	if err := tx.Where("cart_id = ?", cartID).Delete(&CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}
	if err := tx.Where("cart_id = ?", cartID).Delete(&CartComboItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear combo items: %w", err)
	}
	if err := tx.Model(&Cart{}).Where("id = ?", cartID).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate cart: %w", err)
	}
	return nil
}

func mergeOptions(existing string, incoming map[string]string) string {
	merged := map[string]string{}
	if existing != "" {
		_ = json.Unmarshal([]byte(existing), &merged)
	}
	for k, v := range incoming {
		merged[k] = v
	}
	if len(merged) == 0 {
		return ""
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return string(data)
}
