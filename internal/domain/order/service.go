// internal/domain/order/service.go
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/pricing"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/domain/store"
	"gorm.io/gorm"
)

// ErrOrderNotFound is returned by lookups when no order matches
var ErrOrderNotFound = errors.New("order not found")

// ErrEmptyCart is returned when checkout is attempted on an empty cart
var ErrEmptyCart = errors.New("cart is empty")

// Refunder refunds the payments of an order. Implemented by the payment
// service; declared here so cancellation does not depend on that package.
type Refunder interface {
	RefundOrder(ctx context.Context, orderID uuid.UUID, reason string) error
}

// Notifier enqueues a customer notification for an order event inside the
// caller's transaction.
type Notifier interface {
	EnqueueOrderEvent(tx *gorm.DB, o *Order, event string) error
}

// Service handles order business logic
type Service struct {
	db        *gorm.DB
	inventory *inventory.Service
	pricing   *pricing.Service
	carts     *cart.Service
	notifier  Notifier
}

// NewService creates a new order service
func NewService(db *gorm.DB, inv *inventory.Service, pr *pricing.Service, carts *cart.Service, notifier Notifier) *Service {
	return &Service{
		db:        db,
		inventory: inv,
		pricing:   pr,
		carts:     carts,
		notifier:  notifier,
	}
}

// CreateOrderRequest represents checkout input
type CreateOrderRequest struct {
	StoreID uuid.UUID  `json:"store_id" binding:"required"`
	CartID  uuid.UUID  `json:"cart_id" binding:"required"`
	UserID  *uuid.UUID `json:"-"`

	CustomerName  string `json:"customer_name" binding:"required"`
	CustomerPhone string `json:"customer_phone" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"omitempty,email"`

	FulfillmentType FulfillmentType `json:"fulfillment_type" binding:"required,oneof=delivery pickup"`
	DeliveryAddress string          `json:"delivery_address"`
	DeliveryZip     string          `json:"delivery_zip"`
	DeliveryLat     float64         `json:"delivery_lat"`
	DeliveryLng     float64         `json:"delivery_lng"`
	DistanceKm      float64         `json:"-"`

	CouponCode string `json:"coupon_code"`
	Notes      string `json:"notes"`
}

// Create places an order from a cart. The whole sequence runs in one
// transaction: stock validation, fee and coupon resolution, totals, order
// insert, ledger decrements and cart deactivation all commit or roll back
// together.
func (s *Service) Create(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var st store.Store
	if err := tx.Where("id = ? AND is_active = ?", req.StoreID, true).First(&st).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("store not found or inactive")
	}

	var c cart.Cart
	err := tx.
		Preload("Items").
		Preload("Items.Product").
		Preload("Items.ProductVariant").
		Preload("ComboItems").
		Preload("ComboItems.Combo").
		Preload("ComboItems.Combo.Items").
		Preload("ComboItems.Combo.Items.Product").
		Where("id = ? AND store_id = ? AND is_active = ?", req.CartID, req.StoreID, true).
		First(&c).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, cart.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if c.IsEmpty() {
		tx.Rollback()
		return nil, ErrEmptyCart
	}

	// Re-price every line from the live catalog so the order snapshot
	// reflects current prices, not what the cart remembered.
	items, subtotal, err := s.buildOrderItems(tx, &c)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	isPickup := req.FulfillmentType == FulfillmentPickup
	deliveryFee, err := s.pricing.CalculateDeliveryFee(&st, isPickup, req.DistanceKm, req.DeliveryZip)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	var coupon *store.Coupon
	if req.CouponCode != "" {
		coupon, err = s.pricing.ValidateCoupon(req.StoreID, req.CouponCode, subtotal)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := s.pricing.RedeemCoupon(tx, coupon.ID); err != nil {
			tx.Rollback()
			if errors.Is(err, pricing.ErrCouponExhausted) {
				return nil, &pricing.CouponError{Code: coupon.Code, Reason: pricing.CouponReasonUsageExceeded}
			}
			return nil, err
		}
	}

	totals := s.pricing.CalculateTotals(&st, subtotal, coupon, deliveryFee)

	o := &Order{
		StoreID:         req.StoreID,
		OrderNumber:     generateOrderNumber(),
		UserID:          req.UserID,
		Status:          StatusPending,
		PaymentStatus:   PaymentStatusPending,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerEmail:   req.CustomerEmail,
		FulfillmentType: req.FulfillmentType,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryZip:     req.DeliveryZip,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
		DistanceKm:      req.DistanceKm,
		Currency:        st.Currency,
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.DiscountAmount,
		TaxAmount:       totals.TaxAmount,
		DeliveryFee:     totals.DeliveryFee,
		Total:           totals.Total,
	}
	if coupon != nil {
		o.CouponID = &coupon.ID
		o.CouponCode = coupon.Code
	}

	if err := tx.Create(o).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for i := range items {
		items[i].OrderID = o.ID
	}
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to create order items: %w", err)
	}
	o.Items = items

	// Atomic ledger decrements. A concurrent checkout draining any line's
	// stock aborts the whole order.
	if err := s.decrementStock(tx, o.Items); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.carts.Deactivate(tx, c.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	if req.Notes != "" {
		note := OrderNote{OrderID: o.ID, Author: "customer", Text: req.Notes}
		if err := tx.Create(&note).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to record order note: %w", err)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.EnqueueOrderEvent(tx, o, "order_created"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return o, nil
}

// comboComponent is one entry of the ledger snapshot stored on combo lines
type comboComponent struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// buildOrderItems snapshots cart lines into denormalized order items priced
// from the live catalog, read through the open transaction. Returns the
// items and the fresh subtotal.
func (s *Service) buildOrderItems(tx *gorm.DB, c *cart.Cart) ([]OrderItem, int64, error) {
	var items []OrderItem
	var subtotal int64

	for _, line := range c.Items {
		var prod product.Product
		if err := tx.Where("id = ? AND is_active = ?", line.ProductID, true).First(&prod).Error; err != nil {
			return nil, 0, fmt.Errorf("product %s is no longer available", line.ProductID)
		}

		var variant *product.ProductVariant
		variantName := ""
		if line.ProductVariantID != nil {
			var v product.ProductVariant
			err := tx.Where("id = ? AND is_active = ?", *line.ProductVariantID, true).First(&v).Error
			if err != nil {
				return nil, 0, fmt.Errorf("product variant %s is no longer available", *line.ProductVariantID)
			}
			variant = &v
			variantName = v.Name
		}

		unitPrice := prod.EffectivePrice(variant)
		lineTotal := unitPrice * int64(line.Quantity)
		subtotal += lineTotal

		productID := line.ProductID
		items = append(items, OrderItem{
			ProductID:        &productID,
			ProductVariantID: line.ProductVariantID,
			ProductName:      prod.Name,
			ProductSKU:       prod.SKU,
			VariantName:      variantName,
			UnitPrice:        unitPrice,
			Quantity:         line.Quantity,
			TotalPrice:       lineTotal,
			Options:          line.Options,
			Notes:            line.Notes,
		})
	}

	for _, line := range c.ComboItems {
		var combo product.Combo
		err := tx.Preload("Items").Preload("Items.Product").
			Where("id = ? AND is_active = ?", line.ComboID, true).First(&combo).Error
		if err != nil {
			return nil, 0, fmt.Errorf("combo %s is no longer available", line.ComboID)
		}

		lineTotal := combo.Price * int64(line.Quantity)
		subtotal += lineTotal

		components := make([]comboComponent, 0, len(combo.Items))
		for _, component := range combo.Items {
			components = append(components, comboComponent{
				ProductID: component.ProductID,
				Quantity:  component.Quantity * line.Quantity,
			})
		}
		snapshot, err := json.Marshal(components)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to snapshot combo components: %w", err)
		}

		comboID := line.ComboID
		items = append(items, OrderItem{
			ComboID:     &comboID,
			ProductName: combo.Name,
			UnitPrice:   combo.Price,
			Quantity:    line.Quantity,
			TotalPrice:  lineTotal,
			Notes:       line.Notes,
			Components:  string(snapshot),
		})
	}

	return items, subtotal, nil
}

// decrementStock applies the ledger decrement for every order line. Combo
// lines decrement from their component snapshot, so decrement and restore
// always move the same quantities.
func (s *Service) decrementStock(tx *gorm.DB, items []OrderItem) error {
	for i := range items {
		item := &items[i]
		if item.ProductID != nil {
			if err := s.inventory.DecrementByID(tx, *item.ProductID, item.ProductVariantID, item.Quantity); err != nil {
				return err
			}
			continue
		}
		components, err := item.comboComponents()
		if err != nil {
			return err
		}
		for _, component := range components {
			if err := s.inventory.DecrementByID(tx, component.ProductID, nil, component.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateStatus moves the order through its lifecycle. The transition is
// validated against the current persisted status, so a concurrent update
// makes the later one fail rather than silently overwrite.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, target Status, author string) (*Order, error) {
	var updated *Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o Order
		if err := tx.Where("id = ?", orderID).First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		if !o.CanTransitionTo(target) {
			return &InvalidTransitionError{From: o.Status, To: target, Allowed: o.AllowedTransitions()}
		}

		now := time.Now().UTC()
		o.Status = target
		o.applyStatusTimestamps(now)

		if err := tx.Save(&o).Error; err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		note := OrderNote{
			OrderID: o.ID,
			Author:  author,
			Text:    fmt.Sprintf("status changed to %s", target),
		}
		if err := tx.Create(&note).Error; err != nil {
			return fmt.Errorf("failed to record status note: %w", err)
		}

		if s.notifier != nil {
			if err := s.notifier.EnqueueOrderEvent(tx, &o, "status_"+string(target)); err != nil {
				return err
			}
		}

		updated = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel cancels the order, optionally restoring stock and refunding. The
// cancellation and stock restore commit together; the refund runs after the
// commit and a refund failure is reported without undoing the cancellation.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string, refunder Refunder, restoreStock bool) (*Order, error) {
	var cancelled *Order
	needsRefund := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o Order
		if err := tx.Preload("Items").Where("id = ?", orderID).First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		if !o.CanBeCancelled() {
			return &InvalidTransitionError{From: o.Status, To: StatusCancelled, Allowed: o.AllowedTransitions()}
		}

		now := time.Now().UTC()
		o.Status = StatusCancelled
		o.CancelReason = reason
		o.applyStatusTimestamps(now)

		if err := tx.Save(&o).Error; err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}

		if restoreStock {
			if err := s.restoreStock(tx, &o); err != nil {
				return err
			}
		}

		noteText := "order cancelled"
		if reason != "" {
			noteText = "order cancelled: " + reason
		}
		note := OrderNote{OrderID: o.ID, Author: "system", Text: noteText}
		if err := tx.Create(&note).Error; err != nil {
			return fmt.Errorf("failed to record cancellation note: %w", err)
		}

		if s.notifier != nil {
			if err := s.notifier.EnqueueOrderEvent(tx, &o, "order_cancelled"); err != nil {
				return err
			}
		}

		needsRefund = o.PaymentStatus == PaymentStatusPaid || o.PaymentStatus == PaymentStatusPartiallyRefunded
		cancelled = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if needsRefund && refunder != nil {
		if err := refunder.RefundOrder(ctx, cancelled.ID, reason); err != nil {
			return cancelled, fmt.Errorf("order cancelled but refund failed: %w", err)
		}
	}
	return cancelled, nil
}

// restoreStock returns sold quantities to the ledger for every restorable
// line. Combo lines restore from the component snapshot taken at creation,
// not from the current combo definition.
func (s *Service) restoreStock(tx *gorm.DB, o *Order) error {
	for _, item := range o.Items {
		if item.ProductID != nil {
			if err := s.inventory.Restore(tx, *item.ProductID, item.ProductVariantID, item.Quantity); err != nil {
				return err
			}
			continue
		}
		components, err := item.comboComponents()
		if err != nil {
			return err
		}
		for _, component := range components {
			if err := s.inventory.Restore(tx, component.ProductID, nil, component.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

// comboComponents decodes the ledger snapshot of a combo line. Non-combo
// lines and pre-snapshot rows decode to nothing.
func (i *OrderItem) comboComponents() ([]comboComponent, error) {
	if i.ComboID == nil || i.Components == "" {
		return nil, nil
	}
	var components []comboComponent
	if err := json.Unmarshal([]byte(i.Components), &components); err != nil {
		return nil, fmt.Errorf("failed to decode combo components for item %s: %w", i.ID, err)
	}
	return components, nil
}

// AddNote appends an audit note to the order
func (s *Service) AddNote(orderID uuid.UUID, author, text string) error {
	note := OrderNote{OrderID: orderID, Author: author, Text: text}
	if err := s.db.Create(&note).Error; err != nil {
		return fmt.Errorf("failed to add order note: %w", err)
	}
	return nil
}

// GetByID retrieves an order with its items and notes
func (s *Service) GetByID(orderID uuid.UUID) (*Order, error) {
	var o Order
	err := s.db.Preload("Items").Preload("Notes").Where("id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to retrieve order: %w", err)
	}
	return &o, nil
}

// GetByOrderNumber retrieves an order by its public number
func (s *Service) GetByOrderNumber(orderNumber string) (*Order, error) {
	var o Order
	err := s.db.Preload("Items").Preload("Notes").
		Where("order_number = ?", orderNumber).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to retrieve order: %w", err)
	}
	return &o, nil
}

// ListByStore returns orders for a store, newest first, optionally filtered
// by status.
func (s *Service) ListByStore(storeID uuid.UUID, status Status, limit, offset int) ([]Order, int64, error) {
	query := s.db.Model(&Order{}).Where("store_id = ?", storeID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []Order
	err := query.Preload("Items").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// generateOrderNumber builds a public order number like ORD-20250131-A1B2C3
func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}
