// internal/domain/order/entity.go
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status represents order fulfillment status
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusPickedUp       Status = "picked_up"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// PaymentStatus represents the payment roll-up on the order
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// FulfillmentType represents how the order reaches the customer
type FulfillmentType string

const (
	FulfillmentDelivery FulfillmentType = "delivery"
	FulfillmentPickup   FulfillmentType = "pickup"
)

// statusTransitions is the complete legal transition table. Delivered,
// picked_up and cancelled are terminal: once the customer has the goods the
// order can no longer be cancelled or restocked.
var statusTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusCancelled},
	StatusReady:          {StatusOutForDelivery, StatusPickedUp, StatusCancelled},
	StatusOutForDelivery: {StatusDelivered, StatusCancelled},
	StatusPickedUp:       {},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// InvalidTransitionError reports an illegal status change together with the
// transitions that would have been legal.
type InvalidTransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("cannot transition order from %s to %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("cannot transition order from %s to %s: allowed transitions are %s",
		e.From, e.To, strings.Join(allowed, ", "))
}

// Order represents a customer order with an immutable financial snapshot
type Order struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID     uuid.UUID `gorm:"type:uuid;not null;index" json:"store_id"`
	OrderNumber string    `gorm:"uniqueIndex;not null;size:32" json:"order_number"`
	UserID      *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`

	Status        Status        `gorm:"not null;default:'pending';size:20;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"not null;default:'pending';size:20" json:"payment_status"`

	// Customer snapshot
	CustomerName  string `gorm:"not null;size:255" json:"customer_name"`
	CustomerPhone string `gorm:"not null;size:32;index" json:"customer_phone"`
	CustomerEmail string `gorm:"size:255" json:"customer_email"`

	// Delivery snapshot
	FulfillmentType FulfillmentType `gorm:"not null;size:16" json:"fulfillment_type"`
	DeliveryAddress string          `gorm:"size:512" json:"delivery_address"`
	DeliveryZip     string          `gorm:"size:16" json:"delivery_zip"`
	DeliveryLat     float64         `json:"delivery_lat,omitempty"`
	DeliveryLng     float64         `json:"delivery_lng,omitempty"`
	DistanceKm      float64         `json:"distance_km,omitempty"`

	// Financial snapshot, immutable after creation
	Currency       string `gorm:"not null;size:3" json:"currency"`
	Subtotal       int64  `gorm:"not null" json:"subtotal"`
	DiscountAmount int64  `gorm:"not null;default:0" json:"discount_amount"`
	TaxAmount      int64  `gorm:"not null;default:0" json:"tax_amount"`
	DeliveryFee    int64  `gorm:"not null;default:0" json:"delivery_fee"`
	Total          int64  `gorm:"not null" json:"total"`

	CouponID   *uuid.UUID `gorm:"type:uuid" json:"coupon_id,omitempty"`
	CouponCode string     `gorm:"size:64" json:"coupon_code,omitempty"`

	// One-shot lifecycle timestamps
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`

	CancelReason string `gorm:"size:512" json:"cancel_reason,omitempty"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	Notes []OrderNote `gorm:"foreignKey:OrderID" json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderItem is a denormalized order line. Product details are snapshotted so
// later catalog edits never change a placed order.
type OrderItem struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`

	ProductID        *uuid.UUID `gorm:"type:uuid" json:"product_id,omitempty"`
	ProductVariantID *uuid.UUID `gorm:"type:uuid" json:"product_variant_id,omitempty"`
	ComboID          *uuid.UUID `gorm:"type:uuid" json:"combo_id,omitempty"`

	ProductName string `gorm:"not null;size:255" json:"product_name"`
	ProductSKU  string `gorm:"size:100" json:"product_sku"`
	VariantName string `gorm:"size:255" json:"variant_name,omitempty"`

	UnitPrice  int64  `gorm:"not null" json:"unit_price"`
	Quantity   int    `gorm:"not null" json:"quantity"`
	TotalPrice int64  `gorm:"not null" json:"total_price"`
	Options    string `gorm:"type:text" json:"options,omitempty"`
	Notes      string `gorm:"size:512" json:"notes,omitempty"`

	// Components snapshots the ledger quantities a combo line decremented,
	// so stock restoration survives later combo edits or deletion
	Components string `gorm:"type:text" json:"components,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// OrderNote is an append-only audit entry on an order
type OrderNote struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	Author    string    `gorm:"size:255" json:"author"`
	Text      string    `gorm:"not null;type:text" json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides
func (Order) TableName() string     { return "orders" }
func (OrderItem) TableName() string { return "order_items" }
func (OrderNote) TableName() string { return "order_notes" }

// BeforeCreate sets UUID before creating
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (n *OrderNote) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// CanTransitionTo checks if the order can move to the given status
func (o *Order) CanTransitionTo(target Status) bool {
	for _, allowed := range statusTransitions[o.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the legal next statuses from the current one
func (o *Order) AllowedTransitions() []Status {
	return statusTransitions[o.Status]
}

// IsTerminal reports whether the order reached a final status
func (o *Order) IsTerminal() bool {
	return len(statusTransitions[o.Status]) == 0
}

// CanBeCancelled checks if the order can still be cancelled
func (o *Order) CanBeCancelled() bool {
	return o.CanTransitionTo(StatusCancelled)
}

// applyStatusTimestamps stamps the one-shot lifecycle timestamps for the new
// status. Already-set timestamps are never overwritten.
func (o *Order) applyStatusTimestamps(now time.Time) {
	switch o.Status {
	case StatusConfirmed:
		if o.ConfirmedAt == nil {
			o.ConfirmedAt = &now
		}
	case StatusDelivered, StatusPickedUp:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
	case StatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
	}
}

// MarkPaid sets the paid roll-up exactly once
func (o *Order) MarkPaid(now time.Time) {
	o.PaymentStatus = PaymentStatusPaid
	if o.PaidAt == nil {
		o.PaidAt = &now
	}
}

// MarkRefunded sets the refund roll-up; full refunds stamp refunded_at once
func (o *Order) MarkRefunded(now time.Time, partial bool) {
	if partial {
		o.PaymentStatus = PaymentStatusPartiallyRefunded
		return
	}
	o.PaymentStatus = PaymentStatusRefunded
	if o.RefundedAt == nil {
		o.RefundedAt = &now
	}
}
