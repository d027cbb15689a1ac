// internal/domain/payment/entity.go
package payment

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status represents the lifecycle of one payment attempt
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Method represents how the customer pays
type Method string

const (
	MethodCash   Method = "cash"
	MethodOnline Method = "online"
)

// Gateway identifiers stored on payment rows
const (
	GatewayMercadoPago = "mercadopago"
	GatewayNone        = "none" // cash and other local-only attempts
)

// statusTransitions is the payment status lattice. Refund states are only
// reachable from completed.
var statusTransitions = map[Status][]Status{
	StatusPending:           {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing:        {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded, StatusPartiallyRefunded},
	StatusFailed:            {},
	StatusCancelled:         {},
	StatusRefunded:          {},
}

// Payment is one payment attempt against an order. An order can accumulate
// several attempts; at most one ends up completed.
type Payment struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID uuid.UUID `gorm:"type:uuid;not null;index" json:"store_id"`
	OrderID uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`

	Gateway    string `gorm:"not null;size:32" json:"gateway"`
	ExternalID string `gorm:"size:64;index" json:"external_id,omitempty"`

	Method   Method `gorm:"not null;size:16" json:"method"`
	Status   Status `gorm:"not null;default:'pending';size:20" json:"status"`
	Amount   int64  `gorm:"not null" json:"amount"`
	Currency string `gorm:"not null;size:3" json:"currency"`

	// RefundedAmount only grows and never exceeds Amount
	RefundedAmount int64 `gorm:"not null;default:0" json:"refunded_amount"`

	PaymentCode string `gorm:"size:512" json:"payment_code,omitempty"` // copy-paste code
	QRCode      string `gorm:"type:text" json:"qr_code,omitempty"`     // base64 image
	PaymentURL  string `gorm:"size:1024" json:"payment_url,omitempty"`

	FailureReason string `gorm:"size:512" json:"failure_reason,omitempty"`
	RawResponse   string `gorm:"type:text" json:"-"`

	PaidAt     *time.Time `json:"paid_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookEventStatus tracks how far a provider notification got
type WebhookEventStatus string

const (
	EventPending    WebhookEventStatus = "pending"
	EventProcessing WebhookEventStatus = "processing"
	EventCompleted  WebhookEventStatus = "completed"
	EventFailed     WebhookEventStatus = "failed"
	EventDuplicate  WebhookEventStatus = "duplicate"
	EventIgnored    WebhookEventStatus = "ignored"
)

// WebhookEvent is the durable log row for one provider notification. Every
// delivery gets a row; the first arrival of an event id does the work and
// replays land as duplicate rows with no side effects.
type WebhookEvent struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// At most one non-duplicate row may exist per event id; the partial
	// unique index closes the check-then-insert race between two deliveries
	EventID string `gorm:"not null;size:128;index:idx_webhook_events_active,unique,where:status <> 'duplicate'" json:"event_id"`

	Provider   string             `gorm:"not null;size:32" json:"provider"`
	EventType  string             `gorm:"size:64" json:"event_type"`
	RawPayload string             `gorm:"type:text" json:"-"`
	Status     WebhookEventStatus `gorm:"not null;default:'pending';size:16" json:"status"`
	Error      string             `gorm:"size:1024" json:"error,omitempty"`

	PaymentID *uuid.UUID `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	OrderID   *uuid.UUID `gorm:"type:uuid" json:"order_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides
func (Payment) TableName() string      { return "payments" }
func (WebhookEvent) TableName() string { return "payment_webhook_events" }

// BeforeCreate sets UUID before creating
func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// CanTransitionTo checks the payment status lattice
func (p *Payment) CanTransitionTo(target Status) bool {
	for _, allowed := range statusTransitions[p.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (p *Payment) IsTerminal() bool {
	return len(statusTransitions[p.Status]) == 0
}

// RemainingRefundable returns how much of the payment can still be refunded
func (p *Payment) RemainingRefundable() int64 {
	return p.Amount - p.RefundedAmount
}
