// internal/domain/notification/entity.go
package notification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboxStatus tracks delivery progress of an outbox row
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// Channel names the delivery transport
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
)

// Outbox is a durable notification row. It is written in the same
// transaction as the state change it announces and dispatched later by the
// worker, so a delivery problem can never roll back an order.
type Outbox struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	StoreID uuid.UUID `gorm:"type:uuid;not null;index" json:"store_id"`
	OrderID uuid.UUID `gorm:"type:uuid;index" json:"order_id"`

	Channel   Channel      `gorm:"not null;size:16" json:"channel"`
	Recipient string       `gorm:"not null;size:64" json:"recipient"`
	Body      string       `gorm:"not null;type:text" json:"body"`
	Event     string       `gorm:"size:64" json:"event"`
	Status    OutboxStatus `gorm:"not null;default:'pending';size:16;index" json:"status"`

	Attempts  int    `gorm:"not null;default:0" json:"attempts"`
	LastError string `gorm:"size:1024" json:"last_error,omitempty"`
	MessageID string `gorm:"size:128" json:"message_id,omitempty"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName overrides
func (Outbox) TableName() string { return "notification_outbox" }

// BeforeCreate sets UUID before creating
func (o *Outbox) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
