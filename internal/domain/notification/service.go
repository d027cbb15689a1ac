// internal/domain/notification/service.go
package notification

import (
	"fmt"

	"github.com/your-org/storefront-backend/internal/domain/order"
	"gorm.io/gorm"
)

// Service writes outbox rows for order lifecycle events
type Service struct {
	db *gorm.DB
}

// NewService creates a new notification service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// EnqueueOrderEvent writes one outbox row for an order event inside the
// caller's transaction. Orders without a customer phone enqueue nothing.
func (s *Service) EnqueueOrderEvent(tx *gorm.DB, o *order.Order, event string) error {
	if o.CustomerPhone == "" {
		return nil
	}

	row := &Outbox{
		StoreID:   o.StoreID,
		OrderID:   o.ID,
		Channel:   ChannelWhatsApp,
		Recipient: o.CustomerPhone,
		Body:      messageFor(o, event),
		Event:     event,
		Status:    OutboxPending,
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// messageFor renders the customer-facing text for an order event
func messageFor(o *order.Order, event string) string {
	switch event {
	case "order_created":
		return fmt.Sprintf("Hi %s! We received your order %s. Total: %s. We'll confirm it shortly.",
			o.CustomerName, o.OrderNumber, formatMoney(o.Total, o.Currency))
	case "status_confirmed":
		return fmt.Sprintf("Your order %s is confirmed and will be prepared soon.", o.OrderNumber)
	case "status_preparing":
		return fmt.Sprintf("Your order %s is being prepared.", o.OrderNumber)
	case "status_ready":
		if o.FulfillmentType == order.FulfillmentPickup {
			return fmt.Sprintf("Your order %s is ready for pickup!", o.OrderNumber)
		}
		return fmt.Sprintf("Your order %s is ready and will be out for delivery soon.", o.OrderNumber)
	case "status_out_for_delivery":
		return fmt.Sprintf("Your order %s is out for delivery.", o.OrderNumber)
	case "status_picked_up":
		return fmt.Sprintf("Thanks! Order %s was picked up.", o.OrderNumber)
	case "status_delivered":
		return fmt.Sprintf("Your order %s was delivered. Enjoy!", o.OrderNumber)
	case "order_cancelled":
		return fmt.Sprintf("Your order %s was cancelled. If you already paid, the refund is on its way.", o.OrderNumber)
	default:
		return fmt.Sprintf("Update on your order %s: %s", o.OrderNumber, event)
	}
}

func formatMoney(cents int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, cents/100, cents%100)
}
