// internal/domain/payment/reconciler.go
package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"gorm.io/gorm"
)

// webhookPayload is the provider's notification envelope
type webhookPayload struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// Reconciler processes provider webhook notifications. Each notification is
// logged durably, deduplicated by provider event id, and settled against the
// authoritative payment state fetched back from the provider. Processing is
// idempotent: replays and out-of-order deliveries converge on the same final
// state.
type Reconciler struct {
	db       *gorm.DB
	gateway  *GatewayClient
	payments *Service
	orders   *order.Service
	log      *logrus.Logger
}

// NewReconciler creates a webhook reconciler
func NewReconciler(db *gorm.DB, gateway *GatewayClient, payments *Service, orders *order.Service, log *logrus.Logger) *Reconciler {
	return &Reconciler{db: db, gateway: gateway, payments: payments, orders: orders, log: log}
}

// ProcessNotification handles one webhook delivery. The returned event row
// records the outcome. Only infrastructure failures return an error; a
// notification that cannot be settled lands as an ignored or failed event
// without erroring, so the transport can still acknowledge receipt.
func (r *Reconciler) ProcessNotification(ctx context.Context, payload []byte) (*WebhookEvent, error) {
	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	eventID := body.ID.String()
	if eventID == "" {
		// Provider omitted an event id; derive a stable one from the payload
		sum := sha256.Sum256(payload)
		eventID = hex.EncodeToString(sum[:16])
	}

	event := &WebhookEvent{
		EventID:    eventID,
		Provider:   GatewayMercadoPago,
		EventType:  body.Action,
		RawPayload: string(payload),
		Status:     EventProcessing,
	}

	// Dedupe: the first arrival of an event id does the work. Later
	// arrivals are logged as duplicates with no side effects.
	var prior int64
	err := r.db.Model(&WebhookEvent{}).
		Where("event_id = ? AND status <> ?", eventID, EventDuplicate).
		Count(&prior).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check webhook dedupe: %w", err)
	}
	if prior > 0 {
		event.Status = EventDuplicate
		if err := r.db.Create(event).Error; err != nil {
			return nil, fmt.Errorf("failed to record duplicate webhook: %w", err)
		}
		r.log.WithField("event_id", eventID).Debug("duplicate webhook notification ignored")
		return event, nil
	}

	if err := r.db.Create(event).Error; err != nil {
		// Two deliveries can pass the count before either inserts; the unique
		// index on active event ids makes the loser's insert fail. Re-check
		// and fold the loser into a duplicate row.
		var racing int64
		countErr := r.db.Model(&WebhookEvent{}).
			Where("event_id = ? AND status <> ?", eventID, EventDuplicate).
			Count(&racing).Error
		if countErr == nil && racing > 0 {
			event.Status = EventDuplicate
			if err := r.db.Create(event).Error; err != nil {
				return nil, fmt.Errorf("failed to record duplicate webhook: %w", err)
			}
			r.log.WithField("event_id", eventID).Debug("duplicate webhook notification ignored")
			return event, nil
		}
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}

	if body.Type != "payment" {
		return r.finish(event, EventIgnored, "")
	}

	providerPaymentID := body.Data.ID.String()
	if providerPaymentID == "" {
		return r.finish(event, EventIgnored, "")
	}

	// The payload only names the payment; the authoritative state comes
	// from the provider, never from the notification body.
	provider, err := r.gateway.GetPayment(ctx, providerPaymentID)
	if err != nil {
		_, _ = r.finish(event, EventFailed, err.Error())
		return event, err
	}

	p, err := r.resolvePayment(providerPaymentID, provider.ExternalReference)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			r.log.WithFields(logrus.Fields{
				"event_id":    eventID,
				"provider_id": providerPaymentID,
			}).Warn("webhook references unknown payment")
			return r.finish(event, EventIgnored, "")
		}
		_, _ = r.finish(event, EventFailed, err.Error())
		return event, err
	}

	event.PaymentID = &p.ID
	event.OrderID = &p.OrderID

	if err := r.settle(ctx, p, provider); err != nil {
		_, _ = r.finish(event, EventFailed, err.Error())
		return event, err
	}
	return r.finish(event, EventCompleted, "")
}

// resolvePayment finds the local payment by provider id, falling back to the
// order reference for payments created before the provider id was stored.
func (r *Reconciler) resolvePayment(externalID, orderReference string) (*Payment, error) {
	p, err := r.payments.GetByExternalID(externalID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}
	if orderReference == "" {
		return nil, ErrPaymentNotFound
	}

	o, err := r.orders.GetByOrderNumber(orderReference)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	var candidate Payment
	err = r.db.Where("order_id = ? AND status IN ?", o.ID,
		[]Status{StatusPending, StatusProcessing}).
		Order("created_at DESC").First(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to resolve payment by order: %w", err)
	}
	return &candidate, nil
}

// settle maps the authoritative provider status onto the local payment. An
// attempted transition the lattice rejects means an earlier event already
// applied this outcome, which counts as settled.
func (r *Reconciler) settle(ctx context.Context, p *Payment, provider *ProviderPayment) error {
	raw, _ := json.Marshal(provider)

	switch provider.Status {
	case ProviderStatusApproved:
		_, err := r.payments.Confirm(ctx, p.ID, string(raw))
		return ignoreStaleTransition(err)

	case ProviderStatusPending, ProviderStatusInProcess:
		// Still settling at the provider, nothing to apply
		return nil

	case ProviderStatusRejected, ProviderStatusCancelled:
		if _, err := r.payments.Fail(ctx, p.ID, "provider reported "+provider.Status, string(raw)); err != nil {
			return ignoreStaleTransition(err)
		}
		// A rejected attempt only voids orders still waiting on payment
		return r.releaseOrder(ctx, p.OrderID, "payment "+provider.Status,
			order.StatusPending)

	case ProviderStatusRefunded, ProviderStatusChargeback:
		if err := r.applyProviderRefund(ctx, p, provider.Status); err != nil {
			return err
		}
		// A refund voids the sale even after confirmation, as long as the
		// goods have not gone out yet
		return r.releaseOrder(ctx, p.OrderID, "payment "+provider.Status,
			order.StatusPending, order.StatusConfirmed, order.StatusPreparing)

	default:
		return fmt.Errorf("unknown provider payment status %q", provider.Status)
	}
}

// applyProviderRefund records a refund the provider already executed, so no
// outbound refund call is made.
func (r *Reconciler) applyProviderRefund(ctx context.Context, p *Payment, providerStatus string) error {
	current, err := r.payments.GetByID(p.ID)
	if err != nil {
		return err
	}
	remaining := current.RemainingRefundable()
	if remaining <= 0 {
		// Already fully refunded locally
		return nil
	}
	if current.Status != StatusCompleted && current.Status != StatusPartiallyRefunded {
		// The payment never completed locally; record the provider outcome
		// as a failure so state converges.
		_, err := r.payments.Fail(ctx, p.ID, "provider reported "+providerStatus, "")
		return ignoreStaleTransition(err)
	}
	_, err = r.payments.applyRefund(ctx, p.ID, remaining, "provider reported "+providerStatus)
	return ignoreStaleTransition(err)
}

// releaseOrder cancels the order and restores its stock when the payment
// outcome voided the sale. Only orders in one of the releasable statuses are
// touched; anything further along keeps its progress.
func (r *Reconciler) releaseOrder(ctx context.Context, orderID uuid.UUID, reason string, releasable ...order.Status) error {
	o, err := r.orders.GetByID(orderID)
	if err != nil {
		return err
	}
	release := false
	for _, st := range releasable {
		if o.Status == st {
			release = true
			break
		}
	}
	if !release {
		return nil
	}
	_, err = r.orders.Cancel(ctx, orderID, reason, nil, true)
	var invalid *order.InvalidTransitionError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}

func (r *Reconciler) finish(event *WebhookEvent, status WebhookEventStatus, errText string) (*WebhookEvent, error) {
	event.Status = status
	event.Error = errText
	if err := r.db.Model(event).Updates(map[string]interface{}{
		"status":     status,
		"error":      errText,
		"payment_id": event.PaymentID,
		"order_id":   event.OrderID,
	}).Error; err != nil {
		return event, fmt.Errorf("failed to finalize webhook event: %w", err)
	}
	return event, nil
}

// ignoreStaleTransition swallows transition rejections: they mean another
// event already applied this outcome.
func ignoreStaleTransition(err error) error {
	var invalid *InvalidStatusError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}
