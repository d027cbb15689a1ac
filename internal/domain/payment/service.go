// internal/domain/payment/service.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"gorm.io/gorm"
)

var (
	// ErrPaymentNotFound is returned by lookups when no payment matches
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrRefundExceedsAmount is returned when a refund would push the
	// refunded total past the captured amount
	ErrRefundExceedsAmount = errors.New("refund amount exceeds refundable balance")

	// ErrNothingToRefund is returned when an order has no refundable payments
	ErrNothingToRefund = errors.New("no refundable payments for order")
)

// InvalidStatusError reports an illegal payment status change
type InvalidStatusError struct {
	From Status
	To   Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("cannot transition payment from %s to %s", e.From, e.To)
}

// Service handles payment business logic
type Service struct {
	db      *gorm.DB
	gateway *GatewayClient
	cfg     *config.Config
	log     *logrus.Logger
}

// NewService creates a new payment service
func NewService(db *gorm.DB, gateway *GatewayClient, cfg *config.Config, log *logrus.Logger) *Service {
	return &Service{db: db, gateway: gateway, cfg: cfg, log: log}
}

// CreatePayment opens a payment attempt for an order. Cash attempts stay
// local. Online attempts are registered with the provider only after the
// local row is committed, so a crash between the two leaves a reconcilable
// pending row instead of an orphaned provider payment.
func (s *Service) CreatePayment(ctx context.Context, o *order.Order, method Method) (*Payment, error) {
	p := &Payment{
		StoreID:  o.StoreID,
		OrderID:  o.ID,
		Method:   method,
		Status:   StatusPending,
		Amount:   o.Total,
		Currency: o.Currency,
		Gateway:  GatewayNone,
	}
	if method == MethodOnline {
		p.Gateway = GatewayMercadoPago
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		return tx.Model(&order.Order{}).Where("id = ?", o.ID).
			Update("payment_status", order.PaymentStatusProcessing).Error
	})
	if err != nil {
		return nil, err
	}

	if method == MethodCash {
		return p, nil
	}

	notificationURL := s.cfg.WebhookNotificationURL()
	if notificationURL == "" {
		s.log.WithField("order_id", o.ID).
			Warn("webhook base URL not publicly routable, provider notifications disabled for this payment")
		if s.cfg.IsProduction() {
			s.log.Error("running in production without a routable webhook base URL")
		}
	}

	provider, err := s.gateway.CreatePayment(ctx, o.Total, o.Currency,
		fmt.Sprintf("Order %s", o.OrderNumber), o.OrderNumber, o.CustomerEmail, notificationURL)
	if err != nil {
		reason := err.Error()
		if updateErr := s.db.Model(p).Updates(map[string]interface{}{
			"status":         StatusFailed,
			"failure_reason": reason,
		}).Error; updateErr != nil {
			s.log.WithError(updateErr).Error("failed to mark payment attempt failed")
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"external_id":  provider.ID,
		"status":       StatusProcessing,
		"payment_code": provider.PointOfInteraction.TransactionData.QRCode,
		"qr_code":      provider.PointOfInteraction.TransactionData.QRCodeBase64,
		"payment_url":  provider.PointOfInteraction.TransactionData.TicketURL,
	}
	if err := s.db.Model(p).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to store provider payment details: %w", err)
	}

	p.ExternalID = provider.ID
	p.Status = StatusProcessing
	p.PaymentCode = provider.PointOfInteraction.TransactionData.QRCode
	p.QRCode = provider.PointOfInteraction.TransactionData.QRCodeBase64
	p.PaymentURL = provider.PointOfInteraction.TransactionData.TicketURL
	return p, nil
}

// Confirm marks a payment completed and rolls the outcome up to the order.
// The order moves to confirmed when it is still pending. Safe to call from
// webhook processing and manual settlement alike; an already-completed
// payment is rejected by the transition check.
func (s *Service) Confirm(ctx context.Context, paymentID uuid.UUID, rawResponse string) (*Payment, error) {
	var confirmed *Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if !p.CanTransitionTo(StatusCompleted) {
			return &InvalidStatusError{From: p.Status, To: StatusCompleted}
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"status": StatusCompleted}
		if p.PaidAt == nil {
			updates["paid_at"] = &now
		}
		if rawResponse != "" {
			updates["raw_response"] = rawResponse
		}
		// Guarded on the status just read, so a concurrent settlement that
		// got there first wins and this one surfaces as a stale transition.
		res := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", p.ID, p.Status).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to confirm payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return staleTransition(tx, p.ID, StatusCompleted)
		}
		p.Status = StatusCompleted
		if p.PaidAt == nil {
			p.PaidAt = &now
		}

		var o order.Order
		if err := tx.Where("id = ?", p.OrderID).First(&o).Error; err != nil {
			return fmt.Errorf("failed to load order for payment: %w", err)
		}
		o.MarkPaid(now)
		if o.Status == order.StatusPending {
			o.Status = order.StatusConfirmed
			if o.ConfirmedAt == nil {
				o.ConfirmedAt = &now
			}
		}
		if err := tx.Save(&o).Error; err != nil {
			return fmt.Errorf("failed to roll up payment to order: %w", err)
		}

		confirmed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Fail marks a payment attempt failed. The order roll-up only moves to
// failed when no other attempt already succeeded.
func (s *Service) Fail(ctx context.Context, paymentID uuid.UUID, reason, rawResponse string) (*Payment, error) {
	var failed *Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if !p.CanTransitionTo(StatusFailed) {
			return &InvalidStatusError{From: p.Status, To: StatusFailed}
		}

		updates := map[string]interface{}{
			"status":         StatusFailed,
			"failure_reason": reason,
		}
		if rawResponse != "" {
			updates["raw_response"] = rawResponse
		}
		res := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", p.ID, p.Status).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to mark payment failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return staleTransition(tx, p.ID, StatusFailed)
		}
		p.Status = StatusFailed
		p.FailureReason = reason

		var succeeded int64
		err = tx.Model(&Payment{}).
			Where("order_id = ? AND status IN ?", p.OrderID,
				[]Status{StatusCompleted, StatusRefunded, StatusPartiallyRefunded}).
			Count(&succeeded).Error
		if err != nil {
			return fmt.Errorf("failed to check sibling payments: %w", err)
		}
		if succeeded == 0 {
			if err := tx.Model(&order.Order{}).Where("id = ?", p.OrderID).
				Update("payment_status", order.PaymentStatusFailed).Error; err != nil {
				return fmt.Errorf("failed to roll up failure to order: %w", err)
			}
		}

		failed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failed, nil
}

// Cancel abandons a payment attempt that never completed
func (s *Service) Cancel(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	var cancelled *Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if !p.CanTransitionTo(StatusCancelled) {
			return &InvalidStatusError{From: p.Status, To: StatusCancelled}
		}
		res := tx.Model(&Payment{}).
			Where("id = ? AND status = ?", p.ID, p.Status).
			Update("status", StatusCancelled)
		if res.Error != nil {
			return fmt.Errorf("failed to cancel payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return staleTransition(tx, p.ID, StatusCancelled)
		}
		p.Status = StatusCancelled
		cancelled = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Refund refunds part or all of a completed payment. A nil amount refunds
// the remaining balance. Online refunds go through the provider first; the
// local row only changes after the provider accepts.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, amount *int64, reason string) (*Payment, error) {
	p, err := s.GetByID(paymentID)
	if err != nil {
		return nil, err
	}

	if p.Status != StatusCompleted && p.Status != StatusPartiallyRefunded {
		return nil, &InvalidStatusError{From: p.Status, To: StatusRefunded}
	}

	refundAmount := p.RemainingRefundable()
	if amount != nil {
		refundAmount = *amount
	}
	if refundAmount <= 0 || refundAmount > p.RemainingRefundable() {
		return nil, ErrRefundExceedsAmount
	}

	if p.Method == MethodOnline && p.ExternalID != "" {
		if _, err := s.gateway.CreateRefund(ctx, p.ExternalID, &refundAmount); err != nil {
			return nil, err
		}
	}

	return s.applyRefund(ctx, p.ID, refundAmount, reason)
}

// applyRefund records an accepted refund locally and rolls it up
func (s *Service) applyRefund(ctx context.Context, paymentID uuid.UUID, refundAmount int64, reason string) (*Payment, error) {
	var refunded *Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadPayment(tx, paymentID)
		if err != nil {
			return err
		}

		if p.RefundedAmount+refundAmount > p.Amount {
			return ErrRefundExceedsAmount
		}

		now := time.Now().UTC()
		newRefunded := p.RefundedAmount + refundAmount
		full := newRefunded == p.Amount
		target := StatusPartiallyRefunded
		if full {
			target = StatusRefunded
		}
		updates := map[string]interface{}{
			"refunded_amount": newRefunded,
			"status":          target,
		}
		if full && p.RefundedAt == nil {
			updates["refunded_at"] = &now
		}
		// Guarded on both status and the refunded running total, so two
		// refunds racing on the same payment cannot double-apply.
		res := tx.Model(&Payment{}).
			Where("id = ? AND status = ? AND refunded_amount = ?", p.ID, p.Status, p.RefundedAmount).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to record refund: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return staleTransition(tx, p.ID, target)
		}
		p.RefundedAmount = newRefunded
		p.Status = target
		if full && p.RefundedAt == nil {
			p.RefundedAt = &now
		}

		var o order.Order
		if err := tx.Where("id = ?", p.OrderID).First(&o).Error; err != nil {
			return fmt.Errorf("failed to load order for refund: %w", err)
		}
		o.MarkRefunded(now, !full)
		if err := tx.Save(&o).Error; err != nil {
			return fmt.Errorf("failed to roll up refund to order: %w", err)
		}

		note := order.OrderNote{
			OrderID: o.ID,
			Author:  "system",
			Text:    fmt.Sprintf("refunded %d %s: %s", refundAmount, p.Currency, reason),
		}
		if err := tx.Create(&note).Error; err != nil {
			return fmt.Errorf("failed to record refund note: %w", err)
		}

		refunded = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// RefundOrder refunds the remaining balance of every refundable payment on
// an order. Implements the cancellation refund hook.
func (s *Service) RefundOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	var payments []Payment
	err := s.db.Where("order_id = ? AND status IN ?", orderID,
		[]Status{StatusCompleted, StatusPartiallyRefunded}).Find(&payments).Error
	if err != nil {
		return fmt.Errorf("failed to list order payments: %w", err)
	}
	if len(payments) == 0 {
		return ErrNothingToRefund
	}

	if reason == "" {
		reason = "order cancelled"
	}
	for i := range payments {
		if _, err := s.Refund(ctx, payments[i].ID, nil, reason); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a payment
func (s *Service) GetByID(paymentID uuid.UUID) (*Payment, error) {
	var p Payment
	if err := s.db.Where("id = ?", paymentID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to retrieve payment: %w", err)
	}
	return &p, nil
}

// GetByExternalID retrieves a payment by the provider's id
func (s *Service) GetByExternalID(externalID string) (*Payment, error) {
	var p Payment
	if err := s.db.Where("external_id = ?", externalID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to retrieve payment: %w", err)
	}
	return &p, nil
}

// ListByOrder returns all payment attempts for an order, newest first
func (s *Service) ListByOrder(orderID uuid.UUID) ([]Payment, error) {
	var payments []Payment
	err := s.db.Where("order_id = ?", orderID).
		Order("created_at DESC").Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func loadPayment(tx *gorm.DB, paymentID uuid.UUID) (*Payment, error) {
	var p Payment
	if err := tx.Where("id = ?", paymentID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &p, nil
}

// staleTransition reports a guarded status update that matched no row. The
// payment moved under us, so the error carries whatever status it holds now.
func staleTransition(tx *gorm.DB, paymentID uuid.UUID, target Status) error {
	current, err := loadPayment(tx, paymentID)
	if err != nil {
		return err
	}
	return &InvalidStatusError{From: current.Status, To: target}
}
