// internal/domain/notification/worker.go
package notification

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Sender delivers one text message and returns the provider message id
type Sender interface {
	SendTextMessage(ctx context.Context, recipient, text string) (string, error)
}

// Worker dispatches pending outbox rows on a fixed poll interval. Delivery
// failures are recorded on the row and retried until the attempt cap, after
// which the row stays failed for operator review.
type Worker struct {
	db          *gorm.DB
	sender      Sender
	log         *logrus.Logger
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

// NewWorker creates an outbox worker
func NewWorker(db *gorm.DB, sender Sender, log *logrus.Logger, interval time.Duration, maxAttempts int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{
		db:          db,
		sender:      sender,
		log:         log,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   50,
	}
}

// Run polls until the context is cancelled
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval).Info("notification worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("notification worker stopped")
			return
		case <-ticker.C:
			if err := w.DispatchPending(ctx); err != nil {
				w.log.WithError(err).Error("outbox dispatch pass failed")
			}
		}
	}
}

// DispatchPending sends one batch of due rows. Exposed for tests and for a
// drain-on-shutdown pass.
func (w *Worker) DispatchPending(ctx context.Context) error {
	var rows []Outbox
	err := w.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", OutboxPending, w.maxAttempts).
		Order("created_at ASC").
		Limit(w.batchSize).
		Find(&rows).Error
	if err != nil {
		return err
	}

	for i := range rows {
		w.dispatch(ctx, &rows[i])
	}
	return nil
}

func (w *Worker) dispatch(ctx context.Context, row *Outbox) {
	messageID, err := w.sender.SendTextMessage(ctx, row.Recipient, row.Body)
	attempts := row.Attempts + 1

	if err != nil {
		status := OutboxPending
		if attempts >= w.maxAttempts {
			status = OutboxFailed
		}
		updateErr := w.db.Model(row).Updates(map[string]interface{}{
			"attempts":   attempts,
			"status":     status,
			"last_error": err.Error(),
		}).Error
		if updateErr != nil {
			w.log.WithError(updateErr).Error("failed to record notification failure")
		}
		w.log.WithError(err).WithFields(logrus.Fields{
			"outbox_id": row.ID,
			"attempts":  attempts,
		}).Warn("notification delivery failed")
		return
	}

	now := time.Now().UTC()
	updateErr := w.db.Model(row).Updates(map[string]interface{}{
		"attempts":   attempts,
		"status":     OutboxSent,
		"message_id": messageID,
		"last_error": "",
		"sent_at":    &now,
	}).Error
	if updateErr != nil {
		w.log.WithError(updateErr).Error("failed to mark notification sent")
	}
}
