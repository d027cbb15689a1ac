// internal/domain/payment/service_test.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupPaymentDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&order.Order{}, &order.OrderNote{}, &Payment{}, &WebhookEvent{}))
	return db
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Payment: config.PaymentConfig{
			BaseURL:     baseURL,
			AccessToken: "test-token",
		},
	}
}

func createOrder(t *testing.T, db *gorm.DB, total int64) *order.Order {
	t.Helper()
	o := &order.Order{
		StoreID:         uuid.New(),
		OrderNumber:     "ORD-20260115-" + uuid.New().String()[:6],
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentStatusPending,
		FulfillmentType: order.FulfillmentPickup,
		CustomerName:    "Test Customer",
		CustomerPhone:   "+5511988887777",
		Subtotal:        total,
		Total:           total,
		Currency:        "BRL",
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func TestCreateCashPaymentStaysLocal(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, GatewayNone, p.Gateway)
	assert.Equal(t, int64(5000), p.Amount)
	assert.Empty(t, p.ExternalID)

	var fresh order.Order
	require.NoError(t, db.First(&fresh, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusProcessing, fresh.PaymentStatus)
}

func TestCreateOnlinePaymentRegistersWithProvider(t *testing.T) {
	db := setupPaymentDB(t)
	o := createOrder(t, db, 8798)

	var gotIdempotencyKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		gotIdempotencyKey = r.Header.Get("X-Idempotency-Key")

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 87.98, req["transaction_amount"], 0.001)
		assert.Equal(t, o.OrderNumber, req["external_reference"])

		resp := ProviderPayment{ID: "MP-1001", Status: ProviderStatusPending}
		resp.PointOfInteraction.TransactionData.QRCode = "qr-payload"
		resp.PointOfInteraction.TransactionData.QRCodeBase64 = "cXItcGF5bG9hZA=="
		resp.PointOfInteraction.TransactionData.TicketURL = "https://pay.example/t/1001"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	svc := NewService(db, NewGatewayClient(config.PaymentConfig{
		BaseURL: server.URL, AccessToken: "test-token",
	}), testConfig(server.URL), quietLogger())

	p, err := svc.CreatePayment(context.Background(), o, MethodOnline)
	require.NoError(t, err)
	assert.NotEmpty(t, gotIdempotencyKey)
	assert.Equal(t, StatusProcessing, p.Status)
	assert.Equal(t, "MP-1001", p.ExternalID)
	assert.Equal(t, "qr-payload", p.PaymentCode)
	assert.Equal(t, "https://pay.example/t/1001", p.PaymentURL)
	assert.Equal(t, GatewayMercadoPago, p.Gateway)
}

func TestCreateOnlinePaymentGatewayRejection(t *testing.T) {
	db := setupPaymentDB(t)
	o := createOrder(t, db, 2500)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad_request", "message": "invalid payer"})
	}))
	defer server.Close()

	svc := NewService(db, NewGatewayClient(config.PaymentConfig{
		BaseURL: server.URL, AccessToken: "test-token",
	}), testConfig(server.URL), quietLogger())

	_, err := svc.CreatePayment(context.Background(), o, MethodOnline)
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)

	// The local row survives as failed, keeping an audit trail
	var rows []Payment
	require.NoError(t, db.Where("order_id = ?", o.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].FailureReason, "invalid payer")
}

func TestConfirmRollsUpToOrder(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.PaidAt)

	var fresh order.Order
	require.NoError(t, db.First(&fresh, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusPaid, fresh.PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, fresh.Status)
	assert.NotNil(t, fresh.ConfirmedAt)

	// Settling twice is an illegal transition
	_, err = svc.Confirm(context.Background(), p.ID, "")
	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, StatusCompleted, statusErr.From)
}

func TestFailLeavesOrderPaidWhenSiblingSucceeded(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	first, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), first.ID, "")
	require.NoError(t, err)

	second, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)
	_, err = svc.Fail(context.Background(), second.ID, "declined", "")
	require.NoError(t, err)

	var fresh order.Order
	require.NoError(t, db.First(&fresh, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusPaid, fresh.PaymentStatus)
}

func TestFailRollsUpWhenNoAttemptSucceeded(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)

	failed, err := svc.Fail(context.Background(), p.ID, "customer never paid", "")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "customer never paid", failed.FailureReason)

	var fresh order.Order
	require.NoError(t, db.First(&fresh, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusFailed, fresh.PaymentStatus)
}

func TestSettledPaymentCannotRegress(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)

	// Replay the write a racing failure settlement would issue, guarded on
	// the pending status it read before the confirmation won. It must match
	// no row.
	res := db.Model(&Payment{}).
		Where("id = ? AND status = ?", p.ID, StatusPending).
		Updates(map[string]interface{}{"status": StatusFailed, "failure_reason": "declined"})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.RowsAffected)

	// Going through the service surfaces the lost race as a stale transition
	_, err = svc.Fail(context.Background(), p.ID, "declined", "")
	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, StatusCompleted, statusErr.From)

	fresh, err := svc.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, fresh.Status)
	assert.NotNil(t, fresh.PaidAt)
	assert.Empty(t, fresh.FailureReason)

	var freshOrder order.Order
	require.NoError(t, db.First(&freshOrder, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusPaid, freshOrder.PaymentStatus)
}

func TestRefundBounds(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)

	// Cannot refund before completion
	amount := int64(1000)
	_, err = svc.Refund(context.Background(), p.ID, &amount, "too early")
	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)

	_, err = svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)

	tooMuch := int64(6000)
	_, err = svc.Refund(context.Background(), p.ID, &tooMuch, "too much")
	assert.ErrorIs(t, err, ErrRefundExceedsAmount)

	zero := int64(0)
	_, err = svc.Refund(context.Background(), p.ID, &zero, "nothing")
	assert.ErrorIs(t, err, ErrRefundExceedsAmount)
}

func TestPartialRefundsAccumulateToFull(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)

	part := int64(2000)
	refunded, err := svc.Refund(context.Background(), p.ID, &part, "damaged item")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyRefunded, refunded.Status)
	assert.Equal(t, int64(2000), refunded.RefundedAmount)
	assert.Nil(t, refunded.RefundedAt)

	var fresh order.Order
	require.NoError(t, db.First(&fresh, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusPartiallyRefunded, fresh.PaymentStatus)

	// nil amount refunds the remaining 3000
	refunded, err = svc.Refund(context.Background(), p.ID, nil, "order cancelled")
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refunded.Status)
	assert.Equal(t, int64(5000), refunded.RefundedAmount)
	assert.NotNil(t, refunded.RefundedAt)

	require.NoError(t, db.First(&fresh, "id = ?", o.ID).Error)
	assert.Equal(t, order.PaymentStatusRefunded, fresh.PaymentStatus)

	// Nothing left to refund
	_, err = svc.Refund(context.Background(), p.ID, nil, "again")
	var statusErr *InvalidStatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestOnlineRefundGoesThroughProviderFirst(t *testing.T) {
	db := setupPaymentDB(t)
	o := createOrder(t, db, 4000)

	refundCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/payments" {
			resp := ProviderPayment{ID: "MP-2002", Status: ProviderStatusPending}
			json.NewEncoder(w).Encode(resp)
			return
		}
		require.Equal(t, "/v1/payments/MP-2002/refunds", r.URL.Path)
		refundCalls++
		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 40.0, body["amount"], 0.001)
		json.NewEncoder(w).Encode(ProviderRefund{ID: "R-1", Status: "approved", Amount: 40.0})
	}))
	defer server.Close()

	svc := NewService(db, NewGatewayClient(config.PaymentConfig{
		BaseURL: server.URL, AccessToken: "test-token",
	}), testConfig(server.URL), quietLogger())

	p, err := svc.CreatePayment(context.Background(), o, MethodOnline)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)

	refunded, err := svc.Refund(context.Background(), p.ID, nil, "order cancelled")
	require.NoError(t, err)
	assert.Equal(t, 1, refundCalls)
	assert.Equal(t, StatusRefunded, refunded.Status)
}

func TestOnlineRefundProviderFailureLeavesRowUntouched(t *testing.T) {
	db := setupPaymentDB(t)
	o := createOrder(t, db, 4000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/payments" {
			json.NewEncoder(w).Encode(ProviderPayment{ID: "MP-3003", Status: ProviderStatusPending})
			return
		}
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "conflict", "message": "refund in progress"})
	}))
	defer server.Close()

	svc := NewService(db, NewGatewayClient(config.PaymentConfig{
		BaseURL: server.URL, AccessToken: "test-token",
	}), testConfig(server.URL), quietLogger())

	p, err := svc.CreatePayment(context.Background(), o, MethodOnline)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), p.ID, nil, "order cancelled")
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)

	fresh, err := svc.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, fresh.Status)
	assert.Zero(t, fresh.RefundedAmount)
}

func TestRefundOrderCoversAllRefundablePayments(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), p.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.RefundOrder(context.Background(), o.ID, "order cancelled"))

	fresh, err := svc.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, fresh.Status)

	// No refundable payments left
	err = svc.RefundOrder(context.Background(), o.ID, "again")
	assert.ErrorIs(t, err, ErrNothingToRefund)
}

func TestCancelAbandonsPendingAttempt(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	o := createOrder(t, db, 5000)

	p, err := svc.CreatePayment(context.Background(), o, MethodCash)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Terminal from here
	_, err = svc.Confirm(context.Background(), p.ID, "")
	var statusErr *InvalidStatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestGetByIDNotFound(t *testing.T) {
	db := setupPaymentDB(t)
	svc := NewService(db, nil, testConfig(""), quietLogger())
	_, err := svc.GetByID(uuid.New())
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
