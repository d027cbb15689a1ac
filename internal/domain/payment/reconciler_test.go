// internal/domain/payment/reconciler_test.go
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/config"
	"github.com/your-org/storefront-backend/internal/domain/cart"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/order"
	"github.com/your-org/storefront-backend/internal/domain/pricing"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"github.com/your-org/storefront-backend/internal/domain/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type reconcilerEnv struct {
	db         *gorm.DB
	reconciler *Reconciler
	payments   *Service
	orders     *order.Service
	provider   map[string]*ProviderPayment
	server     *httptest.Server
}

func setupReconcilerEnv(t *testing.T) *reconcilerEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&store.Store{}, &store.DeliveryZone{}, &store.Coupon{},
		&product.Product{}, &product.ProductVariant{},
		&product.Combo{}, &product.ComboItem{},
		&cart.Cart{}, &cart.CartItem{}, &cart.CartComboItem{},
		&order.Order{}, &order.OrderItem{}, &order.OrderNote{},
		&Payment{}, &WebhookEvent{},
	))

	env := &reconcilerEnv{db: db, provider: make(map[string]*ProviderPayment)}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
		p, ok := env.provider[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not_found", "message": "payment not found"})
			return
		}
		json.NewEncoder(w).Encode(p)
	}))
	t.Cleanup(env.server.Close)

	gateway := NewGatewayClient(config.PaymentConfig{BaseURL: env.server.URL, AccessToken: "test-token"})
	cfg := &config.Config{App: config.AppConfig{Environment: "test"}}
	log := quietLogger()

	env.payments = NewService(db, gateway, cfg, log)
	env.orders = order.NewService(db, inventory.NewService(db), pricing.NewService(db), cart.NewService(db), nil)
	env.reconciler = NewReconciler(db, gateway, env.payments, env.orders, log)
	return env
}

// seedOrder creates a pending order with one line of quantity 2 whose stock
// has already been decremented, the state checkout leaves behind.
func (e *reconcilerEnv) seedOrder(t *testing.T) (*order.Order, *product.Product) {
	t.Helper()
	st := &store.Store{
		Name: "Store", Slug: "s-" + uuid.New().String()[:8],
		Currency: "BRL", IsActive: true,
	}
	require.NoError(t, e.db.Create(st).Error)

	p := &product.Product{
		StoreID: st.ID, SKU: "SKU-" + uuid.New().String()[:8], Name: "Widget",
		Price: 2500, TrackStock: true, StockQuantity: 8, SoldCount: 2, IsActive: true,
	}
	require.NoError(t, e.db.Create(p).Error)

	o := &order.Order{
		StoreID:         st.ID,
		OrderNumber:     "ORD-20260115-" + uuid.New().String()[:6],
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentStatusPending,
		FulfillmentType: order.FulfillmentPickup,
		CustomerName:    "Test Customer",
		CustomerPhone:   "+5511988887777",
		Subtotal:        5000,
		Total:           5000,
		Currency:        "BRL",
	}
	require.NoError(t, e.db.Create(o).Error)
	item := &order.OrderItem{
		OrderID: o.ID, ProductID: &p.ID, ProductName: p.Name,
		UnitPrice: 2500, Quantity: 2, TotalPrice: 5000,
	}
	require.NoError(t, e.db.Create(item).Error)
	return o, p
}

func (e *reconcilerEnv) seedPayment(t *testing.T, o *order.Order, externalID string) *Payment {
	t.Helper()
	p := &Payment{
		StoreID: o.StoreID, OrderID: o.ID, Method: MethodOnline,
		Status: StatusProcessing, Gateway: GatewayMercadoPago,
		Amount: o.Total, Currency: o.Currency, ExternalID: externalID,
	}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func providerState(id, status, orderRef string) *ProviderPayment {
	pp := &ProviderPayment{ID: id, Status: status, ExternalReference: orderRef}
	return pp
}

func notification(eventID int, providerPaymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id": %d, "type": "payment", "action": "payment.updated", "data": {"id": %s}}`,
		eventID, providerPaymentID))
}

func TestApprovedNotificationSettlesPayment(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, _ := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")
	e.provider["9001"] = providerState("9001", ProviderStatusApproved, o.OrderNumber)

	event, err := e.reconciler.ProcessNotification(context.Background(), notification(555, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)
	require.NotNil(t, event.PaymentID)
	assert.Equal(t, p.ID, *event.PaymentID)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, fresh.Status)
	assert.NotNil(t, fresh.PaidAt)

	freshOrder, err := e.orders.GetByID(o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, freshOrder.Status)
	assert.Equal(t, order.PaymentStatusPaid, freshOrder.PaymentStatus)
}

func TestDuplicateDeliveryHasNoSideEffects(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, _ := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")
	e.provider["9001"] = providerState("9001", ProviderStatusApproved, o.OrderNumber)

	payload := notification(555, "9001")
	first, err := e.reconciler.ProcessNotification(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, EventCompleted, first.Status)

	paidAt := func() string {
		fresh, err := e.payments.GetByID(p.ID)
		require.NoError(t, err)
		require.NotNil(t, fresh.PaidAt)
		return fresh.PaidAt.String()
	}
	before := paidAt()

	second, err := e.reconciler.ProcessNotification(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, EventDuplicate, second.Status)
	assert.Equal(t, before, paidAt())

	// Both deliveries are on record
	var rows int64
	require.NoError(t, e.db.Model(&WebhookEvent{}).Where("event_id = ?", "555").Count(&rows).Error)
	assert.Equal(t, int64(2), rows)
}

func TestPendingProviderStatusLeavesPaymentAlone(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, _ := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")
	e.provider["9001"] = providerState("9001", ProviderStatusInProcess, o.OrderNumber)

	event, err := e.reconciler.ProcessNotification(context.Background(), notification(556, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, fresh.Status)
}

func TestRejectedNotificationReleasesOrder(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, prod := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")
	e.provider["9001"] = providerState("9001", ProviderStatusRejected, o.OrderNumber)

	event, err := e.reconciler.ProcessNotification(context.Background(), notification(557, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, fresh.Status)

	freshOrder, err := e.orders.GetByID(o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, freshOrder.Status)

	// Reserved stock goes back on the shelf
	var freshProd product.Product
	require.NoError(t, e.db.First(&freshProd, "id = ?", prod.ID).Error)
	assert.Equal(t, 10, freshProd.StockQuantity)
	assert.Equal(t, 0, freshProd.SoldCount)
}

func TestOutOfOrderDeliveriesConverge(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, prod := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")

	// Approval arrives first
	e.provider["9001"] = providerState("9001", ProviderStatusApproved, o.OrderNumber)
	_, err := e.reconciler.ProcessNotification(context.Background(), notification(558, "9001"))
	require.NoError(t, err)

	// A stale rejection event arrives late; the provider now reports the
	// authoritative approved state, so nothing regresses.
	event, err := e.reconciler.ProcessNotification(context.Background(), notification(559, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, fresh.Status)

	freshOrder, err := e.orders.GetByID(o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, freshOrder.Status)

	var freshProd product.Product
	require.NoError(t, e.db.First(&freshProd, "id = ?", prod.ID).Error)
	assert.Equal(t, 8, freshProd.StockQuantity)
}

func TestRefundedNotificationRecordsProviderRefund(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, prod := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")

	e.provider["9001"] = providerState("9001", ProviderStatusApproved, o.OrderNumber)
	_, err := e.reconciler.ProcessNotification(context.Background(), notification(560, "9001"))
	require.NoError(t, err)

	e.provider["9001"] = providerState("9001", ProviderStatusRefunded, o.OrderNumber)
	event, err := e.reconciler.ProcessNotification(context.Background(), notification(561, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, fresh.Status)
	assert.Equal(t, fresh.Amount, fresh.RefundedAmount)

	// The refund voids the confirmed sale: the order is released and the
	// reserved stock goes back on the shelf
	freshOrder, err := e.orders.GetByID(o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, freshOrder.Status)
	assert.Equal(t, order.PaymentStatusRefunded, freshOrder.PaymentStatus)

	var freshProd product.Product
	require.NoError(t, e.db.First(&freshProd, "id = ?", prod.ID).Error)
	assert.Equal(t, 10, freshProd.StockQuantity)
	assert.Equal(t, 0, freshProd.SoldCount)
}

func TestRefundedNotificationKeepsDispatchedOrders(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, prod := e.seedOrder(t)
	p := e.seedPayment(t, o, "9001")

	e.provider["9001"] = providerState("9001", ProviderStatusApproved, o.OrderNumber)
	_, err := e.reconciler.ProcessNotification(context.Background(), notification(570, "9001"))
	require.NoError(t, err)

	// The order has already gone out when the refund lands
	for _, st := range []order.Status{order.StatusPreparing, order.StatusReady, order.StatusPickedUp} {
		_, err = e.orders.UpdateStatus(context.Background(), o.ID, st, "staff")
		require.NoError(t, err)
	}

	e.provider["9001"] = providerState("9001", ProviderStatusRefunded, o.OrderNumber)
	event, err := e.reconciler.ProcessNotification(context.Background(), notification(571, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, fresh.Status)

	// The refund is on record but the delivered goods stay sold
	freshOrder, err := e.orders.GetByID(o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPickedUp, freshOrder.Status)

	var freshProd product.Product
	require.NoError(t, e.db.First(&freshProd, "id = ?", prod.ID).Error)
	assert.Equal(t, 8, freshProd.StockQuantity)
}

func TestEventIDUniqueAcrossActiveRows(t *testing.T) {
	e := setupReconcilerEnv(t)

	first := &WebhookEvent{EventID: "888", Provider: GatewayMercadoPago, Status: EventCompleted}
	require.NoError(t, e.db.Create(first).Error)

	// A second non-duplicate row for the same event id violates the index,
	// so a delivery racing past the dedupe check cannot double-process
	second := &WebhookEvent{EventID: "888", Provider: GatewayMercadoPago, Status: EventProcessing}
	assert.Error(t, e.db.Create(second).Error)

	// Duplicate rows are exempt; every delivery still leaves a record
	dup := &WebhookEvent{EventID: "888", Provider: GatewayMercadoPago, Status: EventDuplicate}
	assert.NoError(t, e.db.Create(dup).Error)
}

func TestUnknownPaymentIsIgnored(t *testing.T) {
	e := setupReconcilerEnv(t)
	e.provider["7777"] = providerState("7777", ProviderStatusApproved, "")

	event, err := e.reconciler.ProcessNotification(context.Background(), notification(562, "7777"))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, event.Status)
}

func TestResolveByOrderReferenceFallback(t *testing.T) {
	e := setupReconcilerEnv(t)
	o, _ := e.seedOrder(t)
	// Crash before the provider id was stored: the row has no external id
	p := e.seedPayment(t, o, "")
	e.provider["9001"] = providerState("9001", ProviderStatusApproved, o.OrderNumber)

	event, err := e.reconciler.ProcessNotification(context.Background(), notification(563, "9001"))
	require.NoError(t, err)
	assert.Equal(t, EventCompleted, event.Status)

	fresh, err := e.payments.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, fresh.Status)
}

func TestGatewayFetchFailureMarksEventFailed(t *testing.T) {
	e := setupReconcilerEnv(t)
	// No provider entry: the lookup 404s

	event, err := e.reconciler.ProcessNotification(context.Background(), notification(564, "4040"))
	require.Error(t, err)
	require.NotNil(t, event)

	var row WebhookEvent
	require.NoError(t, e.db.Where("event_id = ?", "564").First(&row).Error)
	assert.Equal(t, EventFailed, row.Status)
	assert.NotEmpty(t, row.Error)
}

func TestNonPaymentNotificationIgnored(t *testing.T) {
	e := setupReconcilerEnv(t)
	payload := []byte(`{"id": 565, "type": "test", "action": "test.created", "data": {"id": 1}}`)

	event, err := e.reconciler.ProcessNotification(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, event.Status)
}

func TestMissingEventIDDerivedFromPayload(t *testing.T) {
	e := setupReconcilerEnv(t)
	payload := []byte(`{"type": "test", "data": {}}`)

	event, err := e.reconciler.ProcessNotification(context.Background(), payload)
	require.NoError(t, err)
	assert.Len(t, event.EventID, 32)

	// The same body replayed dedupes on the derived id
	replay, err := e.reconciler.ProcessNotification(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, EventDuplicate, replay.Status)
	assert.Equal(t, event.EventID, replay.EventID)
}

func TestMalformedPayloadRejected(t *testing.T) {
	e := setupReconcilerEnv(t)
	_, err := e.reconciler.ProcessNotification(context.Background(), []byte("{not json"))
	assert.Error(t, err)
}
