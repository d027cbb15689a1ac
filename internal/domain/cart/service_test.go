// internal/domain/cart/service_test.go
package cart

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/storefront-backend/internal/domain/inventory"
	"github.com/your-org/storefront-backend/internal/domain/product"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&product.Product{}, &product.ProductVariant{},
		&product.Combo{}, &product.ComboItem{},
		&Cart{}, &CartItem{}, &CartComboItem{},
	))
	return db
}

func createProduct(t *testing.T, db *gorm.DB, name string, price int64, stock int) *product.Product {
	t.Helper()
	p := &product.Product{
		StoreID:       uuid.New(),
		SKU:           "SKU-" + uuid.New().String()[:8],
		Name:          name,
		Price:         price,
		TrackStock:    true,
		StockQuantity: stock,
		IsActive:      true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestGetOrCreateCartReusesActiveCart(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	storeID := uuid.New()

	first, err := svc.GetOrCreateCart(storeID, nil, "session-1")
	require.NoError(t, err)

	second, err := svc.GetOrCreateCart(storeID, nil, "session-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := svc.GetOrCreateCart(storeID, nil, "session-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestAddItemAccumulatesQuantity(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, "Burger", 2500, 10)

	c, err := svc.GetOrCreateCart(p.StoreID, nil, "s1")
	require.NoError(t, err)

	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	updated, err := svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	require.Len(t, updated.Items, 1)
	assert.Equal(t, 5, updated.Items[0].Quantity)
	assert.Equal(t, int64(2500), updated.Items[0].UnitPrice)
}

func TestAddItemChecksCumulativeStock(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, "Burger", 2500, 5)

	c, err := svc.GetOrCreateCart(p.StoreID, nil, "s1")
	require.NoError(t, err)

	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 3})
	require.NoError(t, err)

	// 3 in cart + 3 more would exceed the 5 available
	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 3})
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 5, stockErr.Available)
	assert.Equal(t, 6, stockErr.Requested)
}

func TestAddItemMergesOptions(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, "Pizza", 4000, 10)

	c, err := svc.GetOrCreateCart(p.StoreID, nil, "s1")
	require.NoError(t, err)

	_, err = svc.AddItem(c.ID, &AddItemRequest{
		ProductID: p.ID, Quantity: 1,
		Options: map[string]string{"size": "large", "crust": "thin"},
	})
	require.NoError(t, err)

	updated, err := svc.AddItem(c.ID, &AddItemRequest{
		ProductID: p.ID, Quantity: 1,
		Options: map[string]string{"crust": "thick", "extra": "cheese"},
	})
	require.NoError(t, err)

	var opts map[string]string
	require.NoError(t, json.Unmarshal([]byte(updated.Items[0].Options), &opts))
	assert.Equal(t, "large", opts["size"])
	assert.Equal(t, "thick", opts["crust"]) // newer value wins
	assert.Equal(t, "cheese", opts["extra"])
}

func TestVariantLinesAreDistinct(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, "Soda", 800, 20)

	v := &product.ProductVariant{
		ProductID: p.ID, Name: "2L", Price: 1200, IsActive: true,
	}
	require.NoError(t, db.Create(v).Error)

	c, err := svc.GetOrCreateCart(p.StoreID, nil, "s1")
	require.NoError(t, err)

	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	updated, err := svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, ProductVariantID: &v.ID, Quantity: 1})
	require.NoError(t, err)

	require.Len(t, updated.Items, 2)
	assert.Equal(t, int64(2000), updated.Subtotal()) // 800 + 1200 variant override
}

func TestUpdateItemQuantityReplaces(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, "Burger", 2500, 5)

	c, err := svc.GetOrCreateCart(p.StoreID, nil, "s1")
	require.NoError(t, err)
	updated, err := svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 4})
	require.NoError(t, err)

	// Replacing 4 with 5 fits the 5 available even though 4+5 would not
	err = svc.UpdateItemQuantityByID(c.ID, updated.Items[0].ID, 5)
	require.NoError(t, err)

	fresh, err := svc.GetCartByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.Items[0].Quantity)
}

func TestUpdateItemQuantityZeroDeletesLine(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, "Burger", 2500, 5)

	c, err := svc.GetOrCreateCart(p.StoreID, nil, "s1")
	require.NoError(t, err)
	updated, err := svc.AddItem(c.ID, &AddItemRequest{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateItemQuantityByID(c.ID, updated.Items[0].ID, 0))

	fresh, err := svc.GetCartByID(c.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsEmpty())
}

func TestUpdateUnknownItemReturnsNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	storeID := uuid.New()

	c, err := svc.GetOrCreateCart(storeID, nil, "s1")
	require.NoError(t, err)

	err = svc.UpdateItemQuantityByID(c.ID, uuid.New(), 2)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestMergeSumsMatchingLinesAndMovesRest(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	shared := createProduct(t, db, "Shared", 1000, 50)
	onlySession := &product.Product{
		StoreID: shared.StoreID, SKU: "OS", Name: "Session Only",
		Price: 500, TrackStock: true, StockQuantity: 50, IsActive: true,
	}
	require.NoError(t, db.Create(onlySession).Error)

	userID := uuid.New()

	sessionCart, err := svc.GetOrCreateCart(shared.StoreID, nil, "anon-key")
	require.NoError(t, err)
	_, err = svc.AddItem(sessionCart.ID, &AddItemRequest{ProductID: shared.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(sessionCart.ID, &AddItemRequest{ProductID: onlySession.ID, Quantity: 1})
	require.NoError(t, err)

	userCart, err := svc.GetOrCreateCart(shared.StoreID, &userID, "")
	require.NoError(t, err)
	_, err = svc.AddItem(userCart.ID, &AddItemRequest{ProductID: shared.ID, Quantity: 3})
	require.NoError(t, err)

	merged, err := svc.Merge(shared.StoreID, userID, "anon-key")
	require.NoError(t, err)

	require.Len(t, merged.Items, 2)
	quantities := map[uuid.UUID]int{}
	for _, item := range merged.Items {
		quantities[item.ProductID] = item.Quantity
	}
	assert.Equal(t, 5, quantities[shared.ID])
	assert.Equal(t, 1, quantities[onlySession.ID])

	// Source cart is gone from active lookups
	_, err = svc.GetActiveCart(shared.StoreID, nil, "anon-key")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestValidateForCheckoutReportsAllViolations(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ok := createProduct(t, db, "In Stock", 1000, 10)
	low := &product.Product{
		StoreID: ok.StoreID, SKU: "LOW", Name: "Low Stock",
		Price: 1000, TrackStock: true, StockQuantity: 5, IsActive: true,
	}
	require.NoError(t, db.Create(low).Error)
	gone := &product.Product{
		StoreID: ok.StoreID, SKU: "GONE", Name: "Sold Out",
		Price: 1000, TrackStock: true, StockQuantity: 3, IsActive: true,
	}
	require.NoError(t, db.Create(gone).Error)

	c, err := svc.GetOrCreateCart(ok.StoreID, nil, "s1")
	require.NoError(t, err)
	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: ok.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: low.ID, Quantity: 5})
	require.NoError(t, err)
	_, err = svc.AddItem(c.ID, &AddItemRequest{ProductID: gone.ID, Quantity: 3})
	require.NoError(t, err)

	// Stock drains behind the cart's back
	require.NoError(t, db.Model(low).UpdateColumn("stock_quantity", 1).Error)
	require.NoError(t, db.Model(gone).UpdateColumn("stock_quantity", 0).Error)

	full, err := svc.GetCartByID(c.ID)
	require.NoError(t, err)
	violations := svc.ValidateForCheckout(full)

	require.Len(t, violations, 2)
	names := []string{violations[0].ProductName, violations[1].ProductName}
	assert.Contains(t, names, "Low Stock")
	assert.Contains(t, names, "Sold Out")
}
