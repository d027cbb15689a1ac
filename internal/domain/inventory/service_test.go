// internal/domain/inventory/service_test.go
package inventory

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	require.NoError(t, db.AutoMigrate(&product.Product{}, &product.ProductVariant{}))
	return db
}

func createProduct(t *testing.T, db *gorm.DB, stock int, tracked bool) *product.Product {
	t.Helper()
	p := &product.Product{
		StoreID:       uuid.New(),
		SKU:           "SKU-" + uuid.New().String()[:8],
		Name:          "Test Product",
		Price:         1500,
		TrackStock:    tracked,
		StockQuantity: stock,
		IsActive:      true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestDecrementTrackedStock(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 10, true)

	err := svc.Decrement(db, p, nil, 3)
	require.NoError(t, err)

	var fresh product.Product
	require.NoError(t, db.First(&fresh, "id = ?", p.ID).Error)
	assert.Equal(t, 7, fresh.StockQuantity)
	assert.Equal(t, 3, fresh.SoldCount)
}

func TestDecrementInsufficientStock(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 2, true)

	err := svc.Decrement(db, p, nil, 5)
	require.Error(t, err)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, "Test Product", stockErr.ProductName)

	// Nothing changed
	var fresh product.Product
	require.NoError(t, db.First(&fresh, "id = ?", p.ID).Error)
	assert.Equal(t, 2, fresh.StockQuantity)
	assert.Equal(t, 0, fresh.SoldCount)
}

func TestDecrementExactlyDrainsStock(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 4, true)

	require.NoError(t, svc.Decrement(db, p, nil, 4))

	var fresh product.Product
	require.NoError(t, db.First(&fresh, "id = ?", p.ID).Error)
	assert.Equal(t, 0, fresh.StockQuantity)

	err := svc.Decrement(db, p, nil, 1)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 0, stockErr.Available)
}

func TestDecrementUntrackedPassesThrough(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 0, false)

	require.NoError(t, svc.Decrement(db, p, nil, 100))

	var fresh product.Product
	require.NoError(t, db.First(&fresh, "id = ?", p.ID).Error)
	assert.Equal(t, 0, fresh.StockQuantity)
	assert.Equal(t, 100, fresh.SoldCount)
}

func TestDecrementVariantStockTakesPrecedence(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 50, true)

	v := &product.ProductVariant{
		ProductID:     p.ID,
		Name:          "Large",
		TrackStock:    true,
		StockQuantity: 3,
		IsActive:      true,
	}
	require.NoError(t, db.Create(v).Error)

	require.NoError(t, svc.Decrement(db, p, v, 2))

	var freshVariant product.ProductVariant
	require.NoError(t, db.First(&freshVariant, "id = ?", v.ID).Error)
	assert.Equal(t, 1, freshVariant.StockQuantity)

	// Product row stock untouched, sale still counted there
	var freshProduct product.Product
	require.NoError(t, db.First(&freshProduct, "id = ?", p.ID).Error)
	assert.Equal(t, 50, freshProduct.StockQuantity)
	assert.Equal(t, 2, freshProduct.SoldCount)

	err := svc.Decrement(db, p, v, 2)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Available)
}

func TestDecrementRejectsNonPositiveQuantity(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 10, true)

	require.Error(t, svc.Decrement(db, p, nil, 0))
	require.Error(t, svc.Decrement(db, p, nil, -1))
}

func TestRestoreAddsStockBack(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 10, true)

	require.NoError(t, svc.Decrement(db, p, nil, 6))
	require.NoError(t, svc.Restore(db, p.ID, nil, 6))

	var fresh product.Product
	require.NoError(t, db.First(&fresh, "id = ?", p.ID).Error)
	assert.Equal(t, 10, fresh.StockQuantity)
	assert.Equal(t, 0, fresh.SoldCount)
}

func TestRestoreVariant(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 0, false)

	v := &product.ProductVariant{
		ProductID:     p.ID,
		Name:          "Small",
		TrackStock:    true,
		StockQuantity: 5,
		IsActive:      true,
	}
	require.NoError(t, db.Create(v).Error)

	require.NoError(t, svc.Decrement(db, p, v, 5))
	require.NoError(t, svc.Restore(db, p.ID, &v.ID, 5))

	var freshVariant product.ProductVariant
	require.NoError(t, db.First(&freshVariant, "id = ?", v.ID).Error)
	assert.Equal(t, 5, freshVariant.StockQuantity)
}

func TestSequentialCheckoutsCannotOversell(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	p := createProduct(t, db, 5, true)

	succeeded := 0
	for i := 0; i < 10; i++ {
		if err := svc.Decrement(db, p, nil, 1); err == nil {
			succeeded++
		}
	}

	assert.Equal(t, 5, succeeded)
	var fresh product.Product
	require.NoError(t, db.First(&fresh, "id = ?", p.ID).Error)
	assert.Equal(t, 0, fresh.StockQuantity)
	assert.Equal(t, 5, fresh.SoldCount)
}
