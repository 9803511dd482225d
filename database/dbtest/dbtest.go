// Package dbtest opens isolated in-memory SQLite databases with the schema the
// Postgres migrations produce, for use in tests across packages.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"stockcart-backend/database"
	"stockcart-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// The model tags use PostgreSQL-specific defaults like gen_random_uuid(), so
// the tables are created from SQLite-compatible DDL instead of AutoMigrate.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS "products" (
		"id" TEXT PRIMARY KEY,
		"name" TEXT NOT NULL,
		"price" TEXT NOT NULL,
		"stock_quantity" INTEGER NOT NULL DEFAULT 0 CHECK ("stock_quantity" >= 0),
		"created_at" DATETIME,
		"updated_at" DATETIME,
		"deleted_at" DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_deleted_at ON "products"("deleted_at")`,
	`CREATE INDEX IF NOT EXISTS idx_products_stock_quantity ON "products"("stock_quantity")`,

	`CREATE TABLE IF NOT EXISTS "carts" (
		"id" TEXT PRIMARY KEY,
		"user_id" TEXT NOT NULL,
		"created_at" DATETIME,
		"updated_at" DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_carts_user_id ON "carts"("user_id")`,

	`CREATE TABLE IF NOT EXISTS "cart_items" (
		"id" TEXT PRIMARY KEY,
		"cart_id" TEXT NOT NULL,
		"product_id" TEXT NOT NULL,
		"quantity" INTEGER NOT NULL CHECK ("quantity" > 0),
		"created_at" DATETIME,
		"updated_at" DATETIME,
		CONSTRAINT fk_carts_items FOREIGN KEY ("cart_id") REFERENCES "carts"("id") ON DELETE CASCADE,
		CONSTRAINT fk_cart_items_product FOREIGN KEY ("product_id") REFERENCES "products"("id")
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_product ON "cart_items"("cart_id","product_id")`,
	`CREATE INDEX IF NOT EXISTS idx_cart_items_updated_at ON "cart_items"("updated_at")`,
}

// Open returns a fresh database private to t. It is limited to one open
// connection, so concurrent transactions are serialized the way row locks
// serialize them on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), database.Config(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("failed to create test schema: %v", err)
		}
	}
	return db
}

// SeedProduct creates a product with the given price and stock.
func SeedProduct(t testing.TB, db *gorm.DB, name, price string, stock int) models.Product {
	t.Helper()
	p := models.Product{
		ID:            uuid.New(),
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	return p
}

// SeedCart creates a cart for userID with the given creation time.
func SeedCart(t testing.TB, db *gorm.DB, userID uuid.UUID, createdAt time.Time) models.Cart {
	t.Helper()
	c := models.Cart{ID: uuid.New(), UserID: userID, CreatedAt: createdAt, UpdatedAt: createdAt}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("failed to seed cart: %v", err)
	}
	return c
}

// SeedItem inserts a cart item directly, bypassing the ledger. Callers that
// need the reservation identity to hold must lower the product stock themselves.
func SeedItem(t testing.TB, db *gorm.DB, cartID, productID uuid.UUID, qty int, at time.Time) models.CartItem {
	t.Helper()
	it := models.CartItem{ID: uuid.New(), CartID: cartID, ProductID: productID, Quantity: qty, CreatedAt: at, UpdatedAt: at}
	if err := db.Create(&it).Error; err != nil {
		t.Fatalf("failed to seed cart item: %v", err)
	}
	return it
}

// Stock reads the current ledger quantity of a product.
func Stock(t testing.TB, db *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var p models.Product
	if err := db.Unscoped().First(&p, "id = ?", productID).Error; err != nil {
		t.Fatalf("failed to read product: %v", err)
	}
	return p.StockQuantity
}
