package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockcart-backend/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes that mean "try again", not "cannot fulfil".
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// Config returns the gorm settings shared by the Postgres connection and the
// SQLite test databases.
func Config(log *zap.Logger) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         NewGormLogger(log),
	}
}

func Connect(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), Config(log))
	if err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	// Ensure PostgreSQL has gen_random_uuid() available (pgcrypto extension).
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto;`).Error; err != nil {
		return fmt.Errorf("failed to enable pgcrypto extension: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
	); err != nil {
		return err
	}

	return nil
}

// SeedCatalog inserts the given products when the catalog is empty. It is meant
// for local development and demo environments.
func SeedCatalog(db *gorm.DB, log *zap.Logger) error {
	var count int64
	if err := db.Model(&models.Product{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	products := []models.Product{
		{Name: "Espresso Beans 1kg", Price: decimal.RequireFromString("29.99"), StockQuantity: 10},
		{Name: "Pour-over Kettle", Price: decimal.RequireFromString("49.99"), StockQuantity: 25},
		{Name: "Paper Filters (100)", Price: decimal.RequireFromString("4.50"), StockQuantity: 200},
		{Name: "Burr Grinder", Price: decimal.RequireFromString("129.00"), StockQuantity: 6},
	}
	if err := db.Create(&products).Error; err != nil {
		return err
	}

	log.Info("Seeded demo catalog", zap.Int("products", len(products)))
	return nil
}

// IsTransient reports whether err is store-level contention (lock wait timeout,
// deadlock, serialization failure, busy database, expired deadline) that a
// caller should retry rather than surface as a business failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// SetLockTimeout bounds how long statements in tx wait for row locks. Only
// Postgres supports it; other dialects are left untouched.
func SetLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if timeout <= 0 || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error
}
