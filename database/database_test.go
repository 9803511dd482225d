package database_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"stockcart-backend/database"
	"stockcart-backend/database/dbtest"
	"stockcart-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"sqlite busy", errors.New("database is locked"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := database.IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSetLockTimeoutSkipsSQLite(t *testing.T) {
	db := dbtest.Open(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		return database.SetLockTimeout(tx, time.Second)
	})
	if err != nil {
		t.Fatalf("expected no error on sqlite, got %v", err)
	}
}

func TestSeedCatalog(t *testing.T) {
	db := dbtest.Open(t)
	logger := zaptest.NewLogger(t)

	if err := database.SeedCatalog(db, logger); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var count int64
	db.Model(&models.Product{}).Count(&count)
	if count != 4 {
		t.Fatalf("expected 4 products, got %d", count)
	}

	// A second run leaves an existing catalog alone.
	if err := database.SeedCatalog(db, logger); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	db.Model(&models.Product{}).Count(&count)
	if count != 4 {
		t.Errorf("expected catalog unchanged, got %d products", count)
	}
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db := dbtest.Open(t).Session(&gorm.Session{Logger: database.NewGormLogger(zap.New(core))})

	var product models.Product
	err := db.Where("id = ?", uuid.New()).First(&product).Error
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
	if logs.Len() != 0 {
		t.Errorf("expected a lookup miss to log nothing, got %v", logs.All())
	}

	// Ordinary statements stay below warn level.
	dbtest.SeedProduct(t, db, "Beans", "29.99", 3)
	if logs.Len() != 0 {
		t.Errorf("expected no log entries, got %v", logs.All())
	}
}

func TestGormLoggerReportsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db := dbtest.Open(t).Session(&gorm.Session{Logger: database.NewGormLogger(zap.New(core))})

	if err := db.Exec("SELECT * FROM no_such_table").Error; err == nil {
		t.Fatal("expected an error for a missing table")
	}
	entries := logs.FilterMessage("Query failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure entry, got %v", logs.All())
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("expected error level, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["sql"] != "SELECT * FROM no_such_table" {
		t.Errorf("expected the statement in the entry, got %v", entries[0].ContextMap())
	}
}

func TestGormLoggerDowngradesContention(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := database.NewGormLogger(zap.New(core))

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 },
		&pgconn.PgError{Code: "55P03"})

	entries := logs.FilterMessage("Query hit store contention").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Errorf("expected one warn entry, got %v", logs.All())
	}
}
