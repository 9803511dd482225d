package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stockcart-backend/database/dbtest"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) (*Ledger, context.Context) {
	db := dbtest.Open(t)
	return New(db, time.Second), context.Background()
}

func TestLockAndDecrease(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", 10)

	transitions, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(prod.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, k.Product().StockQuantity)

		after, err := k.Decrease(3)
		require.NoError(t, err)
		assert.Equal(t, 7, after.StockQuantity)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, 10, transitions[0].Before.StockQuantity)
	assert.Equal(t, 7, transitions[0].After.StockQuantity)
	assert.True(t, transitions[0].Changed())
	assert.Equal(t, 7, dbtest.Stock(t, l.db, prod.ID))
}

func TestDecreaseInsufficientStock(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", 10)

	_, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(prod.ID)
		if err != nil {
			return err
		}
		_, err = k.Decrease(15)
		return err
	})

	require.ErrorIs(t, err, ErrStockUnavailable)
	var stockErr *StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 10, stockErr.Available)
	assert.Equal(t, 15, stockErr.Requested)
	assert.False(t, stockErr.NotFound)
	assert.Equal(t, 10, dbtest.Stock(t, l.db, prod.ID))
}

func TestIncreaseHasNoUpperBound(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Kettle", "49.99", 10)

	after, err := l.Restock(ctx, prod.ID, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 1_000_010, after.StockQuantity)
}

func TestZeroAmountIsNoop(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Filters", "4.50", 0)

	transitions, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(prod.ID)
		if err != nil {
			return err
		}
		if _, err := k.Decrease(0); err != nil {
			return err
		}
		_, err = k.Increase(0)
		return err
	})
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.False(t, transitions[0].Changed())
}

func TestNegativeAmountRejected(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Filters", "4.50", 5)

	_, err := l.Restock(ctx, prod.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, 5, dbtest.Stock(t, l.db, prod.ID))
}

func TestLockMissingProduct(t *testing.T) {
	l, ctx := newTestLedger(t)
	missing := uuid.New()

	_, err := l.InTx(ctx, func(txn *Txn) error {
		_, err := txn.Lock(missing)
		return Unavailable(missing, 2, err)
	})

	require.ErrorIs(t, err, ErrStockUnavailable)
	require.ErrorIs(t, err, ErrProductNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestRetiredProductReleasesButDoesNotReserve(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", 4)
	require.NoError(t, l.db.Delete(&prod).Error)

	_, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(prod.ID)
		require.NoError(t, err)

		_, err = k.Decrease(1)
		assert.ErrorIs(t, err, ErrStockUnavailable)
		assert.ErrorIs(t, err, ErrProductNotFound)

		after, err := k.Increase(2)
		require.NoError(t, err)
		assert.Equal(t, 6, after.StockQuantity)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, dbtest.Stock(t, l.db, prod.ID))

	_, err = l.Product(ctx, prod.ID)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestFailedTransactionRollsBack(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Grinder", "129.00", 6)
	boom := errors.New("boom")

	_, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(prod.ID)
		require.NoError(t, err)
		_, err = k.Decrease(4)
		require.NoError(t, err)
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 6, dbtest.Stock(t, l.db, prod.ID))
}

func TestLockReleasedAfterTransaction(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Grinder", "129.00", 6)

	var held *Lock
	var txn *Txn
	_, err := l.InTx(ctx, func(tx *Txn) error {
		var err error
		txn = tx
		held, err = tx.Lock(prod.ID)
		return err
	})
	require.NoError(t, err)

	_, err = held.Decrease(1)
	assert.ErrorIs(t, err, ErrLockReleased)
	_, err = txn.Lock(prod.ID)
	assert.ErrorIs(t, err, ErrLockReleased)
	assert.Equal(t, 6, dbtest.Stock(t, l.db, prod.ID))
}

func TestLockIsReentrantWithinTransaction(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", 10)

	transitions, err := l.InTx(ctx, func(txn *Txn) error {
		first, err := txn.Lock(prod.ID)
		require.NoError(t, err)
		_, err = first.Decrease(2)
		require.NoError(t, err)

		second, err := txn.Lock(prod.ID)
		require.NoError(t, err)
		assert.Same(t, first, second)
		assert.Equal(t, 8, second.Product().StockQuantity)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, 10, transitions[0].Before.StockQuantity)
	assert.Equal(t, 8, transitions[0].After.StockQuantity)
}

func TestLowStock(t *testing.T) {
	l, ctx := newTestLedger(t)
	dbtest.SeedProduct(t, l.db, "Low", "1.00", 2)
	dbtest.SeedProduct(t, l.db, "Edge", "1.00", 5)
	dbtest.SeedProduct(t, l.db, "Plenty", "1.00", 50)

	products, err := l.LowStock(ctx, 5)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Low", products[0].Name)
	assert.Equal(t, "Edge", products[1].Name)
}

func TestConcurrentDecreasesNeverOversell(t *testing.T) {
	l, ctx := newTestLedger(t)
	const stock, qty, workers = 10, 3, 12
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", stock)

	var succeeded, rejected int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := l.InTx(gctx, func(txn *Txn) error {
				k, err := txn.Lock(prod.ID)
				if err != nil {
					return err
				}
				_, err = k.Decrease(qty)
				return err
			})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrStockUnavailable):
				atomic.AddInt32(&rejected, 1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(stock/qty), succeeded)
	assert.Equal(t, int32(workers-stock/qty), rejected)
	assert.Equal(t, stock-qty*int(succeeded), dbtest.Stock(t, l.db, prod.ID))
}

// failLockingReads makes every SELECT ... FOR UPDATE fail with err, the way
// Postgres reports a lock wait that ran past lock_timeout.
func failLockingReads(t *testing.T, db *gorm.DB, err error) {
	t.Helper()
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:fail_locking_reads", func(tx *gorm.DB) {
		if _, locking := tx.Statement.Clauses["FOR"]; locking {
			tx.AddError(err)
		}
	}))
}

func TestLockTimeoutIsTransient(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", 10)
	failLockingReads(t, l.db, &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})

	_, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(prod.ID)
		if err != nil {
			return Unavailable(prod.ID, 2, err)
		}
		_, err = k.Decrease(2)
		return err
	})

	require.ErrorIs(t, err, ErrLockTimeout)
	assert.NotErrorIs(t, err, ErrStockUnavailable)
	assert.NotErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, 10, dbtest.Stock(t, l.db, prod.ID))

	_, err = l.Restock(ctx, prod.ID, 5)
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, 10, dbtest.Stock(t, l.db, prod.ID))
}

func TestDeadlockIsTransient(t *testing.T) {
	l, ctx := newTestLedger(t)
	prod := dbtest.SeedProduct(t, l.db, "Beans", "29.99", 10)
	failLockingReads(t, l.db, &pgconn.PgError{Code: "40P01", Message: "deadlock detected"})

	_, err := l.InTx(ctx, func(txn *Txn) error {
		_, err := txn.Lock(prod.ID)
		return err
	})

	require.ErrorIs(t, err, ErrLockTimeout)
	assert.NotErrorIs(t, err, ErrStockUnavailable)
}
