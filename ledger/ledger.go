// Package ledger owns product stock quantities. Every mutation happens inside
// a transaction and only through a Lock obtained from that transaction, which
// holds the product row lock until the transaction commits or rolls back.
package ledger

import (
	"context"
	"errors"
	"time"

	"stockcart-backend/database"
	"stockcart-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Ledger struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func New(db *gorm.DB, lockTimeout time.Duration) *Ledger {
	return &Ledger{db: db, lockTimeout: lockTimeout}
}

// Transition is the stock of a product when it was locked and after the
// transaction's last mutation of it.
type Transition struct {
	Before models.Product
	After  models.Product
}

func (t Transition) Changed() bool {
	return t.Before.StockQuantity != t.After.StockQuantity
}

// Txn is one database transaction. Locks taken through it are released when
// it ends; using them afterwards fails with ErrLockReleased.
type Txn struct {
	tx    *gorm.DB
	done  bool
	locks map[uuid.UUID]*Lock
	order []uuid.UUID
}

// InTx runs fn in a single transaction. Any error returned by fn rolls back
// every mutation made through the Txn. On commit it returns the stock
// transitions of all products locked in the transaction.
func (l *Ledger) InTx(ctx context.Context, fn func(*Txn) error) ([]Transition, error) {
	txn := &Txn{locks: make(map[uuid.UUID]*Lock)}
	defer func() { txn.done = true }()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := database.SetLockTimeout(tx, l.lockTimeout); err != nil {
			return err
		}
		txn.tx = tx
		return fn(txn)
	})
	if err != nil {
		return nil, classify(err)
	}

	return txn.Transitions(), nil
}

// Transitions lists the stock of every product locked so far, in lock order.
func (t *Txn) Transitions() []Transition {
	transitions := make([]Transition, 0, len(t.order))
	for _, id := range t.order {
		k := t.locks[id]
		transitions = append(transitions, Transition{Before: k.before, After: k.current})
	}
	return transitions
}

// DB is the transaction handle for collaborators that mutate other rows in the
// same unit of work.
func (t *Txn) DB() *gorm.DB {
	return t.tx
}

// Lock acquires the exclusive row lock on a product and reads it. It blocks
// while another transaction holds the lock. Locking the same product twice in
// one Txn returns the same handle. Retired (soft-deleted) products can be
// locked so reserved units can still be released.
func (t *Txn) Lock(productID uuid.UUID) (*Lock, error) {
	if t.done {
		return nil, ErrLockReleased
	}
	if k, ok := t.locks[productID]; ok {
		return k, nil
	}

	var product models.Product
	err := t.tx.Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", productID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, classify(err)
	}

	k := &Lock{txn: t, before: product, current: product}
	t.locks[productID] = k
	t.order = append(t.order, productID)
	return k, nil
}

// Lock is a held product row lock, valid until its transaction ends.
type Lock struct {
	txn     *Txn
	before  models.Product
	current models.Product
}

// Product returns the row as of the last read or mutation under this lock.
func (k *Lock) Product() models.Product {
	return k.current
}

// Decrease subtracts amount from stock. It fails with a *StockError when the
// current stock is lower than amount or the product is retired, and leaves the
// row unchanged.
func (k *Lock) Decrease(amount int) (models.Product, error) {
	if err := k.usable(amount); err != nil {
		return models.Product{}, err
	}
	if k.current.DeletedAt.Valid {
		return k.current, &StockError{ProductID: k.current.ID, Requested: amount, NotFound: true}
	}
	if amount == 0 {
		return k.current, nil
	}
	if k.current.StockQuantity < amount {
		return k.current, &StockError{ProductID: k.current.ID, Available: k.current.StockQuantity, Requested: amount}
	}

	res := k.txn.tx.Unscoped().Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", k.current.ID, amount).
		Update("stock_quantity", gorm.Expr("stock_quantity - ?", amount))
	if res.Error != nil {
		return k.current, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return k.current, &StockError{ProductID: k.current.ID, Available: k.current.StockQuantity, Requested: amount}
	}
	return k.refresh()
}

// Increase adds amount to stock. Releasing stock has no upper bound.
func (k *Lock) Increase(amount int) (models.Product, error) {
	if err := k.usable(amount); err != nil {
		return models.Product{}, err
	}
	if amount == 0 {
		return k.current, nil
	}

	res := k.txn.tx.Unscoped().Model(&models.Product{}).
		Where("id = ?", k.current.ID).
		Update("stock_quantity", gorm.Expr("stock_quantity + ?", amount))
	if res.Error != nil {
		return k.current, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return k.current, ErrProductNotFound
	}
	return k.refresh()
}

func (k *Lock) usable(amount int) error {
	if k.txn.done {
		return ErrLockReleased
	}
	if amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (k *Lock) refresh() (models.Product, error) {
	var product models.Product
	if err := k.txn.tx.Unscoped().Where("id = ?", k.current.ID).First(&product).Error; err != nil {
		return k.current, classify(err)
	}
	k.current = product
	return product, nil
}

// Restock adds amount to a product's stock in its own transaction.
func (l *Ledger) Restock(ctx context.Context, productID uuid.UUID, amount int) (models.Product, error) {
	var product models.Product
	_, err := l.InTx(ctx, func(txn *Txn) error {
		k, err := txn.Lock(productID)
		if err != nil {
			return err
		}
		product, err = k.Increase(amount)
		return err
	})
	return product, err
}

// Product reads a product without locking it. It is for display only and must
// not feed a stock mutation.
func (l *Ledger) Product(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (l *Ledger) Products(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := l.db.WithContext(ctx).Order("name").Find(&products).Error
	return products, err
}

// LowStock lists products whose stock is at or below threshold.
func (l *Ledger) LowStock(ctx context.Context, threshold int) ([]models.Product, error) {
	var products []models.Product
	err := l.db.WithContext(ctx).
		Where("stock_quantity <= ?", threshold).
		Order("stock_quantity, name").
		Find(&products).Error
	return products, err
}
