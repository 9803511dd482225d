package ledger

import (
	"errors"
	"fmt"

	"stockcart-backend/database"

	"github.com/google/uuid"
)

var (
	// ErrStockUnavailable is the single kind callers branch on when a
	// reservation cannot be fulfilled, whether the product is missing or short.
	ErrStockUnavailable = errors.New("stock unavailable")
	ErrProductNotFound  = errors.New("product not found")
	// ErrLockTimeout is transient contention on a product row; retry with backoff.
	ErrLockTimeout   = errors.New("stock is busy, retry later")
	ErrLockReleased  = errors.New("stock lock used after its transaction ended")
	ErrInvalidAmount = errors.New("stock amount must not be negative")
)

// StockError describes a rejected reservation. It matches ErrStockUnavailable,
// and ErrProductNotFound as well when the product does not exist.
type StockError struct {
	ProductID uuid.UUID
	Available int
	Requested int
	NotFound  bool
}

func (e *StockError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("stock unavailable: product %s not found", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

func (e *StockError) Is(target error) bool {
	return target == ErrStockUnavailable || (e.NotFound && target == ErrProductNotFound)
}

// Unavailable converts a missing product into a stock rejection for callers
// that need the product to proceed.
func Unavailable(productID uuid.UUID, requested int, err error) error {
	if errors.Is(err, ErrProductNotFound) {
		return &StockError{ProductID: productID, Requested: requested, NotFound: true}
	}
	return err
}

func classify(err error) error {
	if err == nil || errors.Is(err, ErrLockTimeout) {
		return err
	}
	if database.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}
