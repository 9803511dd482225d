// Package watch raises low-stock alerts. It reads ledger state and writes
// suppression markers; it never changes stock.
package watch

import (
	"context"
	"time"

	"stockcart-backend/ledger"
	"stockcart-backend/models"
	"stockcart-backend/notify"
	"stockcart-backend/suppress"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductSource lists products at or below a stock threshold.
type ProductSource interface {
	LowStock(ctx context.Context, threshold int) ([]models.Product, error)
}

type Watch struct {
	products  ProductSource
	store     suppress.Store
	notifier  notify.Notifier
	threshold int
	window    time.Duration
	logger    *zap.Logger
}

func New(products ProductSource, store suppress.Store, notifier notify.Notifier, threshold int, window time.Duration, logger *zap.Logger) *Watch {
	return &Watch{
		products:  products,
		store:     store,
		notifier:  notifier,
		threshold: threshold,
		window:    window,
		logger:    logger,
	}
}

// Key is the suppression marker for a product.
func Key(productID uuid.UUID) string {
	return "low_stock_notified:" + productID.String()
}

// Observe sends a single-product alert for every transition that crosses from
// above the threshold to at or below it, unless the product is suppressed.
func (w *Watch) Observe(ctx context.Context, transitions []ledger.Transition) {
	for _, t := range transitions {
		if t.Before.StockQuantity <= w.threshold || t.After.StockQuantity > w.threshold {
			continue
		}
		if !w.claim(ctx, t.After.ID) {
			continue
		}
		w.notifier.Notify(notify.LowStock(notify.StockOf(t.After)))
	}
}

// Scan sends one batch alert for all products at or below the threshold that
// are not suppressed, and returns how many it included.
func (w *Watch) Scan(ctx context.Context) (int, error) {
	products, err := w.products.LowStock(ctx, w.threshold)
	if err != nil {
		return 0, err
	}

	var eligible []notify.ProductStock
	for _, p := range products {
		if w.claim(ctx, p.ID) {
			eligible = append(eligible, notify.StockOf(p))
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	w.notifier.Notify(notify.LowStockBatch(eligible))
	w.logger.Info("Low stock alert queued", zap.Int("products", len(eligible)), zap.Int("threshold", w.threshold))
	return len(eligible), nil
}

// claim reports whether an alert for the product may go out now, and marks it
// suppressed for the window. Store failures fail open.
func (w *Watch) claim(ctx context.Context, productID uuid.UUID) bool {
	key := Key(productID)

	suppressed, err := w.store.Has(ctx, key)
	if err != nil {
		w.logger.Warn("Suppression lookup failed", zap.String("key", key), zap.Error(err))
	}
	if suppressed {
		return false
	}

	if err := w.store.Put(ctx, key, w.window); err != nil {
		w.logger.Warn("Failed to set suppression marker", zap.String("key", key), zap.Error(err))
	}
	return true
}
