// Package reservation keeps cart items and the stock ledger in step. Every
// operation is one ledger transaction: the product row lock is held while the
// cart item changes, so a reserved unit is always either in stock or in a cart.
package reservation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"stockcart-backend/cart"
	"stockcart-backend/ledger"
	"stockcart-backend/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxQuantity bounds a single add or update request.
const MaxQuantity = 1000

var ErrInvalidQuantity = fmt.Errorf("quantity must be between 1 and %d", MaxQuantity)

// Observer is told about committed stock transitions.
type Observer interface {
	Observe(ctx context.Context, transitions []ledger.Transition)
}

type Service struct {
	ledger *ledger.Ledger
	carts  *cart.Store
	watch  Observer
	logger *zap.Logger
	tracer trace.Tracer
}

func NewService(l *ledger.Ledger, carts *cart.Store, watch Observer, logger *zap.Logger) *Service {
	return &Service{
		ledger: l,
		carts:  carts,
		watch:  watch,
		logger: logger,
		tracer: otel.Tracer("stockcart-backend/reservation"),
	}
}

// ExpiryResult summarizes one expiry sweep.
type ExpiryResult struct {
	CartsRemoved  int `json:"carts_removed"`
	UnitsRestored int `json:"units_restored"`
}

// AddItem reserves quantity units of a product for the user's cart, creating
// the cart on first use and merging into an existing item for the product.
func (s *Service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (models.CartItem, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.add_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", quantity),
	)

	if quantity < 1 || quantity > MaxQuantity {
		return models.CartItem{}, fail(span, ErrInvalidQuantity)
	}

	var item models.CartItem
	transitions, err := s.ledger.InTx(ctx, func(txn *ledger.Txn) error {
		carts := s.carts.WithTx(txn.DB())

		c, err := carts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		k, err := txn.Lock(productID)
		if err != nil {
			return ledger.Unavailable(productID, quantity, err)
		}
		if _, err := k.Decrease(quantity); err != nil {
			return err
		}
		item, err = carts.AddOrMerge(ctx, c.ID, productID, quantity)
		return err
	})
	if err != nil {
		return models.CartItem{}, fail(span, err)
	}

	s.observe(ctx, transitions)
	span.SetStatus(codes.Ok, "stock reserved")
	return item, nil
}

// UpdateItemQuantity sets an item to quantity, reserving or releasing the
// difference. Zero removes the item. It reports false when the item does not
// exist.
func (s *Service) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) (bool, error) {
	if quantity == 0 {
		return s.RemoveItem(ctx, itemID)
	}

	ctx, span := s.tracer.Start(ctx, "reservation.update_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart_item.id", itemID.String()),
		attribute.Int("quantity", quantity),
	)

	if quantity < 0 || quantity > MaxQuantity {
		return false, fail(span, ErrInvalidQuantity)
	}

	found := false
	transitions, err := s.ledger.InTx(ctx, func(txn *ledger.Txn) error {
		carts := s.carts.WithTx(txn.DB())

		item, k, err := lockItem(ctx, txn, carts, itemID)
		if err != nil || item == nil {
			return err
		}
		found = true

		delta := quantity - item.Quantity
		switch {
		case delta == 0:
			return nil
		case delta > 0:
			if _, err := k.Decrease(delta); err != nil {
				return err
			}
		default:
			if _, err := k.Increase(-delta); err != nil {
				return err
			}
		}
		return carts.SetQuantity(ctx, item.ID, quantity)
	})
	if err != nil {
		return false, fail(span, err)
	}

	s.observe(ctx, transitions)
	return found, nil
}

// RemoveItem releases an item's full quantity back to stock and deletes it.
// It reports false when the item does not exist.
func (s *Service) RemoveItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.remove_item")
	defer span.End()
	span.SetAttributes(attribute.String("cart_item.id", itemID.String()))

	found := false
	transitions, err := s.ledger.InTx(ctx, func(txn *ledger.Txn) error {
		carts := s.carts.WithTx(txn.DB())

		item, k, err := lockItem(ctx, txn, carts, itemID)
		if err != nil || item == nil {
			return err
		}
		found = true

		if _, err := k.Increase(item.Quantity); err != nil {
			return err
		}
		_, err = carts.Remove(ctx, item.ID)
		return err
	})
	if err != nil {
		return false, fail(span, err)
	}

	s.observe(ctx, transitions)
	return found, nil
}

// ClearCart releases every item in the user's cart and deletes the cart. It
// returns the number of units released.
func (s *Service) ClearCart(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.clear_cart")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.String()))

	existing, err := s.carts.FindByUser(ctx, userID)
	if err != nil {
		return 0, fail(span, err)
	}
	if existing == nil {
		return 0, nil
	}

	units := 0
	transitions, err := s.ledger.InTx(ctx, func(txn *ledger.Txn) error {
		carts := s.carts.WithTx(txn.DB())

		locked, err := carts.LockCart(ctx, existing.ID)
		if err != nil || locked == nil {
			return err
		}
		items, err := lockCartItems(ctx, txn, carts, locked.ID)
		if err != nil {
			return err
		}
		units, err = releaseCart(ctx, txn, carts, locked.ID, items)
		return err
	})
	if err != nil {
		return 0, fail(span, err)
	}

	s.observe(ctx, transitions)
	span.SetAttributes(attribute.Int("units_released", units))
	return units, nil
}

// ExpireCarts deletes carts older than maxAge whose items were not touched
// within maxAge, restoring their reserved units. Each cart is handled in its
// own transaction; a failed cart is logged and skipped and its error is
// included in the returned error.
func (s *Service) ExpireCarts(ctx context.Context, maxAge time.Duration) (ExpiryResult, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.expire_carts")
	defer span.End()

	var result ExpiryResult
	cutoff := time.Now().UTC().Add(-maxAge)

	candidates, err := s.carts.Expired(ctx, cutoff)
	if err != nil {
		return result, fail(span, err)
	}

	var errs []error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		removed, units, err := s.expireCart(ctx, candidate.ID, cutoff)
		if err != nil {
			s.logger.Warn("Failed to expire cart", zap.String("cart_id", candidate.ID.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("cart %s: %w", candidate.ID, err))
			continue
		}
		if removed {
			result.CartsRemoved++
			result.UnitsRestored += units
		}
	}

	span.SetAttributes(
		attribute.Int("carts_removed", result.CartsRemoved),
		attribute.Int("units_restored", result.UnitsRestored),
	)
	s.logger.Info("Expired carts",
		zap.Int("candidates", len(candidates)),
		zap.Int("carts_removed", result.CartsRemoved),
		zap.Int("units_restored", result.UnitsRestored),
		zap.Duration("max_age", maxAge),
	)

	if err := errors.Join(errs...); err != nil {
		return result, fail(span, err)
	}
	return result, nil
}

func (s *Service) expireCart(ctx context.Context, cartID uuid.UUID, cutoff time.Time) (bool, int, error) {
	removed := false
	units := 0
	transitions, err := s.ledger.InTx(ctx, func(txn *ledger.Txn) error {
		carts := s.carts.WithTx(txn.DB())

		locked, err := carts.LockCart(ctx, cartID)
		if err != nil || locked == nil {
			return err
		}
		items, err := lockCartItems(ctx, txn, carts, locked.ID)
		if err != nil {
			return err
		}
		// The owner may have touched an item between selection and locking.
		stale, err := carts.IsStale(ctx, *locked, cutoff)
		if err != nil || !stale {
			return err
		}

		units, err = releaseCart(ctx, txn, carts, locked.ID, items)
		removed = err == nil
		return err
	})
	if err != nil {
		return false, 0, err
	}

	s.observe(ctx, transitions)
	return removed, units, nil
}

func (s *Service) observe(ctx context.Context, transitions []ledger.Transition) {
	if s.watch == nil || len(transitions) == 0 {
		return
	}
	s.watch.Observe(ctx, transitions)
}

// lockItem locks the product behind an item and reads the item again under
// that lock. Every change to an item happens under its product's lock, so the
// second read is authoritative. A nil item means it does not exist.
func lockItem(ctx context.Context, txn *ledger.Txn, carts *cart.Store, itemID uuid.UUID) (*models.CartItem, *ledger.Lock, error) {
	item, err := carts.GetItem(ctx, itemID)
	if err != nil || item == nil {
		return nil, nil, err
	}
	k, err := txn.Lock(item.ProductID)
	if err != nil {
		return nil, nil, err
	}
	item, err = carts.GetItem(ctx, itemID)
	if err != nil || item == nil {
		return nil, nil, err
	}
	return item, k, nil
}

// lockCartItems locks the products of a locked cart in id order and returns
// the items as read under those locks. With the cart row held no item can be
// added, so the product set can only shrink after the first read.
func lockCartItems(ctx context.Context, txn *ledger.Txn, carts *cart.Store, cartID uuid.UUID) ([]models.CartItem, error) {
	items, err := carts.Items(ctx, cartID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	for _, id := range ids {
		if _, err := txn.Lock(id); err != nil {
			return nil, err
		}
	}

	return carts.Items(ctx, cartID)
}

// releaseCart restores every item's quantity, then deletes the items and the cart.
func releaseCart(ctx context.Context, txn *ledger.Txn, carts *cart.Store, cartID uuid.UUID, items []models.CartItem) (int, error) {
	units := 0
	for _, item := range items {
		k, err := txn.Lock(item.ProductID)
		if err != nil {
			return 0, err
		}
		if _, err := k.Increase(item.Quantity); err != nil {
			return 0, err
		}
		units += item.Quantity
	}
	if err := carts.DeleteCart(ctx, cartID); err != nil {
		return 0, err
	}
	return units, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
