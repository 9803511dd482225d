// Package cart stores carts and cart items. Its mutations are plain data
// changes; keeping them consistent with the stock ledger is the job of the
// reservation package, which runs them inside ledger transactions.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockcart-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidQuantity = errors.New("cart item quantity must be positive")
	ErrItemNotFound    = errors.New("cart item not found")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store whose statements run in tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// GetOrCreate returns the user's cart, creating it when absent, and holds the
// cart row lock for the rest of the enclosing transaction. Concurrent first
// calls for one user converge on one row through the unique owner index.
func (s *Store) GetOrCreate(ctx context.Context, userID uuid.UUID) (models.Cart, error) {
	db := s.db.WithContext(ctx)

	// A cart can be deleted by the expiry sweep between the insert and the
	// locking read; one retry recreates it.
	for attempt := 0; attempt < 2; attempt++ {
		fresh := models.Cart{UserID: userID}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&fresh).Error; err != nil {
			return models.Cart{}, err
		}

		var cart models.Cart
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&cart).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return models.Cart{}, err
		}
		return cart, nil
	}
	return models.Cart{}, fmt.Errorf("cart for user %s vanished during creation", userID)
}

// FindByUser returns nil when the user has no cart.
func (s *Store) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// LockCart takes the cart row lock; nil means the cart no longer exists.
func (s *Store) LockCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartID).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindItem returns nil when the cart holds no item for the product.
func (s *Store) FindItem(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// withRetired loads an item's product even after it was soft-deleted, so
// reserved units of a retired product keep their price.
func withRetired(db *gorm.DB) *gorm.DB {
	return db.Unscoped()
}

// GetItem loads an item with its product; nil when absent.
func (s *Store) GetItem(ctx context.Context, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.WithContext(ctx).Preload("Product", withRetired).Where("id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindItemForUser returns the item only when it sits in userID's cart.
func (s *Store) FindItemForUser(ctx context.Context, itemID, userID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.WithContext(ctx).
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("cart_items.id = ? AND carts.user_id = ?", itemID, userID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// AddOrMerge adds quantity to the cart's item for the product, creating the
// item when the cart has none.
func (s *Store) AddOrMerge(ctx context.Context, cartID, productID uuid.UUID, quantity int) (models.CartItem, error) {
	if quantity <= 0 {
		return models.CartItem{}, ErrInvalidQuantity
	}

	existing, err := s.FindItem(ctx, cartID, productID)
	if err != nil {
		return models.CartItem{}, err
	}
	if existing != nil {
		if err := s.SetQuantity(ctx, existing.ID, existing.Quantity+quantity); err != nil {
			return models.CartItem{}, err
		}
		return s.reload(ctx, existing.ID)
	}

	item := models.CartItem{
		ID:        uuid.New(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return models.CartItem{}, err
	}
	return s.reload(ctx, item.ID)
}

func (s *Store) SetQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	res := s.db.WithContext(ctx).Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Remove deletes an item and reports whether it existed.
func (s *Store) Remove(ctx context.Context, itemID uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{})
	return res.RowsAffected > 0, res.Error
}

// Items lists a cart's items with their products, oldest first.
func (s *Store) Items(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.WithContext(ctx).
		Preload("Product", withRetired).
		Where("cart_id = ?", cartID).
		Order("created_at, id").
		Find(&items).Error
	return items, err
}

// TotalValue sums quantity x price over the cart; zero for an absent or empty cart.
func (s *Store) TotalValue(ctx context.Context, cartID uuid.UUID) (decimal.Decimal, error) {
	items, err := s.Items(ctx, cartID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total, nil
}

// TotalQuantity sums item quantities; zero for an absent or empty cart.
func (s *Store) TotalQuantity(ctx context.Context, cartID uuid.UUID) (int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.CartItem{}).
		Where("cart_id = ?", cartID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	return int(total), err
}

// Expired lists carts created before cutoff none of whose items were touched
// after cutoff.
func (s *Store) Expired(ctx context.Context, cutoff time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	err := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("NOT EXISTS (SELECT 1 FROM cart_items WHERE cart_items.cart_id = carts.id AND cart_items.updated_at > ?)", cutoff).
		Order("created_at").
		Find(&carts).Error
	return carts, err
}

// IsStale reports whether the cart still qualifies for expiry at cutoff.
func (s *Store) IsStale(ctx context.Context, cart models.Cart, cutoff time.Time) (bool, error) {
	if !cart.CreatedAt.Before(cutoff) {
		return false, nil
	}
	var touched int64
	err := s.db.WithContext(ctx).Model(&models.CartItem{}).
		Where("cart_id = ? AND updated_at > ?", cart.ID, cutoff).
		Count(&touched).Error
	return touched == 0, err
}

// DeleteCart removes a cart and all of its items.
func (s *Store) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", cartID).Delete(&models.Cart{}).Error
}

// ProductTally is one product's share of the cart items created in a window.
type ProductTally struct {
	ProductID   uuid.UUID
	ProductName string
	Price       decimal.Decimal
	Quantity    int
}

// ItemsAddedBetween groups the cart items created in [start, end) by product.
func (s *Store) ItemsAddedBetween(ctx context.Context, start, end time.Time) ([]ProductTally, error) {
	var rows []struct {
		ProductID   uuid.UUID
		ProductName string
		Price       decimal.Decimal
		Quantity    int64
	}
	err := s.db.WithContext(ctx).Model(&models.CartItem{}).
		Select("cart_items.product_id AS product_id, products.name AS product_name, products.price AS price, SUM(cart_items.quantity) AS quantity").
		Joins("JOIN products ON products.id = cart_items.product_id").
		Where("cart_items.created_at >= ? AND cart_items.created_at < ?", start, end).
		Group("cart_items.product_id, products.name, products.price").
		Order("products.name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	tallies := make([]ProductTally, 0, len(rows))
	for _, r := range rows {
		tallies = append(tallies, ProductTally{
			ProductID:   r.ProductID,
			ProductName: r.ProductName,
			Price:       r.Price,
			Quantity:    int(r.Quantity),
		})
	}
	return tallies, nil
}

func (s *Store) reload(ctx context.Context, itemID uuid.UUID) (models.CartItem, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return models.CartItem{}, err
	}
	if item == nil {
		return models.CartItem{}, ErrItemNotFound
	}
	return *item, nil
}
