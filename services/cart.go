package services

import (
	"context"
	"errors"
	"fmt"

	"ecommerce-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartStore validates against the live catalog but never moves stock;
// stock is reserved only when an order is placed.
type CartStore struct {
	db *gorm.DB
}

func NewCartStore(db *gorm.DB) *CartStore {
	return &CartStore{db: db}
}

func (s *CartStore) Get(ctx context.Context, userID string) ([]models.CartItem, error) {
	var cart models.Cart
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&cart, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []models.CartItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.Items == nil {
		return []models.CartItem{}, nil
	}
	return cart.Items, nil
}

// Details joins cart lines with current product names and prices.
func (s *CartStore) Details(ctx context.Context, userID string) ([]models.CartItemDetail, error) {
	items, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []models.CartItemDetail{}, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	var products []models.Product
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to load cart products: %w", err)
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	details := make([]models.CartItemDetail, 0, len(items))
	for _, item := range items {
		p := byID[item.ProductID]
		unit := p.EffectivePrice()
		details = append(details, models.CartItemDetail{
			ProductID: item.ProductID,
			Name:      p.Name,
			Image:     p.Image,
			UnitPrice: unit,
			Quantity:  item.Quantity,
			Subtotal:  unit.Mul(decimal.NewFromInt(int64(item.Quantity))),
		})
	}
	return details, nil
}

// Add merges qty into the user's cart line for productID, creating it if needed.
func (s *CartStore) Add(ctx context.Context, userID, productID string, qty int) (items []models.CartItem, err error) {
	ctx, span := startSpan(ctx, "CartAdd", attribute.String("user_id", userID), attribute.String("product_id", productID))
	defer func() { endSpan(span, err) }()

	if productID == "" || qty <= 0 {
		return nil, fmt.Errorf("%w: product id and a positive quantity are required", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		product, err := findProduct(tx, productID)
		if err != nil {
			return err
		}
		if !product.IsListed() {
			return fmt.Errorf("%w: product %s", ErrProductUnlisted, productID)
		}

		cart, err := lockCart(tx, userID)
		if err != nil {
			return err
		}

		var line models.CartItem
		err = tx.Where("cart_id = ? AND product_id = ?", cart.ID, productID).First(&line).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if product.Quantity < qty {
				return &StockError{ProductID: productID, Requested: qty, Available: product.Quantity}
			}
			line = models.CartItem{CartID: cart.ID, ProductID: productID, Quantity: qty}
			if err := tx.Create(&line).Error; err != nil {
				return fmt.Errorf("failed to add cart item: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to load cart item: %w", err)
		default:
			total := line.Quantity + qty
			if product.Quantity < total {
				return &StockError{ProductID: productID, Requested: total, Available: product.Quantity}
			}
			if err := tx.Model(&line).Update("quantity", total).Error; err != nil {
				return fmt.Errorf("failed to update cart item: %w", err)
			}
		}
		return touchCart(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// Remove takes qty units off a cart line and drops the line when it reaches zero.
func (s *CartStore) Remove(ctx context.Context, userID, productID string, qty int) (items []models.CartItem, err error) {
	ctx, span := startSpan(ctx, "CartRemove", attribute.String("user_id", userID), attribute.String("product_id", productID))
	defer func() { endSpan(span, err) }()

	if productID == "" || qty <= 0 {
		return nil, fmt.Errorf("%w: product id and a positive quantity are required", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := lockCart(tx, userID)
		if err != nil {
			return err
		}

		var line models.CartItem
		err = tx.Where("cart_id = ? AND product_id = ?", cart.ID, productID).First(&line).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: product %s", ErrNotInCart, productID)
		}
		if err != nil {
			return fmt.Errorf("failed to load cart item: %w", err)
		}

		if line.Quantity <= qty {
			err = tx.Delete(&line).Error
		} else {
			err = tx.Model(&line).Update("quantity", line.Quantity-qty).Error
		}
		if err != nil {
			return fmt.Errorf("failed to update cart item: %w", err)
		}
		return touchCart(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *CartStore) Clear(ctx context.Context, userID string) (err error) {
	ctx, span := startSpan(ctx, "CartClear", attribute.String("user_id", userID))
	defer func() { endSpan(span, err) }()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return clearCart(tx, userID)
	})
}

// lockCart loads the user's cart row FOR UPDATE, creating it on first use.
// Holding the row lock serializes concurrent edits of the same cart. When a
// concurrent request creates the cart first, the insert loses on the unique
// user_id index and the winner's row is locked instead.
func lockCart(tx *gorm.DB, userID string) (*models.Cart, error) {
	cart, err := selectCartForUpdate(tx, userID)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return cart, err
	}

	cart = &models.Cart{ID: uuid.NewString(), UserID: userID}
	err = tx.Create(cart).Error
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return selectCartForUpdate(tx, userID)
}

func selectCartForUpdate(tx *gorm.DB, userID string) (*models.Cart, error) {
	var cart models.Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cart, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}
	return &cart, nil
}

func touchCart(tx *gorm.DB, cart *models.Cart) error {
	if err := tx.Model(cart).Update("updated_at", tx.NowFunc()).Error; err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	return nil
}

func clearCart(tx *gorm.DB, userID string) error {
	var cart models.Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cart, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to lock cart: %w", err)
	}
	if err := tx.Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return touchCart(tx, &cart)
}

func createCart(tx *gorm.DB, userID string) error {
	cart := models.Cart{ID: uuid.NewString(), UserID: userID}
	if err := tx.Create(&cart).Error; err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}
	return nil
}
