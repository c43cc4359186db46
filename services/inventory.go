package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"ecommerce-backend/models"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// InventoryLedger owns every write to products.quantity.
type InventoryLedger struct {
	db *gorm.DB
}

func NewInventoryLedger(db *gorm.DB) *InventoryLedger {
	return &InventoryLedger{db: db}
}

// ReserveStock decrements stock by qty only if at least qty units remain.
func (l *InventoryLedger) ReserveStock(ctx context.Context, productID string, qty int) (err error) {
	ctx, span := startSpan(ctx, "ReserveStock", attribute.String("product_id", productID), attribute.Int("quantity", qty))
	defer func() { endSpan(span, err) }()

	return reserveStock(l.db.WithContext(ctx), productID, qty)
}

// ReleaseStock returns qty units to stock. There is no upper bound.
func (l *InventoryLedger) ReleaseStock(ctx context.Context, productID string, qty int) (err error) {
	ctx, span := startSpan(ctx, "ReleaseStock", attribute.String("product_id", productID), attribute.Int("quantity", qty))
	defer func() { endSpan(span, err) }()

	return releaseStock(l.db.WithContext(ctx), productID, qty)
}

func (l *InventoryLedger) Quantity(ctx context.Context, productID string) (int, error) {
	product, err := findProduct(l.db.WithContext(ctx), productID)
	if err != nil {
		return 0, err
	}
	return product.Quantity, nil
}

// lockOrder returns a copy of items sorted by product id. Every transaction
// that touches several product rows walks them in this order, so two orders
// sharing products always take the row locks in the same sequence.
func lockOrder(items []models.OrderItem) []models.OrderItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b models.OrderItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}

// reserveStock is a compare-and-swap on the product row, so concurrent
// reservations of the last unit cannot both succeed.
func reserveStock(db *gorm.DB, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	result := db.Model(&models.Product{}).
		Where("id = ? AND quantity >= ?", productID, qty).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", qty))
	if result.Error != nil {
		return fmt.Errorf("failed to reserve stock: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	product, err := findProduct(db, productID)
	if err != nil {
		return err
	}
	return &StockError{ProductID: productID, Requested: qty, Available: product.Quantity}
}

func releaseStock(db *gorm.DB, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	result := db.Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", qty))
	if result.Error != nil {
		return fmt.Errorf("failed to release stock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return nil
}

func findProduct(db *gorm.DB, productID string) (*models.Product, error) {
	var product models.Product
	if err := db.First(&product, "id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
		}
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &product, nil
}
