package services

import (
	"context"
	"fmt"
	"strings"

	"ecommerce-backend/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type NewProduct struct {
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Discount    int              `json:"discount"`
	Cost        decimal.Decimal  `json:"cost"`
	Category    string           `json:"category"`
	Image       string           `json:"image"`
	Quantity    int              `json:"quantity"`
	Distributor string           `json:"distributor"`
}

// CatalogService keeps the product fields managers edit. Stock changes go
// through the InventoryLedger.
type CatalogService struct {
	db     *gorm.DB
	ledger *InventoryLedger
}

func NewCatalogService(db *gorm.DB, ledger *InventoryLedger) *CatalogService {
	return &CatalogService{db: db, ledger: ledger}
}

// CreateProduct adds a product. Without a price it stays unlisted until a
// sales manager prices it.
func (s *CatalogService) CreateProduct(ctx context.Context, in NewProduct) (*models.Product, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Quantity < 0 || in.Cost.IsNegative() {
		return nil, fmt.Errorf("%w: quantity and cost must not be negative", ErrInvalidInput)
	}
	price := models.UnlistedPrice
	if in.Price != nil {
		price = *in.Price
	}
	if err := validatePrice(price, in.Discount); err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       price,
		Discount:    in.Discount,
		Cost:        in.Cost,
		Category:    in.Category,
		Image:       in.Image,
		Quantity:    in.Quantity,
		Distributor: in.Distributor,
	}
	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return product, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	return findProduct(s.db.WithContext(ctx), productID)
}

// SetPrice sets price and discount. A price of -1 unlists the product.
func (s *CatalogService) SetPrice(ctx context.Context, productID string, price decimal.Decimal, discount int) (product *models.Product, err error) {
	ctx, span := startSpan(ctx, "SetPrice", attribute.String("product_id", productID))
	defer func() { endSpan(span, err) }()

	if err := validatePrice(price, discount); err != nil {
		return nil, err
	}
	product, err = s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(product).
		Updates(map[string]any{"price": price, "discount": discount}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update price: %w", err)
	}
	return product, nil
}

// Restock adds qty units through the ledger and returns the updated product.
func (s *CatalogService) Restock(ctx context.Context, productID string, qty int) (*models.Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if err := s.ledger.ReleaseStock(ctx, productID, qty); err != nil {
		return nil, err
	}
	return s.GetProduct(ctx, productID)
}

func validatePrice(price decimal.Decimal, discount int) error {
	if !price.Equal(models.UnlistedPrice) && !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive or -1", ErrInvalidInput)
	}
	if discount < 0 || discount > 100 {
		return fmt.Errorf("%w: discount must be between 0 and 100", ErrInvalidInput)
	}
	return nil
}
