package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ecommerce-backend/logging"
	"ecommerce-backend/models"
	"ecommerce-backend/receipts"
	"ecommerce-backend/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LineItem struct {
	ProductID string          `json:"productID"`
	Quantity  int             `json:"quantity"`
	BuyPrice  decimal.Decimal `json:"buyPrice"`
}

type PlaceOrderRequest struct {
	UserID        string
	Items         []LineItem
	CreditCard    string
	Address       string
	ReceiverEmail string
}

// Caller identifies who is asking, for reads that owners and managers share.
type Caller struct {
	UserID string
	Role   models.Role
}

func (c Caller) IsManager() bool {
	return c.Role == models.RoleProductManager || c.Role == models.RoleSalesManager || c.Role == models.RoleAdmin
}

type OrderService struct {
	db         *gorm.DB
	publisher  JobPublisher
	cardSecret string
}

func NewOrderService(db *gorm.DB, publisher JobPublisher, cardSecret string) *OrderService {
	return &OrderService{db: db, publisher: publisher, cardSecret: cardSecret}
}

// PlaceOrder validates the line items against the catalog and, in one
// transaction, records the order, reserves stock and empties the cart.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "PlaceOrder", attribute.String("user_id", req.UserID), attribute.Int("items", len(req.Items)))
	defer func() { endSpan(span, err) }()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no products", ErrInvalidInput)
	}
	if strings.TrimSpace(req.CreditCard) == "" || strings.TrimSpace(req.Address) == "" {
		return nil, fmt.Errorf("%w: credit card and address are required", ErrInvalidInput)
	}
	fingerprint, last4, err := utils.CardFingerprint(s.cardSecret, req.CreditCard)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if seen[item.ProductID] {
			return nil, fmt.Errorf("%w: product %s listed twice", ErrInvalidInput, item.ProductID)
		}
		seen[item.ProductID] = true
		ids = append(ids, item.ProductID)
	}

	order = &models.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Status:          models.OrderProcessing,
		CardFingerprint: fingerprint,
		CardLast4:       last4,
		Address:         strings.TrimSpace(req.Address),
		ReceiverEmail:   strings.TrimSpace(req.ReceiverEmail),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var products []models.Product
		if err := tx.Where("id IN ?", ids).Find(&products).Error; err != nil {
			return fmt.Errorf("failed to load products: %w", err)
		}
		byID := make(map[string]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}
		var missing []string
		for _, id := range ids {
			if byID[id] == nil {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrUnknownProduct, strings.Join(missing, ", "))
		}

		// Shape of every line first, then catalog, then stock.
		for _, item := range req.Items {
			if item.Quantity <= 0 || !item.BuyPrice.IsPositive() {
				return fmt.Errorf("%w: product %s needs a positive quantity and buy price", ErrInvalidLineItem, item.ProductID)
			}
		}
		for _, item := range req.Items {
			product := byID[item.ProductID]
			if !product.IsListed() {
				return fmt.Errorf("%w: product %s", ErrProductUnlisted, item.ProductID)
			}
			if price := product.EffectivePrice(); !item.BuyPrice.Equal(price) {
				return fmt.Errorf("%w: product %s costs %s, got %s", ErrPriceMismatch, item.ProductID, price, item.BuyPrice)
			}
		}

		total := decimal.Zero
		for _, item := range req.Items {
			product := byID[item.ProductID]
			if product.Quantity < item.Quantity {
				return &StockError{ProductID: item.ProductID, Requested: item.Quantity, Available: product.Quantity}
			}
			order.Items = append(order.Items, models.OrderItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				BuyPrice:  item.BuyPrice,
			})
			total = total.Add(order.Items[len(order.Items)-1].Subtotal())
		}
		order.Total = total

		if order.ReceiverEmail == "" {
			var user models.User
			if err := tx.Select("email").First(&user, "id = ?", req.UserID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
				}
				return fmt.Errorf("failed to load user: %w", err)
			}
			order.ReceiverEmail = user.Email
		}

		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		for _, item := range lockOrder(order.Items) {
			if err := reserveStock(tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return clearCart(tx, req.UserID)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order_placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.StringFixed(2)),
	)
	enqueueReceipt(ctx, s.publisher, receipts.OrderJob(order.ID))
	return order, nil
}

// CancelOrder lets the owner cancel an order that is still processing.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID string) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "CancelOrder", attribute.String("user_id", userID), attribute.String("order_id", orderID))
	defer func() { endSpan(span, err) }()

	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
		}
		if order.Status != models.OrderProcessing {
			return fmt.Errorf("%w: order is %s, only processing orders can be cancelled", ErrInvalidState, order.Status)
		}
		return transitionOrder(tx, order, models.OrderCancelled)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order_cancelled", zap.String("order_id", order.ID), zap.String("user_id", userID))
	return order, nil
}

// UpdateOrderStatus moves an order one step along its lifecycle. Cancelling
// through here releases stock like CancelOrder does.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, next models.OrderStatus) (order *models.Order, err error) {
	ctx, span := startSpan(ctx, "UpdateOrderStatus", attribute.String("order_id", orderID), attribute.String("status", string(next)))
	defer func() { endSpan(span, err) }()

	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, next)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, next)
		}
		return transitionOrder(tx, order, next)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order_status_updated", zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, caller Caller, orderID string) (*models.Order, error) {
	order, err := loadOrder(s.db.WithContext(ctx), orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != caller.UserID && !caller.IsManager() {
		return nil, fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return listOrders(s.db.WithContext(ctx).Where("user_id = ?", userID))
}

// ListOrders returns every order, optionally filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	db := s.db.WithContext(ctx)
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
		}
		db = db.Where("status = ?", status)
	}
	return listOrders(db)
}

func listOrders(db *gorm.DB) ([]models.Order, error) {
	orders := []models.Order{}
	if err := db.Preload("Items").Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func loadOrder(db *gorm.DB, orderID string) (*models.Order, error) {
	var order models.Order
	if err := db.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &order, nil
}

// transitionOrder flips the status only if nobody changed it since it was
// read, then applies the side effects of the new status.
func transitionOrder(tx *gorm.DB, order *models.Order, next models.OrderStatus) error {
	updates := map[string]any{"status": next}
	if next == models.OrderDelivered {
		now := tx.NowFunc()
		order.DeliveredAt = &now
		updates["delivered_at"] = now
	}

	result := tx.Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, order.Status).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidState, order.ID)
	}
	order.Status = next

	if next == models.OrderCancelled {
		for _, item := range lockOrder(order.Items) {
			if err := releaseStock(tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}
