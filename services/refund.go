package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecommerce-backend/config"
	"ecommerce-backend/logging"
	"ecommerce-backend/models"
	"ecommerce-backend/receipts"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReferenceOrdered   = config.ReferenceOrdered
	ReferenceDelivered = config.ReferenceDelivered

	DefaultRefundWindow = 30 * 24 * time.Hour
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// RefundPolicy decides how long after which date a refund may be requested.
type RefundPolicy struct {
	Window        time.Duration
	ReferenceDate string
}

type RefundService struct {
	db        *gorm.DB
	publisher JobPublisher
	policy    RefundPolicy
	now       func() time.Time
}

func NewRefundService(db *gorm.DB, publisher JobPublisher, policy RefundPolicy) *RefundService {
	if policy.Window <= 0 {
		policy.Window = DefaultRefundWindow
	}
	if policy.ReferenceDate != ReferenceDelivered {
		policy.ReferenceDate = ReferenceOrdered
	}
	return &RefundService{db: db, publisher: publisher, policy: policy, now: time.Now}
}

// RequestRefund opens a pending refund for a whole line of a delivered order.
func (s *RefundService) RequestRefund(ctx context.Context, userID, orderID, productID string) (refund *models.Refund, err error) {
	ctx, span := startSpan(ctx, "RequestRefund",
		attribute.String("user_id", userID),
		attribute.String("order_id", orderID),
		attribute.String("product_id", productID),
	)
	defer func() { endSpan(span, err) }()

	if orderID == "" || productID == "" {
		return nil, fmt.Errorf("%w: order id and product id are required", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
		}
		if order.Status != models.OrderDelivered {
			return fmt.Errorf("%w: order is %s, only delivered orders can be refunded", ErrInvalidState, order.Status)
		}

		var line *models.OrderItem
		for i := range order.Items {
			if order.Items[i].ProductID == productID {
				line = &order.Items[i]
				break
			}
		}
		if line == nil {
			return fmt.Errorf("%w: product %s", ErrNotInOrder, productID)
		}

		if !s.withinWindow(order) {
			return fmt.Errorf("%w: more than %s since the order was %s", ErrWindowExpired, s.policy.Window, s.policy.ReferenceDate)
		}

		var existing int64
		if err := tx.Model(&models.Refund{}).
			Where("order_id = ? AND product_id = ?", orderID, productID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check refunds: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: order %s product %s", ErrAlreadyRequested, orderID, productID)
		}

		refund = &models.Refund{
			ID:        uuid.NewString(),
			UserID:    userID,
			OrderID:   orderID,
			ProductID: productID,
			Status:    models.RefundPending,
			Quantity:  line.Quantity,
			Amount:    line.BuyPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		}
		if err := tx.Create(refund).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: order %s product %s", ErrAlreadyRequested, orderID, productID)
			}
			return fmt.Errorf("failed to create refund: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("refund_requested",
		zap.String("refund_id", refund.ID),
		zap.String("order_id", orderID),
		zap.String("amount", refund.Amount.StringFixed(2)),
	)
	return refund, nil
}

// withinWindow is inclusive: a request exactly Window after the reference
// date is still accepted.
func (s *RefundService) withinWindow(order *models.Order) bool {
	reference := order.CreatedAt
	if s.policy.ReferenceDate == ReferenceDelivered && order.DeliveredAt != nil {
		reference = *order.DeliveredAt
	}
	return s.now().Sub(reference) <= s.policy.Window
}

func (s *RefundService) ApproveRefund(ctx context.Context, refundID string) (*models.Refund, error) {
	return s.ResolveRefund(ctx, refundID, DecisionApprove)
}

func (s *RefundService) RejectRefund(ctx context.Context, refundID string) (*models.Refund, error) {
	return s.ResolveRefund(ctx, refundID, DecisionReject)
}

// ResolveRefund settles a pending refund. Approval restocks the product and
// credits the user in the same transaction as the status change.
func (s *RefundService) ResolveRefund(ctx context.Context, refundID string, decision Decision) (refund *models.Refund, err error) {
	ctx, span := startSpan(ctx, "ResolveRefund", attribute.String("refund_id", refundID), attribute.String("decision", string(decision)))
	defer func() { endSpan(span, err) }()

	var next models.RefundStatus
	switch decision {
	case DecisionApprove:
		next = models.RefundApproved
	case DecisionReject:
		next = models.RefundRejected
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
	}
	if refundID == "" {
		return nil, fmt.Errorf("%w: refund id is required", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = loadRefund(tx, "id = ?", refundID)
		if err != nil {
			return err
		}
		if refund.Status != models.RefundPending {
			return fmt.Errorf("%w: refund is already %s", ErrInvalidState, refund.Status)
		}

		resolvedAt := tx.NowFunc()
		result := tx.Model(&models.Refund{}).
			Where("id = ? AND status = ?", refund.ID, models.RefundPending).
			Updates(map[string]any{"status": next, "resolved_at": resolvedAt})
		if result.Error != nil {
			return fmt.Errorf("failed to update refund: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: refund %s changed concurrently", ErrInvalidState, refund.ID)
		}
		refund.Status = next
		refund.ResolvedAt = &resolvedAt

		if next != models.RefundApproved {
			return nil
		}
		if err := releaseStock(tx, refund.ProductID, refund.Quantity); err != nil {
			return err
		}
		return creditBalance(tx, refund.UserID, refund.Amount)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("refund_resolved", zap.String("refund_id", refund.ID), zap.String("status", string(refund.Status)))
	if refund.Status == models.RefundApproved {
		enqueueReceipt(ctx, s.publisher, receipts.RefundJob(refund.OrderID, refund.ID))
	}
	return refund, nil
}

// DeleteRefund withdraws the caller's own pending refund for an order line.
func (s *RefundService) DeleteRefund(ctx context.Context, userID, orderID, productID string) (refund *models.Refund, err error) {
	ctx, span := startSpan(ctx, "DeleteRefund", attribute.String("order_id", orderID), attribute.String("product_id", productID))
	defer func() { endSpan(span, err) }()

	if orderID == "" || productID == "" {
		return nil, fmt.Errorf("%w: order id and product id are required", ErrInvalidInput)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refund, err = loadRefund(tx, "order_id = ? AND product_id = ?", orderID, productID)
		if err != nil {
			return err
		}
		if refund.UserID != userID {
			return fmt.Errorf("%w: refund belongs to another user", ErrForbidden)
		}
		if refund.Status != models.RefundPending {
			return fmt.Errorf("%w: refund is already %s", ErrInvalidState, refund.Status)
		}

		result := tx.Where("id = ? AND status = ?", refund.ID, models.RefundPending).Delete(&models.Refund{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete refund: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: refund %s changed concurrently", ErrInvalidState, refund.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *RefundService) GetRefund(ctx context.Context, caller Caller, refundID string) (*models.Refund, error) {
	refund, err := loadRefund(s.db.WithContext(ctx), "id = ?", refundID)
	if err != nil {
		return nil, err
	}
	if refund.UserID != caller.UserID && !caller.IsManager() {
		return nil, fmt.Errorf("%w: refund belongs to another user", ErrForbidden)
	}
	return refund, nil
}

func (s *RefundService) ListUserRefunds(ctx context.Context, userID string) ([]models.Refund, error) {
	return listRefunds(s.db.WithContext(ctx).Where("user_id = ?", userID))
}

// ListRefunds returns every refund, optionally filtered by status.
func (s *RefundService) ListRefunds(ctx context.Context, status models.RefundStatus) ([]models.Refund, error) {
	db := s.db.WithContext(ctx)
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown refund status %q", ErrInvalidInput, status)
		}
		db = db.Where("status = ?", status)
	}
	return listRefunds(db)
}

func listRefunds(db *gorm.DB) ([]models.Refund, error) {
	refunds := []models.Refund{}
	if err := db.Order("created_at DESC").Find(&refunds).Error; err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	return refunds, nil
}

func loadRefund(db *gorm.DB, query string, args ...any) (*models.Refund, error) {
	var refund models.Refund
	if err := db.Where(query, args...).First(&refund).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: refund", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find refund: %w", err)
	}
	return &refund, nil
}

func creditBalance(tx *gorm.DB, userID string, amount decimal.Decimal) error {
	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to credit balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}
