package receipts

import (
	"context"
	"errors"
	"fmt"

	"ecommerce-backend/logging"
	"ecommerce-backend/models"
	"ecommerce-backend/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ecommerce-backend/receipts")

// ErrPermanent marks failures that retrying cannot fix, such as a job
// pointing at a record that no longer exists.
var ErrPermanent = errors.New("permanent receipt failure")

// Processor turns a Job into a stored document and an email.
type Processor struct {
	db     *gorm.DB
	store  DocumentStore
	mailer Mailer
}

func NewProcessor(db *gorm.DB, store DocumentStore, mailer Mailer) *Processor {
	return &Processor{db: db, store: store, mailer: mailer}
}

func (p *Processor) Handle(ctx context.Context, job Job) (err error) {
	ctx, span := tracer.Start(ctx, "receipts.Handle")
	span.SetAttributes(
		attribute.String("kind", string(job.Kind)),
		attribute.String("order_id", job.OrderID),
		attribute.Int("attempt", job.Attempt),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	switch job.Kind {
	case KindRefund:
		return p.handleRefund(ctx, job.RefundID)
	default:
		return p.handleOrder(ctx, job.OrderID)
	}
}

func (p *Processor) handleOrder(ctx context.Context, orderID string) error {
	var order models.Order
	if err := p.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		return lookupError("order", err)
	}
	user, err := p.user(ctx, order.UserID)
	if err != nil {
		return err
	}
	products, err := p.products(ctx, order.Items)
	if err != nil {
		return err
	}

	receipt := OrderReceipt{
		OrderID:      order.ID,
		CustomerName: user.Name,
		OrderedAt:    order.CreatedAt,
		Address:      order.Address,
		Card:         utils.MaskCard(order.CardLast4),
		Total:        order.Total,
	}
	for _, item := range order.Items {
		product := products[item.ProductID]
		receipt.Items = append(receipt.Items, models.OrderItemDetail{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Image:       product.Image,
			Quantity:    item.Quantity,
			Price:       item.BuyPrice,
			Subtotal:    item.Subtotal(),
		})
	}

	body, err := RenderOrder(receipt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	html, err := OrderEmail(receipt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	doc, err := p.store.Put(ctx, body)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).
		UpdateColumn("receipt_url", doc.URL).Error; err != nil {
		return fmt.Errorf("save receipt url: %w", err)
	}

	to := order.ReceiverEmail
	if to == "" {
		to = user.Email
	}
	err = p.mailer.Send(ctx, Email{
		To:         to,
		Subject:    "Your order receipt",
		HTML:       html,
		Attachment: &Attachment{Name: "receipt-" + order.ID + ".pdf", ContentType: "application/pdf", Content: body},
	})
	if err != nil {
		return fmt.Errorf("send order receipt: %w", err)
	}
	logging.FromContext(ctx).Info("order_receipt_sent", zap.String("order_id", order.ID), zap.String("receipt_url", doc.URL))
	return nil
}

func (p *Processor) handleRefund(ctx context.Context, refundID string) error {
	var refund models.Refund
	if err := p.db.WithContext(ctx).First(&refund, "id = ?", refundID).Error; err != nil {
		return lookupError("refund", err)
	}
	if refund.Status != models.RefundApproved {
		return fmt.Errorf("%w: refund %s is %s", ErrPermanent, refund.ID, refund.Status)
	}
	user, err := p.user(ctx, refund.UserID)
	if err != nil {
		return err
	}
	var product models.Product
	if err := p.db.WithContext(ctx).First(&product, "id = ?", refund.ProductID).Error; err != nil {
		return lookupError("product", err)
	}

	receipt := RefundReceipt{
		RefundID:     refund.ID,
		OrderID:      refund.OrderID,
		CustomerName: user.Name,
		ProductName:  product.Name,
		Image:        product.Image,
		Quantity:     refund.Quantity,
		Amount:       refund.Amount,
		ApprovedAt:   refund.UpdatedAt,
	}
	if refund.ResolvedAt != nil {
		receipt.ApprovedAt = *refund.ResolvedAt
	}

	body, err := RenderRefund(receipt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	html, err := RefundEmail(receipt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	doc, err := p.store.Put(ctx, body)
	if err != nil {
		return err
	}
	if err := p.db.WithContext(ctx).Model(&models.Refund{}).Where("id = ?", refund.ID).
		UpdateColumn("receipt_url", doc.URL).Error; err != nil {
		return fmt.Errorf("save receipt url: %w", err)
	}

	err = p.mailer.Send(ctx, Email{
		To:         user.Email,
		Subject:    "Refund Approved!",
		HTML:       html,
		Attachment: &Attachment{Name: "refund-" + refund.ID + ".pdf", ContentType: "application/pdf", Content: body},
	})
	if err != nil {
		return fmt.Errorf("send refund receipt: %w", err)
	}
	logging.FromContext(ctx).Info("refund_receipt_sent", zap.String("refund_id", refund.ID), zap.String("receipt_url", doc.URL))
	return nil
}

func (p *Processor) user(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := p.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, lookupError("user", err)
	}
	return &user, nil
}

func (p *Processor) products(ctx context.Context, items []models.OrderItem) (map[string]models.Product, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	var products []models.Product
	if err := p.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]models.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	return byID, nil
}

func lookupError(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s not found", ErrPermanent, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
