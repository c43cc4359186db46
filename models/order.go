package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderInTransit  OrderStatus = "in-transit"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// orderTransitions lists the statuses reachable in one step.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderProcessing: {OrderInTransit, OrderCancelled},
	OrderInTransit:  {OrderDelivered, OrderCancelled},
	OrderDelivered:  nil,
	OrderCancelled:  nil,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	UserID          string          `gorm:"size:36;not null;index" json:"user_id"`
	Status          OrderStatus     `gorm:"size:20;not null;index" json:"status"`
	CardFingerprint string          `gorm:"size:64;not null" json:"-"`
	CardLast4       string          `gorm:"size:4;not null" json:"card_last4"`
	Address         string          `gorm:"size:512;not null" json:"address"`
	ReceiverEmail   string          `gorm:"size:255" json:"receiver_email"`
	Total           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	ReceiptURL      string          `gorm:"size:512" json:"receipt_url,omitempty"`
	Items           []OrderItem     `gorm:"constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem is the immutable price snapshot taken when the order was placed.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"-"`
	OrderID   string          `gorm:"size:36;not null;index" json:"-"`
	ProductID string          `gorm:"size:36;not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	BuyPrice  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"buy_price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.BuyPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type OrderItemDetail struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Image       string          `json:"image"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}
