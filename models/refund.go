package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

func (s RefundStatus) Valid() bool {
	switch s {
	case RefundPending, RefundApproved, RefundRejected:
		return true
	}
	return false
}

// Refund covers a whole order line; one row per (order, product).
type Refund struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	UserID     string          `gorm:"size:36;not null;index" json:"user_id"`
	OrderID    string          `gorm:"size:36;not null;uniqueIndex:idx_refund_order_product" json:"order_id"`
	ProductID  string          `gorm:"size:36;not null;uniqueIndex:idx_refund_order_product" json:"product_id"`
	Status     RefundStatus    `gorm:"size:20;not null;index" json:"status"`
	Quantity   int             `gorm:"not null" json:"quantity"`
	Amount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	ReceiptURL string          `gorm:"size:512" json:"receipt_url,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
