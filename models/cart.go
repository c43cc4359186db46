package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    string     `gorm:"size:36;not null;uniqueIndex" json:"user_id"`
	Items     []CartItem `gorm:"constraint:OnDelete:CASCADE" json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem rows keep insertion order through their auto-increment ID.
type CartItem struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	CartID    string `gorm:"size:36;not null;uniqueIndex:idx_cart_product" json:"-"`
	ProductID string `gorm:"size:36;not null;uniqueIndex:idx_cart_product" json:"product_id"`
	Quantity  int    `gorm:"not null" json:"quantity"`
}

type CartItemDetail struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}
