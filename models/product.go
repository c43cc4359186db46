package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnlistedPrice marks a product that exists in the catalog but is not for sale.
var UnlistedPrice = decimal.NewFromInt(-1)

type Product struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	Name        string          `gorm:"size:255;not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Discount    int             `gorm:"not null;default:0" json:"discount"`
	Cost        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"cost"`
	Category    string          `gorm:"size:100;index" json:"category"`
	Image       string          `gorm:"size:512" json:"image"`
	Quantity    int             `gorm:"not null;default:0;check:quantity >= 0" json:"quantity"`
	Distributor string          `gorm:"size:255" json:"distributor"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p *Product) IsListed() bool {
	return !p.Price.Equal(UnlistedPrice)
}

// EffectivePrice is the unit price after discount, rounded to cents.
func (p *Product) EffectivePrice() decimal.Decimal {
	factor := decimal.NewFromInt(int64(100 - p.Discount)).Div(decimal.NewFromInt(100))
	return p.Price.Mul(factor).Round(2)
}
