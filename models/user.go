package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer       Role = "customer"
	RoleProductManager Role = "productManager"
	RoleSalesManager   Role = "salesManager"
	RoleAdmin          Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProductManager, RoleSalesManager, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	Name         string          `gorm:"size:255;not null" json:"name"`
	Email        string          `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string          `gorm:"size:255;not null" json:"-"`
	Role         Role            `gorm:"size:32;not null;default:customer" json:"role"`
	Address      string          `gorm:"size:512" json:"address"`
	Balance      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
