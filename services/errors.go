package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrInvalidLineItem    = errors.New("invalid line item")
	ErrNotInCart          = errors.New("product not in cart")
	ErrNotInOrder         = errors.New("product not in order")
	ErrWindowExpired      = errors.New("refund window expired")
	ErrAlreadyRequested   = errors.New("refund already requested")
	ErrPriceMismatch      = errors.New("price does not match catalog")
	ErrProductUnlisted    = errors.New("product is not listed for sale")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// StockError names the product that could not cover the requested quantity.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}
