package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Record is the authoritative stock count of a single product.
// Version is owned by the store and increases on every committed write.
type Record struct {
	ProductID  string `json:"product_id"`
	StockCount int    `json:"stock_count"`
	Version    int    `json:"version"`
}

// CanFulfil reports whether quantity units can be taken from the record.
func (r Record) CanFulfil(quantity int) bool {
	return quantity > 0 && r.StockCount >= quantity
}

// Decrement returns a copy of the record with quantity units removed.
// The version is left untouched.
func (r Record) Decrement(quantity int) (Record, error) {
	if quantity <= 0 {
		return r, ErrInvalidQuantity
	}
	if r.StockCount < quantity {
		return r, fmt.Errorf("%w: product %s has %d, requested %d",
			ErrInsufficientStock, r.ProductID, r.StockCount, quantity)
	}
	r.StockCount -= quantity
	return r, nil
}
