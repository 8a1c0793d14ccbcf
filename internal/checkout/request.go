package checkout

import (
	"fmt"
	"strings"

	"github.com/example/storefront-checkout/internal/domain/cart"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/shopspring/decimal"
)

// MaxLineItems bounds distinct products per order. DynamoDB caps a
// transaction at 100 actions.
const MaxLineItems = 50

type Item struct {
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	UnitPriceAtAdd decimal.Decimal `json:"unit_price"`
}

// Request is an immutable checkout submission. UserID is trusted as verified.
type Request struct {
	UserID           string                `json:"user_id"`
	Email            string                `json:"email,omitempty"`
	Items            []Item                `json:"items"`
	ShippingAddress  order.ShippingAddress `json:"shipping_address"`
	PaymentMethod    order.PaymentMethod   `json:"payment_method"`
	PaymentReference string                `json:"payment_reference,omitempty"`
}

// ItemsFromCart converts cart lines into checkout items.
func ItemsFromCart(s cart.State) []Item {
	items := make([]Item, len(s.Lines))
	for i, l := range s.Lines {
		items[i] = Item{ProductID: l.ProductID, Quantity: l.Quantity, UnitPriceAtAdd: l.UnitPrice}
	}
	return items
}

// Validate returns a *ValidationError listing every violation, or nil.
func (r Request) Validate() error {
	_, err := r.normalize()
	return err
}

// normalize validates r and merges duplicate products, keeping the first
// price and the first-seen order.
func (r Request) normalize() ([]Item, error) {
	var reasons []string

	if strings.TrimSpace(r.UserID) == "" {
		reasons = append(reasons, "user_id is required")
	}
	if len(r.Items) == 0 {
		reasons = append(reasons, "at least one item is required")
	}

	merged := make([]Item, 0, len(r.Items))
	index := make(map[string]int, len(r.Items))
	for i, it := range r.Items {
		valid := true
		if strings.TrimSpace(it.ProductID) == "" {
			reasons = append(reasons, fmt.Sprintf("items[%d]: product_id is required", i))
			valid = false
		}
		if it.Quantity <= 0 {
			reasons = append(reasons, fmt.Sprintf("items[%d]: quantity must be positive", i))
			valid = false
		}
		if it.UnitPriceAtAdd.IsNegative() {
			reasons = append(reasons, fmt.Sprintf("items[%d]: unit_price cannot be negative", i))
			valid = false
		}
		if !valid {
			continue
		}
		if j, ok := index[it.ProductID]; ok {
			merged[j].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	if len(merged) > MaxLineItems {
		reasons = append(reasons, fmt.Sprintf("at most %d distinct products per order", MaxLineItems))
	}

	if err := r.ShippingAddress.Validate(); err != nil {
		reasons = append(reasons, err.Error())
	}
	if strings.TrimSpace(string(r.PaymentMethod)) == "" {
		reasons = append(reasons, "payment_method is required")
	}

	if len(reasons) > 0 {
		return nil, &ValidationError{Reasons: reasons}
	}
	return merged, nil
}
