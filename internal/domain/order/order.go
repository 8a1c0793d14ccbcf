package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusPlaced    Status = "placed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known order statuses.
// Only StatusPlaced is ever written by checkout; the others belong to fulfilment.
func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// PaymentMethod is validated by the payment collaborator and opaque to checkout.
type PaymentMethod string

const (
	PaymentPrimaryWallet  PaymentMethod = "primary-wallet"
	PaymentOtherUPI       PaymentMethod = "other-upi"
	PaymentCard           PaymentMethod = "card"
	PaymentCashOnDelivery PaymentMethod = "cash-on-delivery"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrIncompleteShipping = errors.New("shipping address is incomplete")
)

// Item is a line of a committed order. Name and Price are snapshots taken at
// commit time and stay valid when the catalog changes later.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingAddress struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// Validate returns ErrIncompleteShipping naming every missing field.
func (a ShippingAddress) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"address", a.Address},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteShipping, strings.Join(missing, ", "))
	}
	return nil
}

type PaymentDetails struct {
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []Item          `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentDetails  PaymentDetails  `json:"payment_details"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewPlaced builds an order in its initial status with the total computed from items.
func NewPlaced(id, userID string, items []Item, shipping ShippingAddress, payment PaymentDetails, now time.Time) Order {
	lines := make([]Item, len(items))
	copy(lines, items)

	return Order{
		ID:              id,
		UserID:          userID,
		Items:           lines,
		TotalAmount:     Total(lines),
		ShippingAddress: shipping,
		PaymentDetails:  payment,
		Status:          StatusPlaced,
		CreatedAt:       now,
	}
}

// Total sums price x quantity over items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ItemCount returns the number of units across all lines.
func (o Order) ItemCount() int {
	var n int
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}
