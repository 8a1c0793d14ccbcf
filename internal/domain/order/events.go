package order

import "time"

const EventOrderPlaced = "OrderPlaced"

// OrderPlaced is published once an order and its stock decrements are committed.
type OrderPlaced struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	Items           []Item          `json:"items"`
	Total           string          `json:"total"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PlacedAt        time.Time       `json:"placed_at"`
}

// PlacedEvent builds the OrderPlaced payload for o.
func PlacedEvent(o Order, customerEmail string) OrderPlaced {
	return OrderPlaced{
		OrderID:         o.ID,
		UserID:          o.UserID,
		CustomerEmail:   customerEmail,
		Items:           o.Items,
		Total:           o.TotalAmount.StringFixed(2),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentDetails.Method,
		PlacedAt:        o.CreatedAt,
	}
}
