package query

import (
	"time"

	"github.com/example/storefront-checkout/internal/domain/order"
)

// OrderItemView is one order line. Money is rendered as a fixed two
// decimal string so clients never see binary floats.
type OrderItemView struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Subtotal  string `json:"subtotal"`
}

type OrderView struct {
	ID               string                `json:"id"`
	UserID           string                `json:"user_id"`
	Items            []OrderItemView       `json:"items"`
	ItemCount        int                   `json:"item_count"`
	TotalAmount      string                `json:"total_amount"`
	ShippingAddress  order.ShippingAddress `json:"shipping_address"`
	PaymentMethod    string                `json:"payment_method"`
	PaymentReference string                `json:"payment_reference,omitempty"`
	Status           string                `json:"status"`
	CreatedAt        time.Time             `json:"created_at"`
}

func NewOrderView(o order.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
			Subtotal:  it.Subtotal().StringFixed(2),
		})
	}

	return OrderView{
		ID:               o.ID,
		UserID:           o.UserID,
		Items:            items,
		ItemCount:        o.ItemCount(),
		TotalAmount:      o.TotalAmount.StringFixed(2),
		ShippingAddress:  o.ShippingAddress,
		PaymentMethod:    string(o.PaymentDetails.Method),
		PaymentReference: o.PaymentDetails.Reference,
		Status:           string(o.Status),
		CreatedAt:        o.CreatedAt,
	}
}
