package cart

import "github.com/shopspring/decimal"

const (
	EventItemAdded       = "ItemAdded"
	EventQuantityUpdated = "QuantityUpdated"
	EventItemRemoved     = "ItemRemoved"
	EventCartCleared     = "CartCleared"
)

// Action is one of AddItem, UpdateQuantity, RemoveItem or Clear.
type Action interface {
	Kind() string
	isAction()
}

// Product is the snapshot of a catalog product the shopper added.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type AddItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

type UpdateQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type RemoveItem struct {
	ProductID string `json:"product_id"`
}

type Clear struct{}

func (AddItem) Kind() string        { return EventItemAdded }
func (UpdateQuantity) Kind() string { return EventQuantityUpdated }
func (RemoveItem) Kind() string     { return EventItemRemoved }
func (Clear) Kind() string          { return EventCartCleared }

func (AddItem) isAction()        {}
func (UpdateQuantity) isAction() {}
func (RemoveItem) isAction()     {}
func (Clear) isAction()          {}
