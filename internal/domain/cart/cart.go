package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidProduct  = errors.New("product_id is required")
	ErrUnknownAction   = errors.New("unknown cart action")
)

type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// State is an immutable cart value. Lines keep first-insertion order and hold
// at most one line per product.
type State struct {
	Lines []Line `json:"lines"`
}

// Apply returns the state that results from applying action to state.
// The input state is never modified and the result never shares its Lines.
// On error a copy of the input state is returned.
func Apply(state State, action Action) (State, error) {
	switch a := action.(type) {
	case AddItem:
		return addItem(state, a)
	case UpdateQuantity:
		return updateQuantity(state, a), nil
	case RemoveItem:
		return removeItem(state, a.ProductID), nil
	case Clear:
		return State{}, nil
	default:
		return state.cloned(), fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}

// Replay folds actions over an empty cart.
func Replay(actions ...Action) (State, error) {
	var s State
	for _, a := range actions {
		next, err := Apply(s, a)
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

func addItem(state State, a AddItem) (State, error) {
	if a.Product.ID == "" {
		return state.cloned(), ErrInvalidProduct
	}
	if a.Quantity <= 0 {
		return state.cloned(), ErrInvalidQuantity
	}

	lines := state.clone()
	for i := range lines {
		if lines[i].ProductID == a.Product.ID {
			// price stays at the first-seen snapshot
			lines[i].Quantity += a.Quantity
			return State{Lines: lines}, nil
		}
	}

	lines = append(lines, Line{
		ProductID: a.Product.ID,
		Name:      a.Product.Name,
		UnitPrice: a.Product.Price,
		Quantity:  a.Quantity,
	})
	return State{Lines: lines}, nil
}

func updateQuantity(state State, a UpdateQuantity) State {
	if a.Quantity <= 0 {
		return removeItem(state, a.ProductID)
	}
	idx := state.index(a.ProductID)
	if idx < 0 {
		return state.cloned()
	}
	lines := state.clone()
	lines[idx].Quantity = a.Quantity
	return State{Lines: lines}
}

func removeItem(state State, productID string) State {
	idx := state.index(productID)
	if idx < 0 {
		return state.cloned()
	}
	lines := make([]Line, 0, len(state.Lines)-1)
	lines = append(lines, state.Lines[:idx]...)
	lines = append(lines, state.Lines[idx+1:]...)
	return State{Lines: lines}
}

func (s State) index(productID string) int {
	for i, l := range s.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

func (s State) cloned() State {
	return State{Lines: s.clone()}
}

// clone keeps a nil Lines nil so copies of an empty cart compare equal.
func (s State) clone() []Line {
	if s.Lines == nil {
		return nil
	}
	lines := make([]Line, len(s.Lines), len(s.Lines)+1)
	copy(lines, s.Lines)
	return lines
}

func (s State) AddItem(p Product, quantity int) (State, error) {
	return Apply(s, AddItem{Product: p, Quantity: quantity})
}

func (s State) UpdateQuantity(productID string, quantity int) State {
	next, _ := Apply(s, UpdateQuantity{ProductID: productID, Quantity: quantity})
	return next
}

func (s State) RemoveItem(productID string) State {
	next, _ := Apply(s, RemoveItem{ProductID: productID})
	return next
}

func (s State) Clear() State {
	return State{}
}

// Line returns the line for productID, if present.
func (s State) Line(productID string) (Line, bool) {
	idx := s.index(productID)
	if idx < 0 {
		return Line{}, false
	}
	return s.Lines[idx], true
}

func (s State) Len() int {
	return len(s.Lines)
}

func (s State) IsEmpty() bool {
	return len(s.Lines) == 0
}

func (s State) TotalQuantity() int {
	var n int
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// Subtotal is the sum of unit price times quantity at the snapshot prices.
func (s State) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}
