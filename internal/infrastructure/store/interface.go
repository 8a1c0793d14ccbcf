package store

import (
	"context"
	"errors"

	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("concurrent modification detected")
	ErrUnavailable   = errors.New("storage unavailable")
	ErrNotRead       = errors.New("record must be read in the transaction before it is written")
	ErrNegativeStock = errors.New("stock count cannot be negative")
)

// InventoryTx reads and writes inventory records inside a transaction.
// Writes are buffered and become visible only when the transaction commits.
type InventoryTx interface {
	ReadInventory(ctx context.Context, productID string) (inventory.Record, error)
	WriteInventory(ctx context.Context, productID string, newStockCount int) error
}

// LedgerTx appends orders inside a transaction. The ledger is append-only.
type LedgerTx interface {
	AppendOrder(ctx context.Context, o order.Order) error
}

type Tx interface {
	InventoryTx
	LedgerTx
}

// TransactionRunner executes fn in a transaction.
//
// If fn returns an error nothing is committed and that error is returned
// unchanged. If any record read through tx was modified by someone else before
// commit, nothing is committed and ErrConflict is returned.
type TransactionRunner interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OrderReader serves the order history read path.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (order.Order, error)
	// ListOrdersByUser returns orders newest first.
	ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error)
}

// InventoryAdmin seeds and inspects stock outside of checkout transactions.
type InventoryAdmin interface {
	PutInventory(ctx context.Context, productID string, stockCount int) error
	GetInventory(ctx context.Context, productID string) (inventory.Record, error)
}

// Store is implemented by every backend.
type Store interface {
	TransactionRunner
	OrderReader
	InventoryAdmin
}
