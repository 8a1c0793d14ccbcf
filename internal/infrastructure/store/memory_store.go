package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
)

// memoryRecord is one inventory row. Its mutex guards stock and version.
type memoryRecord struct {
	mu      sync.Mutex
	stock   int
	version int
}

// MemoryStore keeps inventory and the order ledger in process memory.
//
// Transactions buffer their writes and validate versions at commit. Commit locks
// only the records the transaction read, in sorted product order, so checkouts
// touching different products never wait on each other.
type MemoryStore struct {
	mu      sync.RWMutex // guards the records map, not the records
	records map[string]*memoryRecord

	ordersMu sync.RWMutex
	orders   map[string]order.Order
	byUser   map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		orders:  make(map[string]order.Order),
		byUser:  make(map[string][]string),
	}
}

// memoryTx is the per-transaction read set and write buffer.
type memoryTx struct {
	store  *MemoryStore
	reads  map[string]readMark
	writes map[string]int
	orders []order.Order
}

type readMark struct {
	exists  bool
	version int
}

func (s *MemoryStore) lookup(productID string) (*memoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[productID]
	return rec, ok
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:  s,
		reads:  make(map[string]readMark),
		writes: make(map[string]int),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (tx *memoryTx) ReadInventory(ctx context.Context, productID string) (inventory.Record, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Record{}, err
	}

	if stock, ok := tx.writes[productID]; ok {
		mark := tx.reads[productID]
		return inventory.Record{ProductID: productID, StockCount: stock, Version: mark.version}, nil
	}

	rec, ok := tx.store.lookup(productID)
	if !ok {
		if _, seen := tx.reads[productID]; !seen {
			tx.reads[productID] = readMark{exists: false}
		}
		return inventory.Record{}, fmt.Errorf("inventory %s: %w", productID, ErrNotFound)
	}

	rec.mu.Lock()
	r := inventory.Record{ProductID: productID, StockCount: rec.stock, Version: rec.version}
	rec.mu.Unlock()

	// the first read fixes the version validated at commit
	if _, seen := tx.reads[productID]; !seen {
		tx.reads[productID] = readMark{exists: true, version: r.Version}
	}
	return r, nil
}

func (tx *memoryTx) WriteInventory(ctx context.Context, productID string, newStockCount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mark, ok := tx.reads[productID]
	if !ok || !mark.exists {
		return fmt.Errorf("inventory %s: %w", productID, ErrNotRead)
	}
	if newStockCount < 0 {
		return fmt.Errorf("inventory %s: %w", productID, ErrNegativeStock)
	}
	tx.writes[productID] = newStockCount
	return nil
}

func (tx *memoryTx) AppendOrder(ctx context.Context, o order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.orders = append(tx.orders, o)
	return nil
}

func (tx *memoryTx) commit() error {
	s := tx.store

	// Fail duplicates before taking record locks. The check is repeated under
	// the write lock since another commit may insert the id in between.
	s.ordersMu.RLock()
	err := s.checkNewOrders(tx.orders)
	s.ordersMu.RUnlock()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(tx.reads))
	for id := range tx.reads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]*memoryRecord, len(ids))
	for i, id := range ids {
		rec, ok := s.lookup(id)
		mark := tx.reads[id]
		if ok != mark.exists {
			return fmt.Errorf("inventory %s: %w", id, ErrConflict)
		}
		records[i] = rec
	}

	for _, rec := range records {
		if rec == nil {
			continue
		}
		rec.mu.Lock()
		defer rec.mu.Unlock()
	}

	for i, id := range ids {
		if records[i] == nil {
			continue
		}
		if records[i].version != tx.reads[id].version {
			return fmt.Errorf("inventory %s: %w", id, ErrConflict)
		}
	}

	s.ordersMu.Lock()
	defer s.ordersMu.Unlock()
	if err := s.checkNewOrders(tx.orders); err != nil {
		return err
	}

	for i, id := range ids {
		stock, ok := tx.writes[id]
		if !ok {
			continue
		}
		records[i].stock = stock
		records[i].version++
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
		s.byUser[o.UserID] = append(s.byUser[o.UserID], o.ID)
	}
	return nil
}

// checkNewOrders must be called with ordersMu held.
func (s *MemoryStore) checkNewOrders(orders []order.Order) error {
	for _, o := range orders {
		if _, exists := s.orders[o.ID]; exists {
			return fmt.Errorf("order %s already exists: %w", o.ID, ErrConflict)
		}
	}
	return nil
}

// PutInventory creates or overwrites a record, bumping its version.
func (s *MemoryStore) PutInventory(ctx context.Context, productID string, stockCount int) error {
	if stockCount < 0 {
		return ErrNegativeStock
	}

	s.mu.Lock()
	rec, ok := s.records[productID]
	if !ok {
		s.records[productID] = &memoryRecord{stock: stockCount, version: 1}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	rec.mu.Lock()
	rec.stock = stockCount
	rec.version++
	rec.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetInventory(ctx context.Context, productID string) (inventory.Record, error) {
	rec, ok := s.lookup(productID)
	if !ok {
		return inventory.Record{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return inventory.Record{ProductID: productID, StockCount: rec.stock, Version: rec.version}, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.Order{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()

	ids := s.byUser[userID]
	orders := make([]order.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		orders = append(orders, s.orders[ids[i]])
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// OrderCount returns the number of committed orders.
func (s *MemoryStore) OrderCount() int {
	s.ordersMu.RLock()
	defer s.ordersMu.RUnlock()
	return len(s.orders)
}
