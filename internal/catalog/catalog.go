package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the catalog view of a product. CurrentStock is informational;
// checkout decides availability from the inventory store only.
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	CurrentStock int             `json:"current_stock"`
}

// Lookup resolves product display data.
type Lookup interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// MemoryCatalog is an in-memory Lookup
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *MemoryCatalog) GetProduct(ctx context.Context, productID string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}
