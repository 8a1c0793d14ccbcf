package mocks

import (
	"context"
	"sync"

	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
)

// MockOrderReader is a mock implementation of store.OrderReader for testing
type MockOrderReader struct {
	mu     sync.RWMutex
	orders map[string]order.Order

	// For tracking calls in tests
	GetCalls  []string
	ListCalls []string
	Err       error
}

func NewMockOrderReader(orders ...order.Order) *MockOrderReader {
	m := &MockOrderReader{orders: make(map[string]order.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *MockOrderReader) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls = append(m.GetCalls, orderID)
	if m.Err != nil {
		return order.Order{}, m.Err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return order.Order{}, store.ErrNotFound
	}
	return o, nil
}

// ListOrdersByUser returns the user's orders newest first.
func (m *MockOrderReader) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls = append(m.ListCalls, userID)
	if m.Err != nil {
		return nil, m.Err
	}

	var result []order.Order
	for _, o := range m.orders {
		if o.UserID != userID {
			continue
		}
		i := 0
		for i < len(result) && result[i].CreatedAt.After(o.CreatedAt) {
			i++
		}
		result = append(result, order.Order{})
		copy(result[i+1:], result[i:])
		result[i] = o
	}
	return result, nil
}
