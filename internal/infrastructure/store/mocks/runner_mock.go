package mocks

import (
	"context"
	"sync"

	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
)

// MockRunner is a TransactionRunner backed by a real MemoryStore that records
// every transaction and can inject commit failures.
type MockRunner struct {
	*store.MemoryStore

	mu sync.Mutex

	// For tracking calls in tests
	RunCalls   int
	ReadCalls  []string
	WriteCalls []WriteCall
	Appended   []order.Order

	// CommitErrs are returned in order, one per transaction whose fn succeeded,
	// instead of committing. A nil entry commits normally.
	CommitErrs []error
	// BeforeCommit runs after fn succeeds and before the commit decision.
	BeforeCommit func(ctx context.Context, attempt int) error
}

// WriteCall records parameters passed to WriteInventory
type WriteCall struct {
	ProductID     string
	NewStockCount int
}

// NewMockRunner creates a MockRunner seeded with stock.
func NewMockRunner(stock map[string]int) *MockRunner {
	m := &MockRunner{MemoryStore: store.NewMemoryStore()}
	for id, n := range stock {
		_ = m.PutInventory(context.Background(), id, n)
	}
	return m
}

type recordingTx struct {
	store.Tx
	m *MockRunner
}

func (t *recordingTx) ReadInventory(ctx context.Context, productID string) (inventory.Record, error) {
	t.m.mu.Lock()
	t.m.ReadCalls = append(t.m.ReadCalls, productID)
	t.m.mu.Unlock()
	return t.Tx.ReadInventory(ctx, productID)
}

func (t *recordingTx) WriteInventory(ctx context.Context, productID string, newStockCount int) error {
	t.m.mu.Lock()
	t.m.WriteCalls = append(t.m.WriteCalls, WriteCall{ProductID: productID, NewStockCount: newStockCount})
	t.m.mu.Unlock()
	return t.Tx.WriteInventory(ctx, productID, newStockCount)
}

func (t *recordingTx) AppendOrder(ctx context.Context, o order.Order) error {
	t.m.mu.Lock()
	t.m.Appended = append(t.m.Appended, o)
	t.m.mu.Unlock()
	return t.Tx.AppendOrder(ctx, o)
}

// errAbort unwinds the inner transaction when a commit failure is injected.
type errAbort struct{ err error }

func (e errAbort) Error() string { return e.err.Error() }

func (m *MockRunner) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	m.RunCalls++
	attempt := m.RunCalls
	m.mu.Unlock()

	err := m.MemoryStore.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, &recordingTx{Tx: tx, m: m}); err != nil {
			return err
		}
		if m.BeforeCommit != nil {
			if err := m.BeforeCommit(ctx, attempt); err != nil {
				return errAbort{err}
			}
		}
		if injected := m.nextCommitErr(); injected != nil {
			return errAbort{injected}
		}
		return nil
	})

	if abort, ok := err.(errAbort); ok {
		return abort.err
	}
	return err
}

func (m *MockRunner) nextCommitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CommitErrs) == 0 {
		return nil
	}
	err := m.CommitErrs[0]
	m.CommitErrs = m.CommitErrs[1:]
	return err
}

// Reset clears recorded calls and injected failures
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls = 0
	m.ReadCalls = nil
	m.WriteCalls = nil
	m.Appended = nil
	m.CommitErrs = nil
	m.BeforeCommit = nil
}

// Stock returns the committed stock count for productID, or -1 when absent.
func (m *MockRunner) Stock(productID string) int {
	rec, err := m.GetInventory(context.Background(), productID)
	if err != nil {
		return -1
	}
	return rec.StockCount
}
