package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/storefront-checkout/internal/catalog"
	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/example/storefront-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxAttempts = 5
	DefaultTimeout     = 10 * time.Second
)

// Publisher receives the OrderPlaced envelope after commit.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Coordinator turns checkout requests into committed orders.
type Coordinator struct {
	runner      store.TransactionRunner
	catalog     catalog.Lookup
	publisher   Publisher
	maxAttempts int
	timeout     time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
}

type Option func(*Coordinator)

func WithCatalog(c catalog.Lookup) Option {
	return func(co *Coordinator) { co.catalog = c }
}

func WithPublisher(p Publisher) Option {
	return func(co *Coordinator) { co.publisher = p }
}

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.maxAttempts = n
		}
	}
}

// WithTimeout bounds a whole PlaceOrder call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(co *Coordinator) { co.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(co *Coordinator) { co.newID = newID }
}

func NewCoordinator(runner store.TransactionRunner, opts ...Option) *Coordinator {
	c := &Coordinator{
		runner:      runner,
		maxAttempts: DefaultMaxAttempts,
		timeout:     DefaultTimeout,
		logger:      zerolog.Nop(),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// snapshot holds display data resolved before the transaction.
type snapshot struct {
	name  string
	price decimal.Decimal
}

// PlaceOrder validates req, then reads stock for every product and either
// commits the order with all decrements or aborts with every failing item.
// Conflicting commits are retried from scratch up to the attempt budget.
func (c *Coordinator) PlaceOrder(ctx context.Context, req Request) (*order.Order, error) {
	items, err := req.normalize()
	if err != nil {
		return nil, err
	}

	snapshots := c.lookupSnapshots(ctx, items)

	txCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastConflict error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		placed, err := c.attempt(txCtx, req, items, snapshots)
		if err == nil {
			c.logger.Info().
				Str("order_id", placed.ID).
				Str("user_id", placed.UserID).
				Int("attempt", attempt).
				Str("total", placed.TotalAmount.StringFixed(2)).
				Msg("order placed")
			c.publish(ctx, placed, req.Email)
			return &placed, nil
		}

		if !errors.Is(err, store.ErrConflict) {
			return nil, c.classify(ctx, txCtx, err)
		}
		lastConflict = err
		c.logger.Debug().Err(err).Int("attempt", attempt).Str("user_id", req.UserID).Msg("commit conflict, retrying")

		if txCtx.Err() != nil {
			return nil, c.classify(ctx, txCtx, txCtx.Err())
		}
	}

	c.logger.Warn().Int("attempts", c.maxAttempts).Str("user_id", req.UserID).Msg("conflict retries exhausted")
	return nil, fmt.Errorf("%w: %d attempts: %v", ErrConflictRetryExhausted, c.maxAttempts, lastConflict)
}

func (c *Coordinator) attempt(ctx context.Context, req Request, items []Item, snapshots map[string]snapshot) (order.Order, error) {
	var placed order.Order

	err := c.runner.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		var failures []ItemFailure
		records := make(map[string]inventory.Record, len(items))

		for _, it := range items {
			rec, err := tx.ReadInventory(ctx, it.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				failures = append(failures, ItemFailure{
					ProductID: it.ProductID,
					Reason:    KindProductUnavailable,
					Requested: it.Quantity,
				})
				continue
			}
			if err != nil {
				return err
			}
			if !rec.CanFulfil(it.Quantity) {
				failures = append(failures, ItemFailure{
					ProductID: it.ProductID,
					Reason:    KindOutOfStock,
					Available: rec.StockCount,
					Requested: it.Quantity,
				})
				continue
			}
			records[it.ProductID] = rec
		}
		if len(failures) > 0 {
			return &StockError{Failures: failures}
		}

		lines := make([]order.Item, len(items))
		for i, it := range items {
			snap := snapshots[it.ProductID]
			lines[i] = order.Item{
				ProductID: it.ProductID,
				Name:      snap.name,
				Quantity:  it.Quantity,
				Price:     snap.price,
			}
		}

		placed = order.NewPlaced(
			c.newID(),
			req.UserID,
			lines,
			req.ShippingAddress,
			order.PaymentDetails{Method: req.PaymentMethod, Reference: req.PaymentReference},
			c.now(),
		)
		if err := tx.AppendOrder(ctx, placed); err != nil {
			return err
		}

		for _, it := range items {
			next, err := records[it.ProductID].Decrement(it.Quantity)
			if err != nil {
				return err
			}
			if err := tx.WriteInventory(ctx, it.ProductID, next.StockCount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	return placed, nil
}

// lookupSnapshots resolves names, and prices missing from the request, from
// the catalog. Catalog failures only degrade display data.
func (c *Coordinator) lookupSnapshots(ctx context.Context, items []Item) map[string]snapshot {
	snapshots := make(map[string]snapshot, len(items))
	for _, it := range items {
		snap := snapshot{name: it.ProductID, price: it.UnitPriceAtAdd}
		if c.catalog != nil {
			p, err := c.catalog.GetProduct(ctx, it.ProductID)
			switch {
			case err == nil:
				if p.Name != "" {
					snap.name = p.Name
				}
				if snap.price.IsZero() {
					snap.price = p.Price
				}
			case !errors.Is(err, catalog.ErrProductNotFound):
				c.logger.Warn().Err(err).Str("product_id", it.ProductID).Msg("catalog lookup failed")
			}
		}
		snapshots[it.ProductID] = snap
	}
	return snapshots
}

// classify maps a non-conflict failure onto the checkout taxonomy.
func (c *Coordinator) classify(callerCtx, txCtx context.Context, err error) error {
	var stockErr *StockError
	if errors.As(err, &stockErr) || errors.Is(err, ErrValidation) {
		return err
	}

	if callerCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCanceled, callerCtx.Err())
	}
	if errors.Is(txCtx.Err(), context.DeadlineExceeded) {
		c.logger.Warn().Dur("timeout", c.timeout).Msg("checkout timed out")
		return fmt.Errorf("%w after %s", ErrTransactionTimeout, c.timeout)
	}

	c.logger.Error().Err(err).Msg("storage failure during checkout")
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func (c *Coordinator) publish(ctx context.Context, o order.Order, email string) {
	if c.publisher == nil {
		return
	}

	event, err := store.NewEvent(o.ID, order.AggregateType, order.EventOrderPlaced, order.PlacedEvent(o, email), c.now())
	if err != nil {
		c.logger.Warn().Err(err).Str("order_id", o.ID).Msg("failed to build OrderPlaced event")
		return
	}
	if err := c.publisher.Publish(ctx, o.ID, event); err != nil {
		c.logger.Warn().Err(err).Str("order_id", o.ID).Msg("failed to publish OrderPlaced event")
	}
}
