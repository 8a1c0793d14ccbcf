package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// testOrder builds a placed order for userID with a unique id.
func testOrder(userID string, createdAt time.Time) order.Order {
	return order.NewPlaced(
		uuid.New().String(),
		userID,
		[]order.Item{{ProductID: "prod-1", Name: "Kettle", Quantity: 1, Price: decimal.RequireFromString("19.99")}},
		order.ShippingAddress{
			FirstName: "Asha", LastName: "Rao", Address: "12 MG Road",
			City: "Bengaluru", PostalCode: "560001", Country: "IN", Phone: "+91-9000000000",
		},
		order.PaymentDetails{Method: order.PaymentCard, Reference: "ref-1"},
		createdAt.UTC().Truncate(time.Millisecond),
	)
}

// uniqueID namespaces product ids so backends shared between runs stay isolated.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:8])
}

// runConformance checks the transaction contract every backend must honour.
func runConformance(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("commit decrements stock and bumps version", func(t *testing.T) {
		pid := uniqueID("prod")
		require.NoError(t, s.PutInventory(ctx, pid, 10))
		before, err := s.GetInventory(ctx, pid)
		require.NoError(t, err)

		o := testOrder(uniqueID("user"), time.Now())
		err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			rec, err := tx.ReadInventory(ctx, pid)
			if err != nil {
				return err
			}
			if err := tx.WriteInventory(ctx, pid, rec.StockCount-3); err != nil {
				return err
			}
			return tx.AppendOrder(ctx, o)
		})
		require.NoError(t, err)

		after, err := s.GetInventory(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, 7, after.StockCount)
		assert.Equal(t, before.Version+1, after.Version)

		stored, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.UserID, stored.UserID)
		assert.Equal(t, order.StatusPlaced, stored.Status)
		assert.True(t, o.TotalAmount.Equal(stored.TotalAmount))
		require.Len(t, stored.Items, 1)
		assert.Equal(t, "Kettle", stored.Items[0].Name)
	})

	t.Run("fn error rolls back", func(t *testing.T) {
		pid := uniqueID("prod")
		require.NoError(t, s.PutInventory(ctx, pid, 5))
		o := testOrder(uniqueID("user"), time.Now())
		boom := errors.New("boom")

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.ReadInventory(ctx, pid); err != nil {
				return err
			}
			if err := tx.WriteInventory(ctx, pid, 0); err != nil {
				return err
			}
			if err := tx.AppendOrder(ctx, o); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		rec, err := s.GetInventory(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, 5, rec.StockCount)

		_, err = s.GetOrder(ctx, o.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing record reports not found", func(t *testing.T) {
		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.ReadInventory(ctx, uniqueID("missing"))
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("write without read is rejected", func(t *testing.T) {
		pid := uniqueID("prod")
		require.NoError(t, s.PutInventory(ctx, pid, 5))

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			return tx.WriteInventory(ctx, pid, 1)
		})
		assert.ErrorIs(t, err, ErrNotRead)
	})

	t.Run("negative stock is rejected", func(t *testing.T) {
		pid := uniqueID("prod")
		require.NoError(t, s.PutInventory(ctx, pid, 1))

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.ReadInventory(ctx, pid); err != nil {
				return err
			}
			return tx.WriteInventory(ctx, pid, -1)
		})
		assert.ErrorIs(t, err, ErrNegativeStock)
	})

	t.Run("concurrent modification after read conflicts", func(t *testing.T) {
		pid := uniqueID("prod")
		require.NoError(t, s.PutInventory(ctx, pid, 10))
		o := testOrder(uniqueID("user"), time.Now())

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			rec, err := tx.ReadInventory(ctx, pid)
			if err != nil {
				return err
			}
			// another writer commits in between
			if err := s.PutInventory(ctx, pid, 4); err != nil {
				return err
			}
			if err := tx.WriteInventory(ctx, pid, rec.StockCount-1); err != nil {
				return err
			}
			return tx.AppendOrder(ctx, o)
		})
		require.ErrorIs(t, err, ErrConflict)

		rec, err := s.GetInventory(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, 4, rec.StockCount)

		_, err = s.GetOrder(ctx, o.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("read-only record changed conflicts", func(t *testing.T) {
		readOnly := uniqueID("prod")
		written := uniqueID("prod")
		require.NoError(t, s.PutInventory(ctx, readOnly, 3))
		require.NoError(t, s.PutInventory(ctx, written, 3))

		err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.ReadInventory(ctx, readOnly); err != nil {
				return err
			}
			rec, err := tx.ReadInventory(ctx, written)
			if err != nil {
				return err
			}
			if err := s.PutInventory(ctx, readOnly, 0); err != nil {
				return err
			}
			return tx.WriteInventory(ctx, written, rec.StockCount-1)
		})
		require.ErrorIs(t, err, ErrConflict)

		rec, err := s.GetInventory(ctx, written)
		require.NoError(t, err)
		assert.Equal(t, 3, rec.StockCount)
	})

	t.Run("orders listed newest first", func(t *testing.T) {
		userID := uniqueID("user")
		base := time.Now().Add(-time.Hour)
		older := testOrder(userID, base)
		newer := testOrder(userID, base.Add(10*time.Minute))

		for _, o := range []order.Order{older, newer} {
			o := o
			require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
				return tx.AppendOrder(ctx, o)
			}))
		}

		orders, err := s.ListOrdersByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, newer.ID, orders[0].ID)
		assert.Equal(t, older.ID, orders[1].ID)

		none, err := s.ListOrdersByUser(ctx, uniqueID("nobody"))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("concurrent decrements never oversell", func(t *testing.T) {
		pid := uniqueID("prod")
		const initial = 5
		const workers = 12
		require.NoError(t, s.PutInventory(ctx, pid, initial))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for attempt := 0; attempt < 20; attempt++ {
					err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
						rec, err := tx.ReadInventory(ctx, pid)
						if err != nil {
							return err
						}
						if !rec.CanFulfil(1) {
							return errSoldOut
						}
						if err := tx.WriteInventory(ctx, pid, rec.StockCount-1); err != nil {
							return err
						}
						return tx.AppendOrder(ctx, testOrder(uniqueID("user"), time.Now()))
					})
					if errors.Is(err, ErrConflict) {
						continue
					}
					if err == nil {
						mu.Lock()
						successes++
						mu.Unlock()
					}
					return
				}
			}()
		}
		wg.Wait()

		rec, err := s.GetInventory(ctx, pid)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.StockCount, 0)
		assert.Equal(t, initial, rec.StockCount+successes)
	})
}

var errSoldOut = errors.New("sold out")
