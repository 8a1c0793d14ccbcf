package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps inventory as hashes and orders as JSON strings.
//
// Layout:
//
//	inventory:{productID}   hash  stock_count, version
//	order:{orderID}         string  order JSON
//	user:{userID}:orders    zset  orderID scored by created_at
//
// Every key a transaction reads is WATCHed before the read, and buffered
// writes are applied in one MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedis opens a client and checks the server answers.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return client, nil
}

func inventoryKey(productID string) string {
	return fmt.Sprintf("inventory:%s", productID)
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

func userOrdersKey(userID string) string {
	return fmt.Sprintf("user:%s:orders", userID)
}

type redisTx struct {
	tx     *redis.Tx
	reads  map[string]readMark
	writes map[string]int
	orders []order.Order
}

func (s *RedisStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var fnErr error
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		tx := &redisTx{
			tx:     rtx,
			reads:  make(map[string]readMark),
			writes: make(map[string]int),
		}
		if err := fn(ctx, tx); err != nil {
			fnErr = err
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(tx.writes) == 0 && len(tx.orders) == 0 {
			return nil
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, stock := range tx.writes {
				pipe.HSet(ctx, inventoryKey(id), "stock_count", stock)
				pipe.HIncrBy(ctx, inventoryKey(id), "version", 1)
			}
			for _, o := range tx.orders {
				data, err := json.Marshal(o)
				if err != nil {
					return err
				}
				pipe.Set(ctx, orderKey(o.ID), data, 0)
				pipe.ZAdd(ctx, userOrdersKey(o.UserID), redis.Z{
					Score:  float64(o.CreatedAt.UnixMilli()),
					Member: o.ID,
				})
			}
			return nil
		})
		return err
	})
	if fnErr != nil {
		return fnErr
	}
	return classifyRedisError(err)
}

func parseInventory(productID string, fields map[string]string) (inventory.Record, error) {
	stock, err := strconv.Atoi(fields["stock_count"])
	if err != nil {
		return inventory.Record{}, fmt.Errorf("inventory %s: bad stock_count: %w", productID, err)
	}
	version, err := strconv.Atoi(fields["version"])
	if err != nil {
		return inventory.Record{}, fmt.Errorf("inventory %s: bad version: %w", productID, err)
	}
	return inventory.Record{ProductID: productID, StockCount: stock, Version: version}, nil
}

func (tx *redisTx) ReadInventory(ctx context.Context, productID string) (inventory.Record, error) {
	if stock, ok := tx.writes[productID]; ok {
		return inventory.Record{ProductID: productID, StockCount: stock, Version: tx.reads[productID].version}, nil
	}

	key := inventoryKey(productID)
	if _, seen := tx.reads[productID]; !seen {
		if err := tx.tx.Watch(ctx, key).Err(); err != nil {
			return inventory.Record{}, classifyRedisError(err)
		}
	}

	fields, err := tx.tx.HGetAll(ctx, key).Result()
	if err != nil {
		return inventory.Record{}, classifyRedisError(err)
	}
	if len(fields) == 0 {
		if _, seen := tx.reads[productID]; !seen {
			tx.reads[productID] = readMark{exists: false}
		}
		return inventory.Record{}, fmt.Errorf("inventory %s: %w", productID, ErrNotFound)
	}

	r, err := parseInventory(productID, fields)
	if err != nil {
		return inventory.Record{}, err
	}
	if _, seen := tx.reads[productID]; !seen {
		tx.reads[productID] = readMark{exists: true, version: r.Version}
	}
	return r, nil
}

func (tx *redisTx) WriteInventory(ctx context.Context, productID string, newStockCount int) error {
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

// AppendOrder watches the order key so a concurrent insert of the same id aborts EXEC.
func (tx *redisTx) AppendOrder(ctx context.Context, o order.Order) error {
	key := orderKey(o.ID)
	if err := tx.tx.Watch(ctx, key).Err(); err != nil {
		return classifyRedisError(err)
	}
	n, err := tx.tx.Exists(ctx, key).Result()
	if err != nil {
		return classifyRedisError(err)
	}
	if n > 0 {
		return fmt.Errorf("order %s already exists: %w", o.ID, ErrConflict)
	}
	tx.orders = append(tx.orders, o)
	return nil
}

// PutInventory creates or overwrites a record. HINCRBY starts a missing version at 1.
func (s *RedisStore) PutInventory(ctx context.Context, productID string, stockCount int) error {
	if stockCount < 0 {
		return ErrNegativeStock
	}
	key := inventoryKey(productID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "stock_count", stockCount)
		pipe.HIncrBy(ctx, key, "version", 1)
		return nil
	})
	return classifyRedisError(err)
}

func (s *RedisStore) GetInventory(ctx context.Context, productID string) (inventory.Record, error) {
	fields, err := s.client.HGetAll(ctx, inventoryKey(productID)).Result()
	if err != nil {
		return inventory.Record{}, classifyRedisError(err)
	}
	if len(fields) == 0 {
		return inventory.Record{}, ErrNotFound
	}
	return parseInventory(productID, fields)
}

func (s *RedisStore) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	data, err := s.client.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return order.Order{}, ErrNotFound
	}
	if err != nil {
		return order.Order{}, classifyRedisError(err)
	}

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return order.Order{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return o, nil
}

func (s *RedisStore) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	ids, err := s.client.ZRevRange(ctx, userOrdersKey(userID), 0, -1).Result()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	orders := make([]order.Order, 0, len(ids))
	if len(ids) == 0 {
		return orders, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = orderKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classifyRedisError(err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var o order.Order
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", ids[i], err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// classifyRedisError maps an aborted EXEC to ErrConflict. Server replies pass
// through; anything else is a transport failure.
func classifyRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
