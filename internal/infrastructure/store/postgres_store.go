package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/example/storefront-checkout/internal/domain/inventory"
	"github.com/example/storefront-checkout/internal/domain/order"
	"github.com/lib/pq"
)

// PostgresStore keeps inventory and the order ledger in PostgreSQL.
//
// Reads inside a transaction take no row locks. At commit every written row is
// updated with a version predicate and every read-only row is re-checked under
// FOR SHARE, in sorted product order.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

type postgresTx struct {
	tx     *sql.Tx
	reads  map[string]readMark
	writes map[string]int
	orders []order.Order
}

func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPostgresError(err)
	}

	tx := &postgresTx{
		tx:     sqlTx,
		reads:  make(map[string]readMark),
		writes: make(map[string]int),
	}
	if err := fn(ctx, tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := tx.flush(ctx); err != nil {
		sqlTx.Rollback()
		return classifyPostgresError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

func (tx *postgresTx) ReadInventory(ctx context.Context, productID string) (inventory.Record, error) {
	if stock, ok := tx.writes[productID]; ok {
		return inventory.Record{ProductID: productID, StockCount: stock, Version: tx.reads[productID].version}, nil
	}

	r := inventory.Record{ProductID: productID}
	err := tx.tx.QueryRowContext(ctx,
		"SELECT stock_count, version FROM inventory WHERE product_id = $1",
		productID,
	).Scan(&r.StockCount, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, seen := tx.reads[productID]; !seen {
			tx.reads[productID] = readMark{exists: false}
		}
		return inventory.Record{}, fmt.Errorf("inventory %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return inventory.Record{}, classifyPostgresError(err)
	}

	if _, seen := tx.reads[productID]; !seen {
		tx.reads[productID] = readMark{exists: true, version: r.Version}
	}
	return r, nil
}

func (tx *postgresTx) WriteInventory(ctx context.Context, productID string, newStockCount int) error {
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

func (tx *postgresTx) AppendOrder(ctx context.Context, o order.Order) error {
	tx.orders = append(tx.orders, o)
	return nil
}

// flush applies the buffered writes and validates the read set.
func (tx *postgresTx) flush(ctx context.Context) error {
	ids := make([]string, 0, len(tx.reads))
	for id := range tx.reads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		mark := tx.reads[id]
		if stock, ok := tx.writes[id]; ok {
			res, err := tx.tx.ExecContext(ctx,
				`UPDATE inventory SET stock_count = $1, version = version + 1, updated_at = NOW()
				 WHERE product_id = $2 AND version = $3`,
				stock, id, mark.version,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("inventory %s: %w", id, ErrConflict)
			}
			continue
		}

		var version int
		err := tx.tx.QueryRowContext(ctx,
			"SELECT version FROM inventory WHERE product_id = $1 FOR SHARE",
			id,
		).Scan(&version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if mark.exists {
				return fmt.Errorf("inventory %s: %w", id, ErrConflict)
			}
		case err != nil:
			return err
		case !mark.exists || version != mark.version:
			return fmt.Errorf("inventory %s: %w", id, ErrConflict)
		}
	}

	for _, o := range tx.orders {
		if err := insertOrder(ctx, tx.tx, o); err != nil {
			return err
		}
	}
	return nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, o order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, items, total_amount, shipping_address, payment_method, payment_reference, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID,
		o.UserID,
		items,
		o.TotalAmount,
		shipping,
		string(o.PaymentDetails.Method),
		o.PaymentDetails.Reference,
		string(o.Status),
		o.CreatedAt,
	)
	return err
}

// PutInventory creates or overwrites a record, bumping its version.
func (s *PostgresStore) PutInventory(ctx context.Context, productID string, stockCount int) error {
	if stockCount < 0 {
		return ErrNegativeStock
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (product_id, stock_count, version)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (product_id) DO UPDATE
		 SET stock_count = EXCLUDED.stock_count, version = inventory.version + 1, updated_at = NOW()`,
		productID, stockCount,
	)
	return classifyPostgresError(err)
}

func (s *PostgresStore) GetInventory(ctx context.Context, productID string) (inventory.Record, error) {
	r := inventory.Record{ProductID: productID}
	err := s.db.QueryRowContext(ctx,
		"SELECT stock_count, version FROM inventory WHERE product_id = $1",
		productID,
	).Scan(&r.StockCount, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Record{}, ErrNotFound
	}
	if err != nil {
		return inventory.Record{}, classifyPostgresError(err)
	}
	return r, nil
}

const orderColumns = `id, user_id, items, total_amount, shipping_address, payment_method, payment_reference, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		o        order.Order
		items    []byte
		shipping []byte
		method   string
		status   string
	)
	if err := row.Scan(&o.ID, &o.UserID, &items, &o.TotalAmount, &shipping, &method, &o.PaymentDetails.Reference, &status, &o.CreatedAt); err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return order.Order{}, fmt.Errorf("decode shipping address of order %s: %w", o.ID, err)
	}
	o.PaymentDetails.Method = order.PaymentMethod(method)
	o.Status = order.Status(status)
	return o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, ErrNotFound
	}
	if err != nil {
		return order.Order{}, classifyPostgresError(err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	defer rows.Close()

	orders := make([]order.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, classifyPostgresError(rows.Err())
}

// classifyPostgresError maps driver failures onto the store sentinels.
// Context errors and errors that already carry a sentinel pass through.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "23505":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
