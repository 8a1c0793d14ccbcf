package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresCatalog reads the products table joined with current inventory.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) GetProduct(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := c.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.price, COALESCE(i.stock_count, 0)
		FROM products p
		LEFT JOIN inventory i ON i.product_id = p.id
		WHERE p.id = $1
	`, productID).Scan(&p.ID, &p.Name, &p.Price, &p.CurrentStock)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product %s: %w", productID, err)
	}
	return p, nil
}

// UpsertProduct seeds a product row. Used by development seeding only.
func (c *PostgresCatalog) UpsertProduct(ctx context.Context, p Product) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price
	`, p.ID, p.Name, p.Price)
	return err
}
