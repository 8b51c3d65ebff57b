package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		customer_id       TEXT PRIMARY KEY,
		age               INTEGER NOT NULL,
		gender            TEXT NOT NULL,
		location          TEXT NOT NULL,
		registration_date TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		product_id         TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		category           TEXT NOT NULL,
		subcategory        TEXT NOT NULL DEFAULT '',
		brand              TEXT NOT NULL,
		price              DOUBLE PRECISION NOT NULL CHECK (price >= 0),
		rating             DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_similar_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		sentiment          DOUBLE PRECISION NOT NULL DEFAULT 0,
		season             TEXT NOT NULL DEFAULT '',
		holiday            BOOLEAN NOT NULL DEFAULT false,
		geography          TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		purchase_id   BIGSERIAL PRIMARY KEY,
		customer_id   TEXT NOT NULL REFERENCES customers(customer_id),
		product_id    TEXT NOT NULL REFERENCES products(product_id),
		purchase_date TIMESTAMPTZ NOT NULL,
		price         DOUBLE PRECISION NOT NULL CHECK (price >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_customer_date ON purchases (customer_id, purchase_date)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_product ON purchases (product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products (category)`,
}

// EnsureSchema creates the customers, products and purchases tables if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
