package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/pkg/models"
)

// DatabaseQuerier is the subset of *pgxpool.Pool the store uses. pgxmock
// satisfies it in tests.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const productColumns = `pr.product_id, pr.name, pr.category, pr.subcategory, pr.brand, pr.price,
	pr.rating, pr.avg_similar_rating, pr.sentiment, pr.season, pr.holiday, pr.geography, pr.updated_at`

// PostgresStore reads and writes customers, products and purchases.
type PostgresStore struct {
	db     DatabaseQuerier
	logger *logrus.Logger
}

func NewPostgresStore(db DatabaseQuerier, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresStore) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	query := `SELECT customer_id, age, gender, location, registration_date FROM customers WHERE customer_id = $1`

	var c models.Customer
	err := s.db.QueryRow(ctx, query, customerID).Scan(&c.ID, &c.Age, &c.Gender, &c.Location, &c.RegistrationDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", customerID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("customer query failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCustomerPurchases(ctx context.Context, customerID string, since time.Time) ([]models.Purchase, error) {
	query := `
		SELECT p.customer_id, p.product_id, p.purchase_date, p.price, pr.category
		FROM purchases p
		JOIN products pr ON pr.product_id = p.product_id
		WHERE p.customer_id = $1 AND p.purchase_date >= $2
		ORDER BY p.purchase_date`

	rows, err := s.db.Query(ctx, query, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("customer purchases query failed: %w", err)
	}
	return scanPurchases(rows)
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products pr WHERE pr.product_id = $1`

	p, err := scanProduct(s.db.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("product query failed: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error) {
	query := `
		SELECT p.customer_id, COUNT(DISTINCT pr.category) AS overlap
		FROM purchases p
		JOIN products pr ON pr.product_id = p.product_id
		WHERE p.customer_id <> $1 AND pr.category = ANY($2)
		GROUP BY p.customer_id
		ORDER BY overlap DESC, p.customer_id`

	rows, err := s.db.Query(ctx, query, customerID, categories)
	if err != nil {
		return nil, fmt.Errorf("customer overlap query failed: %w", err)
	}
	defer rows.Close()

	var out []models.CustomerOverlap
	for rows.Next() {
		var o models.CustomerOverlap
		if err := rows.Scan(&o.CustomerID, &o.OverlappingCategories); err != nil {
			return nil, fmt.Errorf("failed to scan customer overlap: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListCatalog(ctx context.Context) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products pr ORDER BY pr.created_at, pr.product_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog query failed: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT p.customer_id, p.product_id, p.purchase_date, p.price, pr.category
		FROM purchases p
		JOIN products pr ON pr.product_id = p.product_id
		WHERE p.customer_id = ANY($1) AND p.purchase_date >= $2`

	rows, err := s.db.Query(ctx, query, customerIDs, since)
	if err != nil {
		return nil, fmt.Errorf("cohort purchases query failed: %w", err)
	}
	return scanPurchases(rows)
}

func (s *PostgresStore) GetCategoryPopularity(ctx context.Context, category string) ([]models.ProductPopularity, error) {
	query := `
		SELECT ` + productColumns + `, COUNT(p.product_id) AS purchase_count
		FROM products pr
		LEFT JOIN purchases p ON p.product_id = pr.product_id
		WHERE pr.category = $1
		GROUP BY pr.product_id
		ORDER BY purchase_count DESC, pr.product_id`

	rows, err := s.db.Query(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("category popularity query failed: %w", err)
	}
	defer rows.Close()

	var out []models.ProductPopularity
	for rows.Next() {
		var pp models.ProductPopularity
		p := &pp.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Subcategory, &p.Brand, &p.Price,
			&p.Rating, &p.AvgSimilarRating, &p.Sentiment, &p.Season, &p.Holiday, &p.Geography, &p.UpdatedAt,
			&pp.PurchaseCount); err != nil {
			return nil, fmt.Errorf("failed to scan category popularity: %w", err)
		}
		out = append(out, pp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProductPrice(ctx context.Context, productID string, price float64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE products SET price = $2, updated_at = now() WHERE product_id = $1`,
		productID, price)
	if err != nil {
		return fmt.Errorf("price update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertProducts(ctx context.Context, products []models.Product) error {
	return s.Import(ctx, Batch{Products: products})
}

// Import writes the batch in one transaction: customers, then products, then
// purchases.
func (s *PostgresStore) Import(ctx context.Context, batch Batch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import transaction: %w", err)
	}

	if err := writeBatch(ctx, tx, batch); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.WithError(rbErr).Warn("Failed to roll back import transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"customers": len(batch.Customers),
		"products":  len(batch.Products),
		"purchases": len(batch.Purchases),
	}).Info("Imported batch")

	return nil
}

func writeBatch(ctx context.Context, tx pgx.Tx, batch Batch) error {
	for _, c := range batch.Customers {
		if _, err := tx.Exec(ctx, upsertCustomerSQL,
			c.ID, c.Age, c.Gender, c.Location, registrationDate(c)); err != nil {
			return fmt.Errorf("failed to import customer %s: %w", c.ID, err)
		}
	}

	for _, p := range batch.Products {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Category, p.Subcategory, p.Brand, p.Price,
			p.Rating, p.AvgSimilarRating, p.Sentiment, p.Season, p.Holiday, p.Geography); err != nil {
			return fmt.Errorf("failed to import product %s: %w", p.ID, err)
		}
	}

	for _, p := range batch.Purchases {
		if _, err := tx.Exec(ctx, insertPurchaseSQL,
			p.CustomerID, p.ProductID, p.Date, p.Price); err != nil {
			return fmt.Errorf("failed to import purchase %s/%s: %w", p.CustomerID, p.ProductID, err)
		}
	}

	return nil
}

const upsertCustomerSQL = `
	INSERT INTO customers (customer_id, age, gender, location, registration_date)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (customer_id) DO UPDATE
	SET age = EXCLUDED.age, gender = EXCLUDED.gender, location = EXCLUDED.location`

const upsertProductSQL = `
	INSERT INTO products (product_id, name, category, subcategory, brand, price,
		rating, avg_similar_rating, sentiment, season, holiday, geography)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (product_id) DO UPDATE
	SET name = EXCLUDED.name, category = EXCLUDED.category, subcategory = EXCLUDED.subcategory,
		brand = EXCLUDED.brand, price = EXCLUDED.price, rating = EXCLUDED.rating,
		avg_similar_rating = EXCLUDED.avg_similar_rating, sentiment = EXCLUDED.sentiment,
		season = EXCLUDED.season, holiday = EXCLUDED.holiday, geography = EXCLUDED.geography,
		updated_at = now()`

const insertPurchaseSQL = `
	INSERT INTO purchases (customer_id, product_id, purchase_date, price)
	VALUES ($1, $2, $3, $4)`

func registrationDate(c models.Customer) time.Time {
	if c.RegistrationDate.IsZero() {
		return time.Now()
	}
	return c.RegistrationDate
}

func scanProduct(row pgx.Row) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Subcategory, &p.Brand, &p.Price,
		&p.Rating, &p.AvgSimilarRating, &p.Sentiment, &p.Season, &p.Holiday, &p.Geography, &p.UpdatedAt)
	return p, err
}

func scanPurchases(rows pgx.Rows) ([]models.Purchase, error) {
	defer rows.Close()

	var out []models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(&p.CustomerID, &p.ProductID, &p.Date, &p.Price, &p.Category); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
