package store

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/pkg/models"
)

const (
	overlapCypher = `
		MATCH (c:Customer)-[:PURCHASED]->(p:Product)
		WHERE c.id <> $customer_id AND p.category IN $categories
		RETURN c.id AS customer_id, count(DISTINCT p.category) AS overlap
		ORDER BY overlap DESC, customer_id`

	cohortCypher = `
		MATCH (c:Customer)-[r:PURCHASED]->(p:Product)
		WHERE c.id IN $customer_ids AND ($since IS NULL OR r.date >= $since)
		RETURN c.id AS customer_id, p.id AS product_id, r.date AS purchase_date,
			r.price AS price, p.category AS category`

	projectProductsCypher = `
		UNWIND $products AS row
		MERGE (p:Product {id: row.id})
		SET p.category = row.category`

	projectPurchasesCypher = `
		UNWIND $purchases AS row
		MERGE (c:Customer {id: row.customer_id})
		MERGE (p:Product {id: row.product_id})
		MERGE (c)-[r:PURCHASED {date: row.date}]->(p)
		SET r.price = row.price`
)

type cypherRead func(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error)

type cypherWrite func(ctx context.Context, cypher string, params map[string]interface{}) error

// PurchaseGraph keeps purchases in Neo4j as
// (:Customer {id})-[:PURCHASED {date, price}]->(:Product {id, category})
// and answers the co-purchase reads of collaborative filtering from it.
type PurchaseGraph struct {
	logger *logrus.Logger
	read   cypherRead
	write  cypherWrite
}

func NewPurchaseGraph(driver neo4j.DriverWithContext, logger *logrus.Logger) *PurchaseGraph {
	return &PurchaseGraph{
		logger: logger,
		read: func(ctx context.Context, cypher string, params map[string]interface{}) ([]*neo4j.Record, error) {
			session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
			defer session.Close(ctx)

			records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
				result, err := tx.Run(ctx, cypher, params)
				if err != nil {
					return nil, err
				}
				return result.Collect(ctx)
			})
			if err != nil {
				return nil, err
			}
			return records.([]*neo4j.Record), nil
		},
		write: func(ctx context.Context, cypher string, params map[string]interface{}) error {
			session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
			defer session.Close(ctx)

			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
				result, err := tx.Run(ctx, cypher, params)
				if err != nil {
					return nil, err
				}
				return result.Consume(ctx)
			})
			return err
		},
	}
}

func (g *PurchaseGraph) ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error) {
	records, err := g.read(ctx, overlapCypher, map[string]interface{}{
		"customer_id": customerID,
		"categories":  categories,
	})
	if err != nil {
		return nil, fmt.Errorf("graph overlap query failed: %w", err)
	}

	out := make([]models.CustomerOverlap, 0, len(records))
	for _, record := range records {
		id, err := recordValue[string](record, "customer_id")
		if err != nil {
			return nil, err
		}
		overlap, err := recordValue[int64](record, "overlap")
		if err != nil {
			return nil, err
		}
		out = append(out, models.CustomerOverlap{CustomerID: id, OverlappingCategories: int(overlap)})
	}
	return out, nil
}

func (g *PurchaseGraph) GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}

	var sinceParam interface{}
	if !since.IsZero() {
		sinceParam = since
	}

	records, err := g.read(ctx, cohortCypher, map[string]interface{}{
		"customer_ids": customerIDs,
		"since":        sinceParam,
	})
	if err != nil {
		return nil, fmt.Errorf("graph cohort query failed: %w", err)
	}

	out := make([]models.Purchase, 0, len(records))
	for _, record := range records {
		var p models.Purchase
		if p.CustomerID, err = recordValue[string](record, "customer_id"); err != nil {
			return nil, err
		}
		if p.ProductID, err = recordValue[string](record, "product_id"); err != nil {
			return nil, err
		}
		if p.Date, err = recordValue[time.Time](record, "purchase_date"); err != nil {
			return nil, err
		}
		if p.Price, err = recordValue[float64](record, "price"); err != nil {
			return nil, err
		}
		if p.Category, err = recordValue[string](record, "category"); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// UpsertProducts keeps product categories in the graph in step with the catalog.
func (g *PurchaseGraph) UpsertProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}

	rows := make([]map[string]interface{}, len(products))
	for i, p := range products {
		rows[i] = map[string]interface{}{"id": p.ID, "category": p.Category}
	}
	if err := g.write(ctx, projectProductsCypher, map[string]interface{}{"products": rows}); err != nil {
		return fmt.Errorf("failed to project products: %w", err)
	}
	return nil
}

// Import projects the products and purchases of a batch into the graph.
// Customers without purchases are not represented. Re-importing a batch is
// idempotent.
func (g *PurchaseGraph) Import(ctx context.Context, batch Batch) error {
	if err := g.UpsertProducts(ctx, batch.Products); err != nil {
		return err
	}
	if len(batch.Purchases) == 0 {
		return nil
	}

	rows := make([]map[string]interface{}, len(batch.Purchases))
	for i, p := range batch.Purchases {
		rows[i] = map[string]interface{}{
			"customer_id": p.CustomerID,
			"product_id":  p.ProductID,
			"date":        p.Date,
			"price":       p.Price,
		}
	}
	if err := g.write(ctx, projectPurchasesCypher, map[string]interface{}{"purchases": rows}); err != nil {
		return fmt.Errorf("failed to project purchases: %w", err)
	}

	g.logger.WithFields(logrus.Fields{
		"products":  len(batch.Products),
		"purchases": len(batch.Purchases),
	}).Info("Projected batch into purchase graph")
	return nil
}

func recordValue[T any](record *neo4j.Record, key string) (T, error) {
	var zero T
	raw, ok := record.Get(key)
	if !ok {
		return zero, fmt.Errorf("graph record has no %q", key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("graph record %q is %T", key, raw)
	}
	return v, nil
}
