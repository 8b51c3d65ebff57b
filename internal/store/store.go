// Package store provides the persistence adapters behind the recommendation
// engine: a PostgreSQL store for production and an in-memory store for tests
// and demos.
package store

import (
	"context"

	"github.com/temcen/hybridrec/pkg/models"
)

// Batch is one unit of imported data.
type Batch struct {
	Customers []models.Customer
	Products  []models.Product
	Purchases []models.Purchase
}

// Size returns the number of records in the batch.
func (b Batch) Size() int {
	return len(b.Customers) + len(b.Products) + len(b.Purchases)
}

// Importer writes a batch atomically.
type Importer interface {
	Import(ctx context.Context, batch Batch) error
}
