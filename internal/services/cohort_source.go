package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/pkg/models"
)

// CohortSource answers the co-purchase reads of collaborative filtering from a
// store other than the primary one, such as the Neo4j purchase graph.
type CohortSource interface {
	ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error)
	GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error)
	UpsertProducts(ctx context.Context, products []models.Product) error
}

type cohortStore struct {
	CatalogStore
	cohorts CohortSource
	logger  *logrus.Logger
}

// WithCohortSource serves the collaborative reads of base from cohorts. A
// failing cohort source falls back to base; product upserts reach both.
func WithCohortSource(base CatalogStore, cohorts CohortSource, logger *logrus.Logger) CatalogStore {
	return &cohortStore{CatalogStore: base, cohorts: cohorts, logger: logger}
}

func (s *cohortStore) ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error) {
	overlaps, err := s.cohorts.ListCustomersByOverlap(ctx, customerID, categories)
	if err == nil || ctx.Err() != nil {
		return overlaps, err
	}
	s.logger.WithError(err).WithField("customer_id", customerID).Warn("Cohort source failed, reading overlap from primary store")
	return s.CatalogStore.ListCustomersByOverlap(ctx, customerID, categories)
}

func (s *cohortStore) GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error) {
	purchases, err := s.cohorts.GetCohortPurchases(ctx, customerIDs, since)
	if err == nil || ctx.Err() != nil {
		return purchases, err
	}
	s.logger.WithError(err).WithField("cohort_size", len(customerIDs)).Warn("Cohort source failed, reading purchases from primary store")
	return s.CatalogStore.GetCohortPurchases(ctx, customerIDs, since)
}

// UpsertProducts writes the primary store first. The cohort source only keeps
// categories, so a failure there is logged rather than returned.
func (s *cohortStore) UpsertProducts(ctx context.Context, products []models.Product) error {
	if err := s.CatalogStore.UpsertProducts(ctx, products); err != nil {
		return err
	}
	if err := s.cohorts.UpsertProducts(ctx, products); err != nil {
		s.logger.WithError(err).WithField("products", len(products)).Warn("Failed to project products into cohort source")
	}
	return nil
}
