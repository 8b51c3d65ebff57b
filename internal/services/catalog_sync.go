package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/messaging"
	"github.com/temcen/hybridrec/pkg/models"
)

// CatalogSync applies price refreshes and product upserts to the store and
// republishes the similarity index afterwards.
type CatalogSync struct {
	writer   CatalogWriter
	index    CatalogIndexInterface
	validate *validator.Validate
	metrics  *Metrics
	logger   *logrus.Logger
}

func NewCatalogSync(writer CatalogWriter, index CatalogIndexInterface, metrics *Metrics, logger *logrus.Logger) *CatalogSync {
	return &CatalogSync{
		writer:   writer,
		index:    index,
		validate: validator.New(),
		metrics:  metrics,
		logger:   logger,
	}
}

// Apply writes one update and rebuilds the index. Malformed updates return
// models.ErrInvalidInput; a price refresh for an unknown product returns
// models.ErrNotFound.
func (s *CatalogSync) Apply(ctx context.Context, update models.CatalogUpdateRequest) error {
	eventType := messaging.EventPriceUpdate
	if update.Product != nil {
		eventType = messaging.EventProductUpsert
	}

	err := s.apply(ctx, update)
	s.observe(eventType, err)
	return err
}

// HandleEvent adapts Apply to the catalog feed consumer.
func (s *CatalogSync) HandleEvent(ctx context.Context, event messaging.CatalogEvent) error {
	s.logger.WithFields(logrus.Fields{
		"event_id":    event.EventID,
		"event_type":  event.Type,
		"product_id":  event.Update.ProductID,
		"retry_count": event.RetryCount,
	}).Debug("Applying catalog event")

	return s.Apply(ctx, event.Update)
}

func (s *CatalogSync) apply(ctx context.Context, update models.CatalogUpdateRequest) error {
	if update.Product != nil && update.Product.ID == "" {
		product := *update.Product
		product.ID = update.ProductID
		update.Product = &product
	}
	if err := s.validate.Struct(update); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	switch {
	case update.Product != nil:
		product := *update.Product
		if product.ID != update.ProductID {
			return fmt.Errorf("%w: product id %q does not match update id %q",
				models.ErrInvalidInput, product.ID, update.ProductID)
		}
		if update.Price != nil {
			product.Price = *update.Price
		}
		product.UpdatedAt = time.Now()
		if err := s.writer.UpsertProducts(ctx, []models.Product{product}); err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", product.ID, err)
		}

	case update.Price != nil:
		if err := s.writer.UpdateProductPrice(ctx, update.ProductID, *update.Price); err != nil {
			return fmt.Errorf("failed to update price of %s: %w", update.ProductID, err)
		}

	default:
		return fmt.Errorf("%w: update for %s carries neither price nor product",
			models.ErrInvalidInput, update.ProductID)
	}

	if _, err := s.index.Rebuild(ctx); err != nil {
		return fmt.Errorf("catalog updated but index rebuild failed: %w", err)
	}

	s.logger.WithField("product_id", update.ProductID).Info("Catalog update applied")
	return nil
}

func (s *CatalogSync) observe(eventType string, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.CatalogEvents.WithLabelValues(eventType, status).Inc()
}
