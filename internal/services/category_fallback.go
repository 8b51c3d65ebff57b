package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/pkg/models"
)

// CategoryFallbackGenerator proposes popular products the customer does not own
// from the customer's strongest categories.
type CategoryFallbackGenerator struct {
	store  RecommendationStore
	config *config.RecommendationConfig
	logger *logrus.Logger
}

// NewCategoryFallbackGenerator creates a category fallback generator.
func NewCategoryFallbackGenerator(store RecommendationStore, cfg *config.RecommendationConfig, logger *logrus.Logger) *CategoryFallbackGenerator {
	return &CategoryFallbackGenerator{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Candidates returns up to ProductsPerCategory products for each of the top
// categories. A product can appear under more than one category.
func (g *CategoryFallbackGenerator) Candidates(ctx context.Context, prefs *CustomerPreferences) ([]ScoredCandidate, error) {
	var candidates []ScoredCandidate

	for _, category := range prefs.TopCategories(g.config.TopCategories) {
		popular, err := g.store.GetCategoryPopularity(ctx, category)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load popularity for category %s: %w", category, err)
		}

		unowned := make([]models.ProductPopularity, 0, len(popular))
		for _, p := range popular {
			if prefs.Owns(p.Product.ID) {
				continue
			}
			unowned = append(unowned, p)
		}

		sort.Slice(unowned, func(i, j int) bool {
			if unowned[i].PurchaseCount != unowned[j].PurchaseCount {
				return unowned[i].PurchaseCount > unowned[j].PurchaseCount
			}
			return unowned[i].Product.ID < unowned[j].Product.ID
		})

		if limit := g.config.ProductsPerCategory; limit > 0 && len(unowned) > limit {
			unowned = unowned[:limit]
		}

		for _, p := range unowned {
			candidates = append(candidates, ScoredCandidate{
				ProductID: p.Product.ID,
				Product:   p.Product,
				Score:     CategoryScore(p.PurchaseCount),
				Source:    SourceCategory,
			})
		}
	}

	g.logger.WithFields(logrus.Fields{
		"customer_id": prefs.CustomerID,
		"candidates":  len(candidates),
	}).Debug("Generated category fallback candidates")

	return candidates, nil
}

// CategoryScore is min(count/10, 1).
func CategoryScore(purchaseCount int) float64 {
	return math.Min(float64(purchaseCount)/popularityNormalize, 1)
}
