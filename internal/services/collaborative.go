package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/pkg/models"
)

const (
	decayRate           = 0.8
	decayPeriodDays     = 30.0
	timeScoreWeight     = 0.7
	popularityWeight    = 0.3
	popularityNormalize = 10.0
)

// CollaborativeGenerator proposes products bought recently by customers whose
// category history overlaps the target's.
type CollaborativeGenerator struct {
	store  RecommendationStore
	config *config.RecommendationConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewCollaborativeGenerator creates a collaborative candidate generator.
func NewCollaborativeGenerator(store RecommendationStore, cfg *config.RecommendationConfig, logger *logrus.Logger) *CollaborativeGenerator {
	return &CollaborativeGenerator{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// SimilarCustomers returns the ids of customers sharing at least
// threshold × |target categories| distinct categories with the target, ordered
// by overlap desc then id, capped by configuration.
func (g *CollaborativeGenerator) SimilarCustomers(ctx context.Context, prefs *CustomerPreferences, threshold float64) ([]string, error) {
	if len(prefs.PurchasedCategories) == 0 {
		return nil, nil
	}

	overlaps, err := g.store.ListCustomersByOverlap(ctx, prefs.CustomerID, prefs.PurchasedCategories)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list overlapping customers: %w", err)
	}

	required := math.Max(1, threshold*float64(len(prefs.PurchasedCategories)))

	matches := make([]models.CustomerOverlap, 0, len(overlaps))
	for _, o := range overlaps {
		if o.CustomerID == prefs.CustomerID {
			continue
		}
		if float64(o.OverlappingCategories) < required {
			continue
		}
		matches = append(matches, o)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].OverlappingCategories != matches[j].OverlappingCategories {
			return matches[i].OverlappingCategories > matches[j].OverlappingCategories
		}
		return matches[i].CustomerID < matches[j].CustomerID
	})

	if limit := g.config.MaxSimilarCustomers; limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.CustomerID
	}
	return ids, nil
}

type cohortAggregate struct {
	productID string
	count     int
	daysSum   float64
}

func (a *cohortAggregate) daysAgo() float64 {
	return a.daysSum / float64(a.count)
}

func (a *cohortAggregate) rankingKey() float64 {
	return float64(a.count) * math.Pow(decayRate, a.daysAgo()/decayPeriodDays)
}

// Candidates returns up to the configured number of collaborative candidates.
func (g *CollaborativeGenerator) Candidates(ctx context.Context, prefs *CustomerPreferences) ([]ScoredCandidate, error) {
	cohort, err := g.SimilarCustomers(ctx, prefs, g.config.SimilarityThreshold)
	if err != nil {
		return nil, err
	}

	if len(cohort) == 0 {
		g.logger.WithField("customer_id", prefs.CustomerID).Warn("No similar customers found, skipping collaborative candidates")
		return nil, nil
	}

	now := g.now()
	since := now.Add(-g.config.CollaborativeWindow)

	purchases, err := g.store.GetCohortPurchases(ctx, cohort, since)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cohort purchases: %w", err)
	}

	aggregates := make(map[string]*cohortAggregate)
	for _, p := range purchases {
		if p.Date.Before(since) || prefs.Owns(p.ProductID) {
			continue
		}
		a, ok := aggregates[p.ProductID]
		if !ok {
			a = &cohortAggregate{productID: p.ProductID}
			aggregates[p.ProductID] = a
		}
		a.count++
		a.daysSum += daysBetween(p.Date, now)
	}

	ranked := make([]*cohortAggregate, 0, len(aggregates))
	for _, a := range aggregates {
		ranked = append(ranked, a)
	}
	sort.Slice(ranked, func(i, j int) bool {
		ki, kj := ranked[i].rankingKey(), ranked[j].rankingKey()
		if ki != kj {
			return ki > kj
		}
		return ranked[i].productID < ranked[j].productID
	})
	if limit := g.config.MaxCollaborative; limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	candidates := make([]ScoredCandidate, 0, len(ranked))
	for _, a := range ranked {
		product, err := g.store.GetProduct(ctx, a.productID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				g.logger.WithField("product_id", a.productID).Warn("Collaborative candidate missing from catalog")
				continue
			}
			return nil, fmt.Errorf("failed to load product %s: %w", a.productID, err)
		}

		candidates = append(candidates, ScoredCandidate{
			ProductID: a.productID,
			Product:   *product,
			Score:     CollaborativeScore(a.count, a.daysAgo()),
			Source:    SourceCollaborative,
		})
	}

	g.logger.WithFields(logrus.Fields{
		"customer_id": prefs.CustomerID,
		"cohort_size": len(cohort),
		"candidates":  len(candidates),
	}).Debug("Generated collaborative candidates")

	return candidates, nil
}

// CollaborativeScore is 0.7·0.8^(days/30) + 0.3·min(count/10, 1).
func CollaborativeScore(purchaseCount int, daysAgo float64) float64 {
	timeScore := math.Pow(decayRate, daysAgo/decayPeriodDays)
	popularity := math.Min(float64(purchaseCount)/popularityNormalize, 1)
	return timeScoreWeight*timeScore + popularityWeight*popularity
}
