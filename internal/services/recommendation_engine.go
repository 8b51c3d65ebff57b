package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/internal/ml"
	"github.com/temcen/hybridrec/pkg/models"
)

// Personalized ranking weights.
const (
	personalizedRatingWeight     = 0.4
	personalizedSentimentWeight  = 0.3
	personalizedSimilarityWeight = 0.3
)

// RecommendationEngine wires the preference model, both candidate generators,
// the ranker and the shared catalog index.
type RecommendationEngine struct {
	preferences   PreferenceSource
	collaborative Recommender
	category      Recommender
	ranker        *HybridRanker
	catalog       CatalogIndexInterface
	cache         *ResultCache
	config        *config.RecommendationConfig
	metrics       *Metrics
	logger        *logrus.Logger
	now           func() time.Time
}

// NewRecommendationEngine creates an engine from its parts.
func NewRecommendationEngine(
	preferences PreferenceSource,
	collaborative Recommender,
	category Recommender,
	ranker *HybridRanker,
	catalog CatalogIndexInterface,
	cache *ResultCache,
	cfg *config.RecommendationConfig,
	metrics *Metrics,
	logger *logrus.Logger,
) *RecommendationEngine {
	return &RecommendationEngine{
		preferences:   preferences,
		collaborative: collaborative,
		category:      category,
		ranker:        ranker,
		catalog:       catalog,
		cache:         cache,
		config:        cfg,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// GetRecommendations returns up to MaxRecommendations products for a customer.
// An empty list is a valid result.
func (e *RecommendationEngine) GetRecommendations(ctx context.Context, customerID string) (ranked []models.RankedProduct, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveRequest("recommendations", start, err) }()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", models.ErrInvalidInput)
	}

	prefs, err := e.preferences.Build(ctx, customerID)
	if errors.Is(err, models.ErrNotFound) {
		e.logger.WithField("customer_id", customerID).Warn("Unknown customer, no recommendations")
		return []models.RankedProduct{}, nil
	}
	if err != nil {
		return nil, err
	}

	var collaborative, category []ScoredCandidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		collaborative, err = e.collaborative.Candidates(gctx, prefs)
		return err
	})
	g.Go(func() error {
		var err error
		category, err = e.category.Candidates(gctx, prefs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked = e.ranker.Rank(collaborative, category)

	e.logger.WithFields(logrus.Fields{
		"customer_id":     customerID,
		"cold_start":      prefs.ColdStart,
		"collaborative":   len(collaborative),
		"category":        len(category),
		"recommendations": len(ranked),
	}).Info("Generated recommendations")

	return ranked, nil
}

// GetPersonalizedRecommendations filters the catalog snapshot by the optional
// facets and ranks by 0.4·rating + 0.3·sentiment + 0.3·avg similar rating.
func (e *RecommendationEngine) GetPersonalizedRecommendations(ctx context.Context, filter models.PreferenceFilter) (resp *models.PersonalizedResponse, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveRequest("personalized", start, err) }()

	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	idx, err := e.catalog.Current()
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit == 0 {
		limit = e.config.PersonalizedLimit
	}

	key := e.cache.Key("personalized", idx.SnapshotID(), filterKey(filter), limit)
	var cached models.PersonalizedResponse
	if e.cache.Get(ctx, key, &cached) {
		cached.CacheHit = true
		return &cached, nil
	}

	categories := toSet(filter.Categories)
	brands := toSet(filter.Brands)

	type scored struct {
		product models.Product
		score   float64
	}
	var matches []scored
	for _, p := range idx.Products() {
		if len(categories) > 0 {
			if _, ok := categories[p.Category]; !ok {
				continue
			}
		}
		if len(brands) > 0 {
			if _, ok := brands[p.Brand]; !ok {
				continue
			}
		}
		if len(filter.PriceRange) == 2 && (p.Price < filter.PriceRange[0] || p.Price > filter.PriceRange[1]) {
			continue
		}
		matches = append(matches, scored{
			product: p,
			score: personalizedRatingWeight*p.Rating +
				personalizedSentimentWeight*p.Sentiment +
				personalizedSimilarityWeight*p.AvgSimilarRating,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].product.ID < matches[j].product.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	if len(matches) == 0 {
		e.logger.WithFields(logrus.Fields{
			"categories":  filter.Categories,
			"brands":      filter.Brands,
			"price_range": filter.PriceRange,
		}).Info("No products match personalized filter")
	}

	resp = &models.PersonalizedResponse{
		Recommendations: make([]models.PersonalizedProduct, len(matches)),
		CatalogVersion:  idx.Version(),
		GeneratedAt:     e.now(),
	}
	for i, m := range matches {
		resp.Recommendations[i] = toPersonalized(m.product)
	}

	e.cache.Set(ctx, key, resp)
	return resp, nil
}

// GetSimilarProducts returns the products most similar to productID. An
// unknown product yields an empty list.
func (e *RecommendationEngine) GetSimilarProducts(ctx context.Context, productID string, count int) (resp *models.SimilarProductsResponse, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveRequest("similar", start, err) }()

	if count < 0 {
		return nil, fmt.Errorf("%w: count must not be negative", models.ErrInvalidInput)
	}
	if count == 0 {
		count = e.config.SimilarLimit
	}

	idx, err := e.catalog.Current()
	if err != nil {
		return nil, err
	}

	key := e.cache.Key("similar", idx.SnapshotID(), productID, count)
	var cached models.SimilarProductsResponse
	if e.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	similar := idx.Similar(productID, count)
	resp = &models.SimilarProductsResponse{
		ProductID:      productID,
		Similar:        make([]models.SimilarProduct, len(similar)),
		CatalogVersion: idx.Version(),
		GeneratedAt:    e.now(),
	}
	for i, s := range similar {
		resp.Similar[i] = models.SimilarProduct{
			PersonalizedProduct: toPersonalized(s.Product),
			Similarity:          s.Similarity,
		}
	}

	e.cache.Set(ctx, key, resp)
	return resp, nil
}

// GetSeasonalRecommendations ranks products of a season, defaulting to the
// season of the current month.
func (e *RecommendationEngine) GetSeasonalRecommendations(ctx context.Context, season, category string, count int) (resp *models.SeasonalResponse, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveRequest("seasonal", start, err) }()

	if count < 0 {
		return nil, fmt.Errorf("%w: count must not be negative", models.ErrInvalidInput)
	}
	if count == 0 {
		count = e.config.SeasonalLimit
	}
	if season == "" {
		season = ml.SeasonForMonth(e.now().Month())
	}

	idx, err := e.catalog.Current()
	if err != nil {
		return nil, err
	}

	key := e.cache.Key("seasonal", idx.SnapshotID(), season, category, count)
	var cached models.SeasonalResponse
	if e.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	seasonal := idx.Seasonal(season, count, category)
	resp = &models.SeasonalResponse{
		Season:          season,
		Category:        category,
		Recommendations: make([]models.PersonalizedProduct, len(seasonal)),
		CatalogVersion:  idx.Version(),
		GeneratedAt:     e.now(),
	}
	for i, s := range seasonal {
		resp.Recommendations[i] = toPersonalized(s.Product)
	}

	e.cache.Set(ctx, key, resp)
	return resp, nil
}

func validateFilter(f models.PreferenceFilter) error {
	if f.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", models.ErrInvalidInput)
	}
	switch len(f.PriceRange) {
	case 0:
		return nil
	case 2:
	default:
		return fmt.Errorf("%w: price range needs exactly two values", models.ErrInvalidInput)
	}

	lo, hi := f.PriceRange[0], f.PriceRange[1]
	for _, v := range f.PriceRange {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: price range must be finite", models.ErrInvalidInput)
		}
		if v < 0 {
			return fmt.Errorf("%w: price range must not be negative", models.ErrInvalidInput)
		}
	}
	if lo > hi {
		return fmt.Errorf("%w: price range minimum %.2f exceeds maximum %.2f", models.ErrInvalidInput, lo, hi)
	}
	return nil
}

// filterKey canonicalises a filter for cache keys. Order within the lists does
// not matter; values are JSON-quoted so separators inside them cannot collide.
func filterKey(f models.PreferenceFilter) string {
	categories := append([]string(nil), f.Categories...)
	brands := append([]string(nil), f.Brands...)
	sort.Strings(categories)
	sort.Strings(brands)

	data, _ := json.Marshal(struct {
		Categories []string  `json:"c"`
		Brands     []string  `json:"b"`
		PriceRange []float64 `json:"p"`
	}{categories, brands, f.PriceRange})
	return string(data)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func toPersonalized(p models.Product) models.PersonalizedProduct {
	return models.PersonalizedProduct{
		ProductID:   p.ID,
		Category:    p.Category,
		Subcategory: p.Subcategory,
		Brand:       p.Brand,
		Price:       p.Price,
	}
}
