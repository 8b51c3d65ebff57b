package services

import (
	"context"
	"time"

	"github.com/temcen/hybridrec/internal/ml"
	"github.com/temcen/hybridrec/pkg/models"
)

// RecommendationStore is the read side the scoring engine consumes. Stores
// return models.ErrNotFound for unknown ids.
type RecommendationStore interface {
	GetCustomer(ctx context.Context, customerID string) (*models.Customer, error)
	GetCustomerPurchases(ctx context.Context, customerID string, since time.Time) ([]models.Purchase, error)
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error)
	ListCatalog(ctx context.Context) ([]models.Product, error)
	GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error)
	GetCategoryPopularity(ctx context.Context, category string) ([]models.ProductPopularity, error)
}

// CatalogWriter applies catalog feed events to the store.
type CatalogWriter interface {
	UpdateProductPrice(ctx context.Context, productID string, price float64) error
	UpsertProducts(ctx context.Context, products []models.Product) error
}

// CatalogLister is the subset of the store needed to build a similarity index.
type CatalogLister interface {
	ListCatalog(ctx context.Context) ([]models.Product, error)
}

// PreferenceSource produces the weighted category preferences of a customer.
type PreferenceSource interface {
	Build(ctx context.Context, customerID string) (*CustomerPreferences, error)
}

// Recommender turns customer preferences into scored candidates.
type Recommender interface {
	Candidates(ctx context.Context, prefs *CustomerPreferences) ([]ScoredCandidate, error)
}

// RecommendationEngineInterface is the surface exposed to the HTTP layer.
type RecommendationEngineInterface interface {
	GetRecommendations(ctx context.Context, customerID string) ([]models.RankedProduct, error)
	GetPersonalizedRecommendations(ctx context.Context, filter models.PreferenceFilter) (*models.PersonalizedResponse, error)
	GetSimilarProducts(ctx context.Context, productID string, count int) (*models.SimilarProductsResponse, error)
	GetSeasonalRecommendations(ctx context.Context, season, category string, count int) (*models.SeasonalResponse, error)
}

// CatalogIndexInterface exposes the shared similarity snapshot.
type CatalogIndexInterface interface {
	Current() (*ml.SimilarityIndex, error)
	Rebuild(ctx context.Context) (*ml.SimilarityIndex, error)
}
