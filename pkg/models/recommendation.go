package models

import "time"

// RankedProduct is one row of the hybrid ranking returned to callers.
type RankedProduct struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Score     float64 `json:"score"`
}

// PersonalizedProduct is one row of a facet-filtered catalog ranking.
type PersonalizedProduct struct {
	ProductID   string  `json:"product_id"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Brand       string  `json:"brand"`
	Price       float64 `json:"price"`
}

// SimilarProduct is a product paired with its cosine similarity to a seed product.
type SimilarProduct struct {
	PersonalizedProduct
	Similarity float64 `json:"similarity"`
}

// PreferenceFilter carries the optional facets of a personalized request.
type PreferenceFilter struct {
	Categories []string  `json:"categories,omitempty" validate:"omitempty,dive,required"`
	Brands     []string  `json:"brands,omitempty" validate:"omitempty,dive,required"`
	PriceRange []float64 `json:"price_range,omitempty" validate:"omitempty,len=2"`
	Limit      int       `json:"limit,omitempty" validate:"gte=0,lte=100"`
}

type RecommendationResponse struct {
	CustomerID      string          `json:"customer_id"`
	Recommendations []RankedProduct `json:"recommendations"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

type PersonalizedResponse struct {
	Recommendations []PersonalizedProduct `json:"recommendations"`
	CatalogVersion  int64                 `json:"catalog_version"`
	CacheHit        bool                  `json:"cache_hit"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

type SimilarProductsResponse struct {
	ProductID      string           `json:"product_id"`
	Similar        []SimilarProduct `json:"similar"`
	CatalogVersion int64            `json:"catalog_version"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

type SeasonalResponse struct {
	Season          string                `json:"season"`
	Category        string                `json:"category,omitempty"`
	Recommendations []PersonalizedProduct `json:"recommendations"`
	CatalogVersion  int64                 `json:"catalog_version"`
	GeneratedAt     time.Time             `json:"generated_at"`
}
