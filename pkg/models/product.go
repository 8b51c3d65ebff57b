package models

import "time"

type Product struct {
	ID               string    `json:"product_id" db:"product_id" validate:"required"`
	Name             string    `json:"name" db:"name" validate:"required"`
	Category         string    `json:"category" db:"category" validate:"required"`
	Subcategory      string    `json:"subcategory" db:"subcategory"`
	Brand            string    `json:"brand" db:"brand" validate:"required"`
	Price            float64   `json:"price" db:"price" validate:"gte=0"`
	Rating           float64   `json:"product_rating" db:"rating"`
	AvgSimilarRating float64   `json:"avg_similar_rating" db:"avg_similar_rating"`
	Sentiment        float64   `json:"sentiment_score" db:"sentiment"`
	Season           string    `json:"season" db:"season"`
	Holiday          bool      `json:"holiday" db:"holiday"`
	Geography        string    `json:"geography" db:"geography"`
	UpdatedAt        time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// ProductPopularity pairs a product with its all-time purchase count.
type ProductPopularity struct {
	Product       Product `json:"product"`
	PurchaseCount int     `json:"purchase_count"`
}

type CatalogUpdateRequest struct {
	ProductID string   `json:"product_id" validate:"required"`
	Price     *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Product   *Product `json:"product,omitempty"`
}
