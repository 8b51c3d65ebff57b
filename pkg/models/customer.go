package models

import "time"

type Customer struct {
	ID               string    `json:"customer_id" db:"customer_id" validate:"required"`
	Age              int       `json:"age" db:"age" validate:"gte=0,lte=150"`
	Gender           string    `json:"gender" db:"gender" validate:"required,oneof=Male Female Other"`
	Location         string    `json:"location" db:"location" validate:"required"`
	RegistrationDate time.Time `json:"registration_date" db:"registration_date"`
}

type Purchase struct {
	CustomerID string    `json:"customer_id" db:"customer_id" validate:"required"`
	ProductID  string    `json:"product_id" db:"product_id" validate:"required"`
	Date       time.Time `json:"purchase_date" db:"purchase_date" validate:"required"`
	Price      float64   `json:"price" db:"price" validate:"gte=0"`

	// Category is joined from the product row; it is not part of the purchase record.
	Category string `json:"category,omitempty" db:"category"`
}

// CustomerOverlap counts the distinct categories another customer shares with a target.
type CustomerOverlap struct {
	CustomerID            string `json:"customer_id"`
	OverlappingCategories int    `json:"overlapping_categories"`
}
