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

// Category weight constants. They are identical for every customer.
const (
	countWeight       = 0.5
	timeWeightFactor  = 0.3
	priceWeightFactor = 0.2
	countNormalizer   = 10.0
	priceNormalizer   = 100.0
	daysPerYear       = 365.0
)

// CategoryWeight is the derived affinity of one customer for one category.
type CategoryWeight struct {
	Category      string  `json:"category"`
	PurchaseCount int     `json:"purchase_count"`
	DaysAgo       float64 `json:"days_ago"`
	AvgPrice      float64 `json:"avg_price"`
	TimeWeight    float64 `json:"time_weight"`
	PriceWeight   float64 `json:"price_weight"`
	TotalWeight   float64 `json:"total_weight"`
}

// CustomerPreferences is the output of the preference model for one request.
type CustomerPreferences struct {
	CustomerID string

	// Weights covers the trailing preference window only.
	Weights map[string]CategoryWeight

	// Defaults is used when the window holds no purchases.
	Defaults map[string]float64

	// PurchasedCategories and OwnedProducts span the full history.
	PurchasedCategories []string
	OwnedProducts       map[string]struct{}

	ColdStart bool
}

// WeightedPreferences returns category -> total weight, or the default set on
// cold start.
func (p *CustomerPreferences) WeightedPreferences() map[string]float64 {
	if p.ColdStart {
		return copyWeights(p.Defaults)
	}
	out := make(map[string]float64, len(p.Weights))
	for category, w := range p.Weights {
		out[category] = w.TotalWeight
	}
	return out
}

// RawCounts returns category -> purchase count inside the window.
func (p *CustomerPreferences) RawCounts() map[string]float64 {
	out := make(map[string]float64, len(p.Weights))
	for category, w := range p.Weights {
		out[category] = float64(w.PurchaseCount)
	}
	return out
}

// Resolved applies the caller resolution order: weighted preferences, then raw
// counts, then the default set.
func (p *CustomerPreferences) Resolved() map[string]float64 {
	if !p.ColdStart {
		if weighted := p.WeightedPreferences(); anyPositive(weighted) {
			return weighted
		}
		if raw := p.RawCounts(); anyPositive(raw) {
			return raw
		}
	}
	return copyWeights(p.Defaults)
}

// TopCategories returns up to n categories by resolved weight, ties by name.
func (p *CustomerPreferences) TopCategories(n int) []string {
	resolved := p.Resolved()
	categories := make([]string, 0, len(resolved))
	for category := range resolved {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		wi, wj := resolved[categories[i]], resolved[categories[j]]
		if wi != wj {
			return wi > wj
		}
		return categories[i] < categories[j]
	})
	if n >= 0 && len(categories) > n {
		categories = categories[:n]
	}
	return categories
}

// Owns reports whether the customer has ever purchased productID.
func (p *CustomerPreferences) Owns(productID string) bool {
	_, ok := p.OwnedProducts[productID]
	return ok
}

// PreferenceModel builds category preferences from purchase history.
type PreferenceModel struct {
	store   RecommendationStore
	config  *config.RecommendationConfig
	logger  *logrus.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewPreferenceModel creates a preference model reading from store.
func NewPreferenceModel(store RecommendationStore, cfg *config.RecommendationConfig, metrics *Metrics, logger *logrus.Logger) *PreferenceModel {
	return &PreferenceModel{
		store:   store,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Build computes the preferences of customerID at the current time. An unknown
// customer yields models.ErrNotFound; a known customer without purchases in the
// window gets the default preferences.
func (m *PreferenceModel) Build(ctx context.Context, customerID string) (*CustomerPreferences, error) {
	now := m.now()

	if _, err := m.store.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}

	history, err := m.store.GetCustomerPurchases(ctx, customerID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load purchases for customer %s: %w", customerID, err)
	}

	prefs := &CustomerPreferences{
		CustomerID:    customerID,
		Weights:       make(map[string]CategoryWeight),
		Defaults:      m.defaultPreferences(),
		OwnedProducts: make(map[string]struct{}, len(history)),
	}

	since := now.Add(-m.config.PreferenceWindow)
	type accumulator struct {
		count    int
		daysSum  float64
		priceSum float64
	}
	acc := make(map[string]*accumulator)
	categories := make(map[string]struct{})

	for _, purchase := range history {
		prefs.OwnedProducts[purchase.ProductID] = struct{}{}
		if purchase.Category != "" {
			categories[purchase.Category] = struct{}{}
		}

		if purchase.Date.Before(since) {
			continue
		}

		a, ok := acc[purchase.Category]
		if !ok {
			a = &accumulator{}
			acc[purchase.Category] = a
		}
		a.count++
		a.daysSum += daysBetween(purchase.Date, now)
		a.priceSum += purchase.Price
	}

	for category := range categories {
		prefs.PurchasedCategories = append(prefs.PurchasedCategories, category)
	}
	sort.Strings(prefs.PurchasedCategories)

	for category, a := range acc {
		prefs.Weights[category] = NewCategoryWeight(category, a.count, a.daysSum/float64(a.count), a.priceSum/float64(a.count))
	}

	if len(prefs.Weights) == 0 {
		prefs.ColdStart = true
		m.logger.WithFields(logrus.Fields{
			"customer_id": customerID,
			"defaults":    m.config.DefaultCategories,
		}).Info("No purchases in preference window, using default preferences")
		if m.metrics != nil {
			m.metrics.ColdStarts.Inc()
		}
	}

	return prefs, nil
}

// NewCategoryWeight derives the weights of one category aggregate.
func NewCategoryWeight(category string, count int, daysAgo, avgPrice float64) CategoryWeight {
	timeWeight := 1 / (1 + daysAgo/daysPerYear)
	priceWeight := math.Min(avgPrice/priceNormalizer, 1)
	if priceWeight < 0 {
		priceWeight = 0
	}

	return CategoryWeight{
		Category:      category,
		PurchaseCount: count,
		DaysAgo:       daysAgo,
		AvgPrice:      avgPrice,
		TimeWeight:    timeWeight,
		PriceWeight:   priceWeight,
		TotalWeight: countWeight*(float64(count)/countNormalizer) +
			timeWeightFactor*timeWeight +
			priceWeightFactor*priceWeight,
	}
}

func (m *PreferenceModel) defaultPreferences() map[string]float64 {
	defaults := make(map[string]float64, len(m.config.DefaultCategories))
	for _, category := range m.config.DefaultCategories {
		defaults[category] = m.config.DefaultWeight
	}
	return defaults
}

// daysBetween returns fractional days from t to now, never negative.
func daysBetween(t, now time.Time) float64 {
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		return 0
	}
	return days
}

func anyPositive(weights map[string]float64) bool {
	for _, w := range weights {
		if w > 0 {
			return true
		}
	}
	return false
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
