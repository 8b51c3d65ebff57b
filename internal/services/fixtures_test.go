package services

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/internal/ml"
	"github.com/temcen/hybridrec/internal/store"
	"github.com/temcen/hybridrec/pkg/models"
)

var fixedNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return fixedNow.Add(-time.Duration(n) * 24 * time.Hour)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig() *config.RecommendationConfig {
	cfg := config.DefaultRecommendationConfig()
	return &cfg
}

func testMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func catalogFixture() []models.Product {
	return []models.Product{
		{ID: "ele-phone", Name: "Phone", Category: "Electronics", Subcategory: "Phones", Brand: "Acme", Price: 500, Rating: 4.6, AvgSimilarRating: 4.2, Sentiment: 0.8, Season: "Winter", Geography: "North"},
		{ID: "ele-laptop", Name: "Laptop", Category: "Electronics", Subcategory: "Computers", Brand: "Acme", Price: 1200, Rating: 4.4, AvgSimilarRating: 4.0, Sentiment: 0.7, Season: "Autumn", Geography: "North"},
		{ID: "ele-tablet", Name: "Tablet", Category: "Electronics", Subcategory: "Computers", Brand: "Orbit", Price: 300, Rating: 4.1, AvgSimilarRating: 3.8, Sentiment: 0.6, Season: "Winter", Geography: "South"},
		{ID: "ele-headphones", Name: "Headphones", Category: "Electronics", Subcategory: "Audio", Brand: "Orbit", Price: 80, Rating: 3.9, AvgSimilarRating: 3.7, Sentiment: 0.5, Season: "Summer", Geography: "South"},
		{ID: "clo-shirt", Name: "Shirt", Category: "Clothing", Subcategory: "Tops", Brand: "Zeta", Price: 25, Rating: 3.8, AvgSimilarRating: 3.6, Sentiment: 0.4, Season: "Summer", Geography: "East"},
		{ID: "clo-jacket", Name: "Jacket", Category: "Clothing", Subcategory: "Outerwear", Brand: "Zeta", Price: 90, Rating: 4.3, AvgSimilarRating: 4.1, Sentiment: 0.6, Season: "Winter", Geography: "East"},
		{ID: "clo-shoes", Name: "Shoes", Category: "Clothing", Subcategory: "Footwear", Brand: "Stride", Price: 60, Rating: 4.0, AvgSimilarRating: 3.9, Sentiment: 0.5, Season: "Spring", Geography: "West"},
		{ID: "boo-novel", Name: "Novel", Category: "Books", Subcategory: "Fiction", Brand: "Paper", Price: 12, Rating: 4.7, AvgSimilarRating: 4.4, Sentiment: 0.9, Season: "Autumn", Geography: "West", Holiday: true},
		{ID: "boo-cookbook", Name: "Cookbook", Category: "Books", Subcategory: "Food", Brand: "Paper", Price: 30, Rating: 4.2, AvgSimilarRating: 4.0, Sentiment: 0.7, Season: "Winter", Geography: "West"},
		{ID: "hom-lamp", Name: "Lamp", Category: "Home", Subcategory: "Lighting", Brand: "Lux", Price: 40, Rating: 3.5, AvgSimilarRating: 3.4, Sentiment: 0.3, Season: "Autumn", Geography: "North"},
		{ID: "gar-rake", Name: "Rake", Category: "Garden", Subcategory: "Tools", Brand: "Green", Price: 20, Rating: 3.7, AvgSimilarRating: 3.5, Sentiment: 0.4, Season: "Spring", Geography: "South"},
		{ID: "gar-hose", Name: "Hose", Category: "Garden", Subcategory: "Watering", Brand: "Green", Price: 35, Rating: 3.6, AvgSimilarRating: 3.5, Sentiment: 0.4, Season: "Summer", Geography: "South"},
	}
}

// seededStore returns a store where customer "target" shares Electronics with
// u1 and u2, u3 shares nothing, "gardener" only buys Garden products and
// "newcomer" has no purchases.
func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()

	customers := []models.Customer{
		{ID: "target", Age: 34, Gender: "Female", Location: "Berlin"},
		{ID: "u1", Age: 29, Gender: "Male", Location: "Paris"},
		{ID: "u2", Age: 51, Gender: "Other", Location: "Rome"},
		{ID: "u3", Age: 22, Gender: "Female", Location: "Madrid"},
		{ID: "gardener", Age: 63, Gender: "Male", Location: "Vienna"},
		{ID: "newcomer", Age: 19, Gender: "Female", Location: "Oslo"},
	}

	purchases := []models.Purchase{
		{CustomerID: "target", ProductID: "ele-phone", Date: daysAgo(10), Price: 500},
		{CustomerID: "target", ProductID: "clo-shirt", Date: daysAgo(20), Price: 25},
		{CustomerID: "u1", ProductID: "ele-phone", Date: daysAgo(5), Price: 480},
		{CustomerID: "u1", ProductID: "ele-laptop", Date: daysAgo(15), Price: 1200},
		{CustomerID: "u1", ProductID: "clo-jacket", Date: daysAgo(30), Price: 90},
		{CustomerID: "u2", ProductID: "ele-tablet", Date: daysAgo(40), Price: 300},
		{CustomerID: "u2", ProductID: "boo-novel", Date: daysAgo(2), Price: 12},
		{CustomerID: "u2", ProductID: "hom-lamp", Date: daysAgo(200), Price: 40},
		{CustomerID: "u3", ProductID: "boo-cookbook", Date: daysAgo(1), Price: 30},
		{CustomerID: "u3", ProductID: "hom-lamp", Date: daysAgo(1), Price: 40},
		{CustomerID: "gardener", ProductID: "gar-rake", Date: daysAgo(3), Price: 20},
	}

	s := store.NewMemoryStore()
	require.NoError(t, s.Import(context.Background(), store.Batch{
		Customers: customers,
		Products:  catalogFixture(),
		Purchases: purchases,
	}))
	return s
}

// MockRecommendationStore is a testify mock of RecommendationStore.
type MockRecommendationStore struct {
	mock.Mock
}

func (m *MockRecommendationStore) GetCustomer(ctx context.Context, customerID string) (*models.Customer, error) {
	args := m.Called(ctx, customerID)
	c, _ := args.Get(0).(*models.Customer)
	return c, args.Error(1)
}

func (m *MockRecommendationStore) GetCustomerPurchases(ctx context.Context, customerID string, since time.Time) ([]models.Purchase, error) {
	args := m.Called(ctx, customerID, since)
	purchases, _ := args.Get(0).([]models.Purchase)
	return purchases, args.Error(1)
}

func (m *MockRecommendationStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	args := m.Called(ctx, productID)
	product, _ := args.Get(0).(*models.Product)
	return product, args.Error(1)
}

func (m *MockRecommendationStore) ListCustomersByOverlap(ctx context.Context, customerID string, categories []string) ([]models.CustomerOverlap, error) {
	args := m.Called(ctx, customerID, categories)
	overlaps, _ := args.Get(0).([]models.CustomerOverlap)
	return overlaps, args.Error(1)
}

func (m *MockRecommendationStore) ListCatalog(ctx context.Context) ([]models.Product, error) {
	args := m.Called(ctx)
	products, _ := args.Get(0).([]models.Product)
	return products, args.Error(1)
}

func (m *MockRecommendationStore) GetCohortPurchases(ctx context.Context, customerIDs []string, since time.Time) ([]models.Purchase, error) {
	args := m.Called(ctx, customerIDs, since)
	purchases, _ := args.Get(0).([]models.Purchase)
	return purchases, args.Error(1)
}

func (m *MockRecommendationStore) GetCategoryPopularity(ctx context.Context, category string) ([]models.ProductPopularity, error) {
	args := m.Called(ctx, category)
	popular, _ := args.Get(0).([]models.ProductPopularity)
	return popular, args.Error(1)
}

// MockCatalogIndex is a testify mock of CatalogIndexInterface.
type MockCatalogIndex struct {
	mock.Mock
}

func (m *MockCatalogIndex) Current() (*ml.SimilarityIndex, error) {
	args := m.Called()
	if idx, ok := args.Get(0).(*ml.SimilarityIndex); ok {
		return idx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCatalogIndex) Rebuild(ctx context.Context) (*ml.SimilarityIndex, error) {
	args := m.Called(ctx)
	if idx, ok := args.Get(0).(*ml.SimilarityIndex); ok {
		return idx, args.Error(1)
	}
	return nil, args.Error(1)
}
