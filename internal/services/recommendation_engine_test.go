package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hybridrec/internal/store"
	"github.com/temcen/hybridrec/pkg/models"
)

type engineFixture struct {
	engine  *RecommendationEngine
	catalog *CatalogIndex
	store   *store.MemoryStore
	redis   *miniredis.Miniredis
}

func newEngineFixture(t *testing.T, withCache bool) *engineFixture {
	t.Helper()

	var mr *miniredis.Miniredis
	if withCache {
		mr = miniredis.RunT(t)
	}
	return newEngineFixtureOn(t, mr)
}

// newEngineFixtureOn builds an engine with its own store and index, caching in
// mr when it is not nil. Fixtures sharing mr behave like replicas sharing Redis.
func newEngineFixtureOn(t *testing.T, mr *miniredis.Miniredis) *engineFixture {
	t.Helper()

	s := seededStore(t)
	cfg := testConfig()
	logger := testLogger()
	metrics := testMetrics()

	preferences := NewPreferenceModel(s, cfg, metrics, logger)
	preferences.now = func() time.Time { return fixedNow }
	collaborative := NewCollaborativeGenerator(s, cfg, logger)
	collaborative.now = func() time.Time { return fixedNow }
	category := NewCategoryFallbackGenerator(s, cfg, logger)
	catalog := NewCatalogIndex(s, metrics, logger)

	f := &engineFixture{catalog: catalog, store: s, redis: mr}

	var client *redis.Client
	if mr != nil {
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
	}
	cache := NewResultCache(client, cfg.CacheTTL, metrics, logger)

	f.engine = NewRecommendationEngine(preferences, collaborative, category,
		NewHybridRanker(cfg.MaxRecommendations, logger), catalog, cache, cfg, metrics, logger)
	f.engine.now = func() time.Time { return fixedNow }

	return f
}

func (f *engineFixture) rebuild(t *testing.T) {
	t.Helper()
	_, err := f.catalog.Rebuild(context.Background())
	require.NoError(t, err)
}

func TestRecommendationEngine_GetRecommendations(t *testing.T) {
	f := newEngineFixture(t, false)
	ctx := context.Background()

	t.Run("hybrid ranking", func(t *testing.T) {
		ranked, err := f.engine.GetRecommendations(ctx, "target")
		require.NoError(t, err)

		assert.Equal(t, []string{"boo-novel", "ele-laptop", "clo-jacket", "ele-tablet", "ele-headphones", "clo-shoes"}, rankedIDs(ranked))

		laptop := 0.7*CollaborativeScore(1, 15) + 0.3*CategoryScore(1)
		assert.InDelta(t, laptop, ranked[1].Score, 1e-9)
		assert.Equal(t, "Laptop", ranked[1].Name)
		assert.Equal(t, 1200.0, ranked[1].Price)
	})

	t.Run("never recommends owned products", func(t *testing.T) {
		ranked, err := f.engine.GetRecommendations(ctx, "target")
		require.NoError(t, err)
		for _, r := range ranked {
			assert.NotEqual(t, "ele-phone", r.ProductID)
			assert.NotEqual(t, "clo-shirt", r.ProductID)
		}
	})

	t.Run("no similar customers falls back to categories", func(t *testing.T) {
		ranked, err := f.engine.GetRecommendations(ctx, "gardener")
		require.NoError(t, err)
		assert.Equal(t, []string{"gar-hose"}, rankedIDs(ranked))
		assert.Equal(t, 0.0, ranked[0].Score)
	})

	t.Run("cold start", func(t *testing.T) {
		ranked, err := f.engine.GetRecommendations(ctx, "newcomer")
		require.NoError(t, err)
		assert.Equal(t, []string{"ele-phone", "clo-jacket", "clo-shirt", "ele-laptop", "ele-tablet", "clo-shoes"}, rankedIDs(ranked))
	})

	t.Run("unknown customer gets nothing", func(t *testing.T) {
		ranked, err := f.engine.GetRecommendations(ctx, "no-such-customer")
		require.NoError(t, err)
		assert.NotNil(t, ranked)
		assert.Empty(t, ranked)
	})

	t.Run("empty customer id", func(t *testing.T) {
		_, err := f.engine.GetRecommendations(ctx, "  ")
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestRecommendationEngine_GetPersonalizedRecommendations(t *testing.T) {
	ctx := context.Background()

	t.Run("index not built", func(t *testing.T) {
		f := newEngineFixture(t, false)
		_, err := f.engine.GetPersonalizedRecommendations(ctx, models.PreferenceFilter{})
		assert.ErrorIs(t, err, models.ErrIndexNotBuilt)
	})

	f := newEngineFixture(t, false)
	f.rebuild(t)

	tests := []struct {
		name     string
		filter   models.PreferenceFilter
		expected []string
	}{
		{
			name:     "default limit over the whole catalog",
			filter:   models.PreferenceFilter{},
			expected: []string{"boo-novel", "ele-phone", "ele-laptop", "clo-jacket", "boo-cookbook"},
		},
		{
			name:     "category and price range",
			filter:   models.PreferenceFilter{Categories: []string{"Electronics"}, PriceRange: []float64{100, 600}},
			expected: []string{"ele-phone", "ele-tablet"},
		},
		{
			name:     "price range is inclusive",
			filter:   models.PreferenceFilter{PriceRange: []float64{25, 25}},
			expected: []string{"clo-shirt"},
		},
		{
			name:     "brand",
			filter:   models.PreferenceFilter{Brands: []string{"Zeta"}},
			expected: []string{"clo-jacket", "clo-shirt"},
		},
		{
			name:     "explicit limit",
			filter:   models.PreferenceFilter{Categories: []string{"Electronics", "Books"}, Limit: 2},
			expected: []string{"boo-novel", "ele-phone"},
		},
		{
			name:     "nothing matches",
			filter:   models.PreferenceFilter{Categories: []string{"Toys"}},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.engine.GetPersonalizedRecommendations(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(resp.Recommendations))
			for i, r := range resp.Recommendations {
				ids[i] = r.ProductID
			}
			assert.Equal(t, tt.expected, ids)
			assert.False(t, resp.CacheHit)
		})
	}

	invalid := []models.PreferenceFilter{
		{PriceRange: []float64{50, 10}},
		{PriceRange: []float64{-1, 10}},
		{PriceRange: []float64{math.NaN(), 10}},
		{PriceRange: []float64{10}},
		{Limit: -1},
	}
	for _, filter := range invalid {
		_, err := f.engine.GetPersonalizedRecommendations(ctx, filter)
		assert.ErrorIs(t, err, models.ErrInvalidInput, "filter %+v", filter)
	}
}

func TestRecommendationEngine_PersonalizedCache(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	f.rebuild(t)

	filter := models.PreferenceFilter{Brands: []string{"Acme"}}

	first, err := f.engine.GetPersonalizedRecommendations(ctx, filter)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := f.engine.GetPersonalizedRecommendations(ctx, filter)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Recommendations, second.Recommendations)

	// A rebuild publishes a new snapshot and therefore a new key.
	f.rebuild(t)
	third, err := f.engine.GetPersonalizedRecommendations(ctx, filter)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
	assert.Greater(t, third.CatalogVersion, first.CatalogVersion)
}

func TestRecommendationEngine_SharedCacheAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	a := newEngineFixtureOn(t, mr)
	b := newEngineFixtureOn(t, mr)
	a.rebuild(t)

	filter := models.PreferenceFilter{Brands: []string{"Acme"}}
	fromA, err := a.engine.GetPersonalizedRecommendations(ctx, filter)
	require.NoError(t, err)
	assert.False(t, fromA.CacheHit)

	// Replica b sees a newer price but its first build also carries version 1.
	require.NoError(t, b.store.UpdateProductPrice(ctx, "ele-phone", 77))
	b.rebuild(t)
	require.Equal(t, a.catalog.current.Load().Version(), b.catalog.current.Load().Version())

	fromB, err := b.engine.GetPersonalizedRecommendations(ctx, filter)
	require.NoError(t, err)
	assert.False(t, fromB.CacheHit)
	assert.Contains(t, fromB.Recommendations, models.PersonalizedProduct{
		ProductID: "ele-phone", Category: "Electronics", Subcategory: "Phones", Brand: "Acme", Price: 77,
	})
}

func TestFilterKey(t *testing.T) {
	tests := []struct {
		name string
		a, b models.PreferenceFilter
		same bool
	}{
		{
			name: "list order ignored",
			a:    models.PreferenceFilter{Categories: []string{"Clothing", "Electronics"}},
			b:    models.PreferenceFilter{Categories: []string{"Electronics", "Clothing"}},
			same: true,
		},
		{
			name: "comma inside a value",
			a:    models.PreferenceFilter{Categories: []string{"a,b"}},
			b:    models.PreferenceFilter{Categories: []string{"a", "b"}},
		},
		{
			name: "separator inside a value",
			a:    models.PreferenceFilter{Categories: []string{"x|b=y"}},
			b:    models.PreferenceFilter{Categories: []string{"x"}, Brands: []string{"y"}},
		},
		{
			name: "price range",
			a:    models.PreferenceFilter{PriceRange: []float64{10, 20}},
			b:    models.PreferenceFilter{PriceRange: []float64{10, 200}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, filterKey(tt.a), filterKey(tt.b))
			} else {
				assert.NotEqual(t, filterKey(tt.a), filterKey(tt.b))
			}
		})
	}
}

func TestRecommendationEngine_CacheOutage(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	f.rebuild(t)
	f.redis.Close()

	resp, err := f.engine.GetPersonalizedRecommendations(ctx, models.PreferenceFilter{})
	require.NoError(t, err)
	assert.Len(t, resp.Recommendations, 5)
}

func TestRecommendationEngine_GetSimilarProducts(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, true)
	f.rebuild(t)

	t.Run("excludes the seed product", func(t *testing.T) {
		resp, err := f.engine.GetSimilarProducts(ctx, "ele-phone", 3)
		require.NoError(t, err)
		require.Len(t, resp.Similar, 3)
		for i, s := range resp.Similar {
			assert.NotEqual(t, "ele-phone", s.ProductID)
			if i > 0 {
				assert.GreaterOrEqual(t, resp.Similar[i-1].Similarity, s.Similarity)
			}
		}
	})

	t.Run("default count", func(t *testing.T) {
		resp, err := f.engine.GetSimilarProducts(ctx, "clo-shirt", 0)
		require.NoError(t, err)
		assert.Len(t, resp.Similar, 5)
	})

	t.Run("unknown product", func(t *testing.T) {
		resp, err := f.engine.GetSimilarProducts(ctx, "missing", 3)
		require.NoError(t, err)
		assert.Empty(t, resp.Similar)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := f.engine.GetSimilarProducts(ctx, "ele-phone", -2)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestRecommendationEngine_GetSeasonalRecommendations(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t, false)
	f.rebuild(t)

	t.Run("season defaults to current month", func(t *testing.T) {
		resp, err := f.engine.GetSeasonalRecommendations(ctx, "", "", 0)
		require.NoError(t, err)
		assert.Equal(t, "Summer", resp.Season)

		ids := make([]string, len(resp.Recommendations))
		for i, r := range resp.Recommendations {
			ids[i] = r.ProductID
		}
		assert.Equal(t, []string{"ele-headphones", "clo-shirt", "gar-hose"}, ids)
	})

	t.Run("category filter", func(t *testing.T) {
		resp, err := f.engine.GetSeasonalRecommendations(ctx, "Winter", "Clothing", 5)
		require.NoError(t, err)
		require.Len(t, resp.Recommendations, 1)
		assert.Equal(t, "clo-jacket", resp.Recommendations[0].ProductID)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := f.engine.GetSeasonalRecommendations(ctx, "Winter", "", -1)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}
