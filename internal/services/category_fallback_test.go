package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hybridrec/pkg/models"
)

func candidateIDs(candidates []ScoredCandidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ProductID
	}
	return ids
}

func TestCategoryFallbackGenerator_Candidates(t *testing.T) {
	s := seededStore(t)
	g := NewCategoryFallbackGenerator(s, testConfig(), testLogger())

	t.Run("popular unowned products per top category", func(t *testing.T) {
		candidates, err := g.Candidates(context.Background(), buildPrefs(t, s, "target"))
		require.NoError(t, err)

		assert.Equal(t, []string{"ele-laptop", "ele-tablet", "ele-headphones", "clo-jacket", "clo-shoes"}, candidateIDs(candidates))
		assert.Equal(t, 0.1, candidates[0].Score)
		assert.Equal(t, 0.0, candidates[2].Score)
		for _, c := range candidates {
			assert.Equal(t, SourceCategory, c.Source)
		}
	})

	t.Run("cold start uses default categories", func(t *testing.T) {
		candidates, err := g.Candidates(context.Background(), buildPrefs(t, s, "newcomer"))
		require.NoError(t, err)

		assert.Equal(t, []string{
			"clo-jacket", "clo-shirt", "clo-shoes",
			"ele-phone", "ele-laptop", "ele-tablet",
		}, candidateIDs(candidates))
		assert.InDelta(t, 0.2, candidates[3].Score, 1e-9)
	})
}

func TestCategoryFallbackGenerator_TopThreeCategories(t *testing.T) {
	ms := new(MockRecommendationStore)
	prefs := &CustomerPreferences{
		CustomerID: "c1",
		Weights: map[string]CategoryWeight{
			"A": {TotalWeight: 0.9},
			"B": {TotalWeight: 0.8},
			"C": {TotalWeight: 0.7},
			"D": {TotalWeight: 0.6},
		},
		OwnedProducts: map[string]struct{}{"a1": {}},
	}

	popular := func(ids ...string) []models.ProductPopularity {
		out := make([]models.ProductPopularity, len(ids))
		for i, id := range ids {
			out[i] = models.ProductPopularity{Product: models.Product{ID: id, Name: id, Price: 1}, PurchaseCount: 20 - i}
		}
		return out
	}

	ms.On("GetCategoryPopularity", mock.Anything, "A").Return(popular("a1", "a2", "a3", "a4", "a5"), nil)
	ms.On("GetCategoryPopularity", mock.Anything, "B").Return(popular("shared"), nil)
	ms.On("GetCategoryPopularity", mock.Anything, "C").Return(popular("shared", "c2"), nil)

	candidates, err := NewCategoryFallbackGenerator(ms, testConfig(), testLogger()).Candidates(context.Background(), prefs)
	require.NoError(t, err)

	// A product listed under two categories is kept twice.
	assert.Equal(t, []string{"a2", "a3", "a4", "shared", "shared", "c2"}, candidateIDs(candidates))
	assert.Equal(t, 1.0, candidates[0].Score)
	ms.AssertExpectations(t)
	ms.AssertNotCalled(t, "GetCategoryPopularity", mock.Anything, "D")
}

func TestCategoryFallbackGenerator_TiesByProductID(t *testing.T) {
	ms := new(MockRecommendationStore)
	prefs := &CustomerPreferences{CustomerID: "c1", Weights: map[string]CategoryWeight{"A": {TotalWeight: 1}}}

	ms.On("GetCategoryPopularity", mock.Anything, "A").Return([]models.ProductPopularity{
		{Product: models.Product{ID: "z"}, PurchaseCount: 2},
		{Product: models.Product{ID: "m"}, PurchaseCount: 2},
		{Product: models.Product{ID: "b"}, PurchaseCount: 5},
		{Product: models.Product{ID: "a"}, PurchaseCount: 2},
	}, nil)

	candidates, err := NewCategoryFallbackGenerator(ms, testConfig(), testLogger()).Candidates(context.Background(), prefs)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "m"}, candidateIDs(candidates))
}

func TestCategoryFallbackGenerator_NeverPurchasedScoresZero(t *testing.T) {
	ms := new(MockRecommendationStore)
	prefs := &CustomerPreferences{CustomerID: "c1", Weights: map[string]CategoryWeight{"A": {TotalWeight: 1}}}

	ms.On("GetCategoryPopularity", mock.Anything, "A").Return([]models.ProductPopularity{
		{Product: models.Product{ID: "unsold"}, PurchaseCount: 0},
		{Product: models.Product{ID: "sold-once"}, PurchaseCount: 1},
	}, nil)

	candidates, err := NewCategoryFallbackGenerator(ms, testConfig(), testLogger()).Candidates(context.Background(), prefs)
	require.NoError(t, err)
	require.Equal(t, []string{"sold-once", "unsold"}, candidateIDs(candidates))
	assert.InDelta(t, 0.1, candidates[0].Score, 1e-9)
	assert.Equal(t, 0.0, candidates[1].Score)
}

func TestCategoryFallbackGenerator_StoreError(t *testing.T) {
	ms := new(MockRecommendationStore)
	prefs := &CustomerPreferences{CustomerID: "c1", Weights: map[string]CategoryWeight{"A": {TotalWeight: 1}}}
	ms.On("GetCategoryPopularity", mock.Anything, "A").Return(nil, errors.New("boom"))

	_, err := NewCategoryFallbackGenerator(ms, testConfig(), testLogger()).Candidates(context.Background(), prefs)
	assert.Error(t, err)
}

func TestCategoryScore(t *testing.T) {
	assert.Equal(t, 0.0, CategoryScore(0))
	assert.InDelta(t, 0.3, CategoryScore(3), 1e-9)
	assert.Equal(t, 1.0, CategoryScore(42))
}
