package services

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/pkg/models"
)

// Merge weights of the two candidate sources.
const (
	collaborativeMergeWeight = 0.7
	categoryMergeWeight      = 0.3
)

// HybridRanker merges collaborative and category candidates into one list.
type HybridRanker struct {
	maxResults int
	logger     *logrus.Logger
}

// NewHybridRanker creates a ranker returning at most maxResults products.
func NewHybridRanker(maxResults int, logger *logrus.Logger) *HybridRanker {
	return &HybridRanker{
		maxResults: maxResults,
		logger:     logger,
	}
}

type rankedEntry struct {
	id      string
	product models.Product
	score   float64
}

// Rank weights collaborative scores by 0.7 and category scores by 0.3, sums
// the contributions per product and returns the top products by score. Equal
// scores keep first-seen order.
func (r *HybridRanker) Rank(collaborative, category []ScoredCandidate) []models.RankedProduct {
	entries := make([]*rankedEntry, 0, len(collaborative)+len(category))
	index := make(map[string]*rankedEntry, len(collaborative)+len(category))

	add := func(c ScoredCandidate, weight float64) {
		if !validCandidate(c, r.logger) {
			return
		}
		if e, ok := index[c.ProductID]; ok {
			e.score += weight * c.Score
			return
		}
		e := &rankedEntry{id: c.ProductID, product: c.Product, score: weight * c.Score}
		index[c.ProductID] = e
		entries = append(entries, e)
	}

	for _, c := range collaborative {
		add(c, collaborativeMergeWeight)
	}
	for _, c := range category {
		add(c, categoryMergeWeight)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})

	if r.maxResults > 0 && len(entries) > r.maxResults {
		entries = entries[:r.maxResults]
	}

	ranked := make([]models.RankedProduct, len(entries))
	for i, e := range entries {
		ranked[i] = models.RankedProduct{
			ProductID: e.id,
			Name:      e.product.Name,
			Price:     e.product.Price,
			Score:     e.score,
		}
	}
	return ranked
}
