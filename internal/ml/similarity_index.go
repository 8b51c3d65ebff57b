package ml

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/hybridrec/pkg/models"
)

// Seasonal ranking weights.
const (
	seasonalRatingWeight    = 0.7
	seasonalSentimentWeight = 0.3
)

// SimilarityIndex is an immutable snapshot of the catalog together with the
// all-pairs cosine similarity of the encoded product vectors. It is safe for
// concurrent readers; a catalog change produces a new index instead of
// mutating an existing one.
type SimilarityIndex struct {
	products []models.Product
	position map[string]int
	encoder  *FeatureEncoder
	matrix   *mat.SymDense
	version  int64
	snapshot string
	builtAt  time.Time
}

// ScoredProduct is a catalog product with the similarity that selected it.
type ScoredProduct struct {
	Product    models.Product
	Similarity float64
}

// BuildSimilarityIndex encodes the catalog and computes the similarity matrix.
// The catalog order is preserved and used to break ties.
func BuildSimilarityIndex(catalog []models.Product, version int64) (*SimilarityIndex, error) {
	position := make(map[string]int, len(catalog))
	for i := range catalog {
		id := catalog[i].ID
		if id == "" {
			return nil, fmt.Errorf("%w: product at position %d has no id", models.ErrCorruptCatalog, i)
		}
		if prev, dup := position[id]; dup {
			return nil, fmt.Errorf("%w: product %s appears at positions %d and %d",
				models.ErrCorruptCatalog, id, prev, i)
		}
		position[id] = i
	}

	products := make([]models.Product, len(catalog))
	copy(products, catalog)

	idx := &SimilarityIndex{
		products: products,
		position: position,
		encoder:  FitFeatureEncoder(products),
		version:  version,
		snapshot: uuid.NewString(),
		builtAt:  time.Now(),
	}

	n := len(products)
	if n == 0 {
		return idx, nil
	}

	// Rows are L2-normalised so that X·Xᵀ is the cosine matrix.
	data := make([]float64, 0, n*FeatureDimensions)
	for i := range products {
		v := idx.encoder.Encode(products[i])
		if norm := floats.Norm(v, 2); norm > 0 {
			floats.Scale(1/norm, v)
		}
		data = append(data, v...)
	}

	features := mat.NewDense(n, FeatureDimensions, data)
	sim := mat.NewSymDense(n, nil)
	sim.SymOuterK(1, features)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim.SetSym(i, j, clamp(sim.At(i, j)))
		}
		sim.SetSym(i, i, 1)
	}
	idx.matrix = sim

	return idx, nil
}

// Version identifies the catalog snapshot the index was built from.
func (idx *SimilarityIndex) Version() int64 {
	return idx.version
}

// SnapshotID is unique to this build, across processes and restarts. Use it
// where results derived from the index are shared outside the process.
func (idx *SimilarityIndex) SnapshotID() string {
	return idx.snapshot
}

// BuiltAt is the wall-clock time the index was built.
func (idx *SimilarityIndex) BuiltAt() time.Time {
	return idx.builtAt
}

// Len returns the number of indexed products.
func (idx *SimilarityIndex) Len() int {
	return len(idx.products)
}

// Encoder returns the encoder fitted for this snapshot, for scoring items
// against the same catalog.
func (idx *SimilarityIndex) Encoder() *FeatureEncoder {
	return idx.encoder
}

// Products returns a copy of the indexed catalog in insertion order.
func (idx *SimilarityIndex) Products() []models.Product {
	out := make([]models.Product, len(idx.products))
	copy(out, idx.products)
	return out
}

// Product looks up an indexed product by id.
func (idx *SimilarityIndex) Product(productID string) (models.Product, bool) {
	i, ok := idx.position[productID]
	if !ok {
		return models.Product{}, false
	}
	return idx.products[i], true
}

// Similarity returns the cosine similarity of two indexed products.
func (idx *SimilarityIndex) Similarity(a, b string) (float64, bool) {
	i, ok := idx.position[a]
	if !ok {
		return 0, false
	}
	j, ok := idx.position[b]
	if !ok {
		return 0, false
	}
	return idx.matrix.At(i, j), true
}

// Similar returns up to n products most similar to productID, excluding the
// product itself. Ties keep catalog order. An unknown product yields nil.
func (idx *SimilarityIndex) Similar(productID string, n int) []ScoredProduct {
	i, ok := idx.position[productID]
	if !ok || n <= 0 {
		return nil
	}

	results := make([]ScoredProduct, 0, len(idx.products)-1)
	for j := range idx.products {
		if j == i {
			continue
		}
		results = append(results, ScoredProduct{
			Product:    idx.products[j],
			Similarity: idx.matrix.At(i, j),
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Similarity > results[b].Similarity
	})

	if len(results) > n {
		results = results[:n]
	}
	return results
}

// Seasonal ranks products tagged with season, optionally restricted to one
// category, by 0.7·rating + 0.3·sentiment. Ties are broken by product id.
func (idx *SimilarityIndex) Seasonal(season string, n int, category string) []ScoredProduct {
	if n <= 0 {
		return nil
	}

	var results []ScoredProduct
	for _, p := range idx.products {
		if p.Season != season {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		results = append(results, ScoredProduct{
			Product:    p,
			Similarity: seasonalRatingWeight*p.Rating + seasonalSentimentWeight*p.Sentiment,
		})
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Similarity != results[b].Similarity {
			return results[a].Similarity > results[b].Similarity
		}
		return results[a].Product.ID < results[b].Product.ID
	})

	if len(results) > n {
		results = results[:n]
	}
	return results
}

// SeasonForMonth maps a calendar month to the season tag used by the catalog.
func SeasonForMonth(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Autumn"
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
