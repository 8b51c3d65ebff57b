package ml

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/temcen/hybridrec/pkg/models"
)

// FeatureDimensions is the length of every encoded product vector.
const FeatureDimensions = 10

// Positions of each attribute inside an encoded vector.
const (
	FeatureCategory = iota
	FeatureSubcategory
	FeaturePrice
	FeatureBrand
	FeatureAvgSimilarRating
	FeatureRating
	FeatureSentiment
	FeatureHoliday
	FeatureSeason
	FeatureGeography
)

type categoricalColumn int

const (
	columnCategory categoricalColumn = iota
	columnSubcategory
	columnBrand
	columnSeason
	columnGeography
	numCategoricalColumns
)

type numericColumn int

const (
	columnPrice numericColumn = iota
	columnAvgSimilarRating
	columnRating
	columnSentiment
	numNumericColumns
)

// FeatureEncoder turns product attributes into numeric vectors. It is fitted once
// per catalog snapshot and then only read.
//
// Categorical codes are lexicographic: the sorted distinct values observed at fit
// time get codes 0..k-1, and a value never seen at fit time gets code k. Numeric
// columns are z-scored with the population mean and standard deviation of the
// snapshot; a column with zero variance keeps a scale of 1.
type FeatureEncoder struct {
	codes  [numCategoricalColumns]map[string]int
	means  [numNumericColumns]float64
	scales [numNumericColumns]float64
}

// FitFeatureEncoder calibrates code tables and scaling over a catalog snapshot.
func FitFeatureEncoder(products []models.Product) *FeatureEncoder {
	enc := &FeatureEncoder{}

	for col := categoricalColumn(0); col < numCategoricalColumns; col++ {
		seen := make(map[string]struct{})
		for i := range products {
			seen[categoricalValue(&products[i], col)] = struct{}{}
		}

		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)

		table := make(map[string]int, len(values))
		for code, v := range values {
			table[v] = code
		}
		enc.codes[col] = table
	}

	column := make([]float64, len(products))
	for col := numericColumn(0); col < numNumericColumns; col++ {
		for i := range products {
			column[i] = numericValue(&products[i], col)
		}

		mean, std := 0.0, 1.0
		if len(products) > 0 {
			mean, std = stat.PopMeanStdDev(column, nil)
		}
		if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
			std = 1
		}
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			mean = 0
		}

		enc.means[col] = mean
		enc.scales[col] = std
	}

	return enc
}

// Encode returns the feature vector of p using the fitted state.
func (e *FeatureEncoder) Encode(p models.Product) []float64 {
	v := make([]float64, FeatureDimensions)

	v[FeatureCategory] = e.code(columnCategory, p.Category)
	v[FeatureSubcategory] = e.code(columnSubcategory, p.Subcategory)
	v[FeaturePrice] = e.scale(columnPrice, p.Price)
	v[FeatureBrand] = e.code(columnBrand, p.Brand)
	v[FeatureAvgSimilarRating] = e.scale(columnAvgSimilarRating, p.AvgSimilarRating)
	v[FeatureRating] = e.scale(columnRating, p.Rating)
	v[FeatureSentiment] = e.scale(columnSentiment, p.Sentiment)
	if p.Holiday {
		v[FeatureHoliday] = 1
	}
	v[FeatureSeason] = e.code(columnSeason, p.Season)
	v[FeatureGeography] = e.code(columnGeography, p.Geography)

	return v
}

// Code exposes the categorical code table for a column value. It reports false
// when the value was not part of the fitted snapshot.
func (e *FeatureEncoder) Code(feature int, value string) (int, bool) {
	col, ok := featureToCategorical(feature)
	if !ok {
		return 0, false
	}
	code, ok := e.codes[col][value]
	return code, ok
}

// Scaling returns the mean and scale used for a numeric feature.
func (e *FeatureEncoder) Scaling(feature int) (mean, scale float64, ok bool) {
	col, ok := featureToNumeric(feature)
	if !ok {
		return 0, 0, false
	}
	return e.means[col], e.scales[col], true
}

func (e *FeatureEncoder) code(col categoricalColumn, value string) float64 {
	table := e.codes[col]
	if code, ok := table[value]; ok {
		return float64(code)
	}
	return float64(len(table))
}

func (e *FeatureEncoder) scale(col numericColumn, value float64) float64 {
	return (value - e.means[col]) / e.scales[col]
}

func categoricalValue(p *models.Product, col categoricalColumn) string {
	switch col {
	case columnCategory:
		return p.Category
	case columnSubcategory:
		return p.Subcategory
	case columnBrand:
		return p.Brand
	case columnSeason:
		return p.Season
	case columnGeography:
		return p.Geography
	}
	return ""
}

func numericValue(p *models.Product, col numericColumn) float64 {
	switch col {
	case columnPrice:
		return p.Price
	case columnAvgSimilarRating:
		return p.AvgSimilarRating
	case columnRating:
		return p.Rating
	case columnSentiment:
		return p.Sentiment
	}
	return 0
}

func featureToCategorical(feature int) (categoricalColumn, bool) {
	switch feature {
	case FeatureCategory:
		return columnCategory, true
	case FeatureSubcategory:
		return columnSubcategory, true
	case FeatureBrand:
		return columnBrand, true
	case FeatureSeason:
		return columnSeason, true
	case FeatureGeography:
		return columnGeography, true
	}
	return 0, false
}

func featureToNumeric(feature int) (numericColumn, bool) {
	switch feature {
	case FeaturePrice:
		return columnPrice, true
	case FeatureAvgSimilarRating:
		return columnAvgSimilarRating, true
	case FeatureRating:
		return columnRating, true
	case FeatureSentiment:
		return columnSentiment, true
	}
	return 0, false
}
