package services

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/pkg/models"
)

// Candidate sources.
const (
	SourceCollaborative = "collaborative"
	SourceCategory      = "category"
)

// ScoredCandidate is a transient product suggestion from one generator.
type ScoredCandidate struct {
	ProductID string         `json:"product_id"`
	Product   models.Product `json:"product"`
	Score     float64        `json:"score"`
	Source    string         `json:"source"`
}

// validCandidate reports whether c carries the fields the ranked output needs.
func validCandidate(c ScoredCandidate, logger *logrus.Logger) bool {
	reason := ""
	switch {
	case c.ProductID == "":
		reason = "missing product id"
	case c.Product.Name == "":
		reason = "missing product name"
	case math.IsNaN(c.Product.Price) || math.IsInf(c.Product.Price, 0) || c.Product.Price < 0:
		reason = "invalid price"
	case math.IsNaN(c.Score) || math.IsInf(c.Score, 0):
		reason = "invalid score"
	}

	if reason == "" {
		return true
	}

	logger.WithFields(logrus.Fields{
		"product_id": c.ProductID,
		"source":     c.Source,
		"reason":     reason,
	}).Warn("Dropping malformed recommendation candidate")
	return false
}
