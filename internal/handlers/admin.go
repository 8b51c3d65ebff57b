package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/services"
	"github.com/temcen/hybridrec/internal/validation"
	"github.com/temcen/hybridrec/pkg/models"
)

// CatalogApplier applies a catalog update synchronously.
type CatalogApplier interface {
	Apply(ctx context.Context, update models.CatalogUpdateRequest) error
}

// CatalogPublisher hands a catalog update to the feed.
type CatalogPublisher interface {
	PublishCatalogUpdate(ctx context.Context, update models.CatalogUpdateRequest) (uuid.UUID, error)
}

// AdminHandler handles catalog maintenance requests
type AdminHandler struct {
	index     services.CatalogIndexInterface
	applier   CatalogApplier
	publisher CatalogPublisher
	schemas   *validation.SchemaValidator
	logger    *logrus.Logger
}

// NewAdminHandler creates an admin handler. With a nil publisher updates are
// applied in the request; with nil schemas request bodies are only decoded.
func NewAdminHandler(index services.CatalogIndexInterface, applier CatalogApplier, publisher CatalogPublisher,
	schemas *validation.SchemaValidator, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		index:     index,
		applier:   applier,
		publisher: publisher,
		schemas:   schemas,
		logger:    logger,
	}
}

// RebuildCatalog rebuilds the similarity index from the store
func (h *AdminHandler) RebuildCatalog(c *gin.Context) {
	idx, err := h.index.Rebuild(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.logger, err, "catalog rebuild")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "rebuilt",
		"version":  idx.Version(),
		"products": idx.Len(),
		"built_at": idx.BuiltAt(),
	})
}

// UpdateCatalog accepts a price refresh or product upsert
func (h *AdminHandler) UpdateCatalog(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}

	if h.schemas != nil {
		if result := h.schemas.Validate(validation.SchemaCatalogUpdate, body); !result.Valid {
			c.JSON(http.StatusBadRequest, result.ToAPIError())
			return
		}
	}

	var update models.CatalogUpdateRequest
	if err := json.Unmarshal(body, &update); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}
	if update.ProductID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "product_id is required")
		return
	}

	if h.publisher != nil {
		eventID, err := h.publisher.PublishCatalogUpdate(c.Request.Context(), update)
		if err != nil {
			h.logger.WithError(err).WithField("product_id", update.ProductID).Error("Failed to queue catalog update")
			respondError(c, http.StatusServiceUnavailable, "CATALOG_FEED_UNAVAILABLE", "Failed to queue catalog update")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":     "queued",
			"event_id":   eventID,
			"product_id": update.ProductID,
		})
		return
	}

	if err := h.applier.Apply(c.Request.Context(), update); err != nil {
		respondServiceError(c, h.logger, err, "catalog update")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "applied",
		"product_id": update.ProductID,
	})
}
