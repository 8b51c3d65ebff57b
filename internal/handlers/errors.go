package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/pkg/models"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps service sentinels to HTTP statuses.
func respondServiceError(c *gin.Context, logger *logrus.Logger, err error, operation string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, models.ErrIndexNotBuilt):
		respondError(c, http.StatusServiceUnavailable, "INDEX_NOT_BUILT",
			"Similarity index is not built yet, trigger a catalog rebuild")
	default:
		logger.WithError(err).WithField("operation", operation).Error("Request failed")
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process "+operation)
	}
}
