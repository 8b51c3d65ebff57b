package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/services"
	"github.com/temcen/hybridrec/pkg/models"
)

const maxCount = 100

type RecommendationHandler struct {
	engine   services.RecommendationEngineInterface
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewRecommendationHandler(engine services.RecommendationEngineInterface, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		engine:   engine,
		validate: validator.New(),
		logger:   logger,
	}
}

// Get serves the hybrid ranking for one customer.
func (h *RecommendationHandler) Get(c *gin.Context) {
	customerID := strings.TrimSpace(c.Param("customerId"))
	if customerID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_CUSTOMER_ID", "Customer ID is required")
		return
	}

	ranked, err := h.engine.GetRecommendations(c.Request.Context(), customerID)
	if err != nil {
		respondServiceError(c, h.logger, err, "recommendations")
		return
	}
	if ranked == nil {
		ranked = []models.RankedProduct{}
	}

	c.JSON(http.StatusOK, models.RecommendationResponse{
		CustomerID:      customerID,
		Recommendations: ranked,
		GeneratedAt:     time.Now(),
	})
}

func (h *RecommendationHandler) Personalized(c *gin.Context) {
	var filter models.PreferenceFilter
	if err := c.ShouldBindJSON(&filter); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}
	if err := h.validate.Struct(filter); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
		return
	}

	resp, err := h.engine.GetPersonalizedRecommendations(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, h.logger, err, "personalized recommendations")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *RecommendationHandler) Similar(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("productId"))
	if productID == "" {
		respondError(c, http.StatusBadRequest, "INVALID_PRODUCT_ID", "Product ID is required")
		return
	}

	count, ok := parseCount(c)
	if !ok {
		return
	}

	resp, err := h.engine.GetSimilarProducts(c.Request.Context(), productID, count)
	if err != nil {
		respondServiceError(c, h.logger, err, "similar products")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *RecommendationHandler) Seasonal(c *gin.Context) {
	count, ok := parseCount(c)
	if !ok {
		return
	}

	resp, err := h.engine.GetSeasonalRecommendations(
		c.Request.Context(),
		strings.TrimSpace(c.Query("season")),
		strings.TrimSpace(c.Query("category")),
		count,
	)
	if err != nil {
		respondServiceError(c, h.logger, err, "seasonal recommendations")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// parseCount reads the optional count query parameter. Zero means the
// service default.
func parseCount(c *gin.Context) (int, bool) {
	countStr := c.Query("count")
	if countStr == "" {
		return 0, true
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 || count > maxCount {
		respondError(c, http.StatusBadRequest, "INVALID_COUNT", "count must be between 1 and 100")
		return 0, false
	}
	return count, true
}
