package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/internal/store"
	"github.com/temcen/hybridrec/pkg/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{Recommendation: config.DefaultRecommendationConfig()}
	cfg.Catalog.RebuildOnStartup = true
	cfg.Catalog.RebuildTimeout = 5 * time.Second
	cfg.Security.CORS.AllowedOrigins = []string{"https://shop.example.com"}
	cfg.Security.CORS.AllowedMethods = []string{"GET", "POST"}
	return cfg
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testApp(t *testing.T, configure func(cfg *config.Config)) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	if configure != nil {
		configure(cfg)
	}

	now := time.Now()
	s := store.NewMemoryStore()
	require.NoError(t, s.Import(context.Background(), store.Batch{
		Customers: []models.Customer{
			{ID: "alice", Age: 30, Gender: "Female", Location: "Lyon"},
			{ID: "bob", Age: 41, Gender: "Male", Location: "Turin"},
		},
		Products: []models.Product{
			{ID: "p-phone", Name: "Phone", Category: "Electronics", Brand: "Acme", Price: 500, Rating: 4.5, Sentiment: 0.8, Season: "Winter"},
			{ID: "p-cable", Name: "Cable", Category: "Electronics", Brand: "Acme", Price: 10, Rating: 4.0, Sentiment: 0.5, Season: "Winter"},
			{ID: "p-scarf", Name: "Scarf", Category: "Clothing", Brand: "Zeta", Price: 20, Rating: 3.9, Sentiment: 0.6, Season: "Winter"},
		},
		Purchases: []models.Purchase{
			{CustomerID: "alice", ProductID: "p-phone", Date: now.AddDate(0, 0, -3), Price: 500},
			{CustomerID: "bob", ProductID: "p-phone", Date: now.AddDate(0, 0, -8), Price: 500},
			{CustomerID: "bob", ProductID: "p-cable", Date: now.AddDate(0, 0, -8), Price: 10},
		},
	}))

	reg := prometheus.NewRegistry()
	app, err := newApp(cfg, testLogger(), nil, s, reg, reg)
	require.NoError(t, err)

	app.Start(context.Background())
	t.Cleanup(func() {
		assert.NoError(t, app.Shutdown(context.Background()))
	})
	return app
}

func serve(app *App, method, path string, body []byte) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, req)
	return w
}

func TestApp_ServesRecommendations(t *testing.T) {
	app := testApp(t, nil)

	w := serve(app, "GET", "/api/v1/recommendations/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.RecommendationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Recommendations)
	assert.Equal(t, "p-cable", resp.Recommendations[0].ProductID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(app, "GET", "/api/v1/products/p-phone/similar?count=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(app, "GET", "/api/v1/products/seasonal?season=Winter", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var seasonal models.SeasonalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &seasonal))
	assert.Len(t, seasonal.Recommendations, 3)

	w = serve(app, "POST", "/api/v1/recommendations/personalized", []byte(`{"categories":["Clothing"]}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(app, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(app, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shopping_recommendation_request_count")
}

func withoutStartupRebuild(cfg *config.Config) {
	cfg.Catalog.RebuildOnStartup = false
}

func TestApp_UnknownCustomerGetsEmptyList(t *testing.T) {
	app := testApp(t, nil)

	w := serve(app, "GET", "/api/v1/recommendations/carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, w.Body.Bytes(), "recommendations")))
}

func mustField(t *testing.T, body []byte, field string) json.RawMessage {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	raw, ok := fields[field]
	require.True(t, ok, "missing %q", field)
	return raw
}

func TestApp_IndexNotBuiltUntilRebuild(t *testing.T) {
	app := testApp(t, withoutStartupRebuild)

	w := serve(app, "GET", "/api/v1/products/p-phone/similar", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "INDEX_NOT_BUILT")

	w = serve(app, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")

	w = serve(app, "POST", "/api/v1/admin/catalog/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(app, "GET", "/api/v1/products/p-phone/similar", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApp_ScheduledRebuild(t *testing.T) {
	app := testApp(t, func(cfg *config.Config) {
		withoutStartupRebuild(cfg)
		cfg.Catalog.RebuildSchedule = "@every 1s"
	})

	require.NotNil(t, app.scheduler)
	assert.Len(t, app.scheduler.Entries(), 1)

	assert.Eventually(t, func() bool {
		w := serve(app, "GET", "/api/v1/products/p-phone/similar", nil)
		return w.Code == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNewApp_InvalidRebuildSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Catalog.RebuildSchedule = "every now and then"

	reg := prometheus.NewRegistry()
	_, err := newApp(cfg, testLogger(), nil, store.NewMemoryStore(), reg, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid catalog rebuild schedule")
}

func TestApp_CatalogUpdateAppliedInline(t *testing.T) {
	app := testApp(t, nil)

	w := serve(app, "POST", "/api/v1/admin/catalog/updates", []byte(`{"product_id":"p-scarf","price":15}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(app, "POST", "/api/v1/recommendations/personalized", []byte(`{"price_range":[0,16]}`))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.PersonalizedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	ids := make([]string, 0, len(resp.Recommendations))
	for _, r := range resp.Recommendations {
		ids = append(ids, r.ProductID)
	}
	assert.ElementsMatch(t, []string{"p-cable", "p-scarf"}, ids)
}

func TestSetupLogger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	logger := setupLogger(cfg)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg.Logging.Level = "nonsense"
	cfg.Logging.Format = "text"
	logger = setupLogger(cfg)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
