package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the recommendation service.
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ColdStarts      prometheus.Counter
	IndexRebuilds   *prometheus.CounterVec
	IndexProducts   prometheus.Gauge
	IndexVersion    prometheus.Gauge
	CacheLookups    *prometheus.CounterVec
	CatalogEvents   *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_recommendation_request_count",
			Help: "Number of recommendation requests by operation and status",
		}, []string{"operation", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopping_recommendation_request_duration_seconds",
			Help:    "Recommendation request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		ColdStarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "shopping_recommendation_cold_starts_total",
			Help: "Requests served from default preferences",
		}),
		IndexRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_similarity_index_rebuilds_total",
			Help: "Similarity index rebuilds by status",
		}, []string{"status"}),
		IndexProducts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shopping_similarity_index_products",
			Help: "Number of products in the current similarity index",
		}),
		IndexVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shopping_similarity_index_version",
			Help: "Version of the current similarity index",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_recommendation_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),
		CatalogEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_catalog_events_total",
			Help: "Catalog feed events by type and status",
		}, []string{"type", "status"}),
	}
}

// ObserveRequest records one finished operation.
func (m *Metrics) ObserveRequest(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RequestCount.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
