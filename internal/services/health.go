package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

const healthCheckTimeout = 5 * time.Second

// Overall and per-check health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthCheckFunc func(ctx context.Context) error

type healthCheck struct {
	name     string
	critical bool
	check    HealthCheckFunc
}

type HealthService struct {
	logger *logrus.Logger
	checks []healthCheck
	pool   *pgxpool.Pool

	// Prometheus metrics
	healthCheckStatus   *prometheus.GaugeVec
	lastHealthCheck     *prometheus.GaugeVec
	systemMetrics       *prometheus.GaugeVec
	dbConnectionMetrics *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Latency     time.Duration          `json:"latency,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func NewHealthService(reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	hs := &HealthService{
		logger: logger,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.systemMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, []string{"metric_type"})

	hs.dbConnectionMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "database_connection_pool_usage",
		Help: "Database connection pool usage",
	}, []string{"database", "state"})

	// Already registered collectors are reused
	hs.healthCheckStatus = registerGaugeVec(reg, hs.healthCheckStatus, logger)
	hs.lastHealthCheck = registerGaugeVec(reg, hs.lastHealthCheck, logger)
	hs.systemMetrics = registerGaugeVec(reg, hs.systemMetrics, logger)
	hs.dbConnectionMetrics = registerGaugeVec(reg, hs.dbConnectionMetrics, logger)

	return hs
}

func registerGaugeVec(reg prometheus.Registerer, gauge *prometheus.GaugeVec, logger *logrus.Logger) *prometheus.GaugeVec {
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		logger.WithError(err).Warn("Failed to register health metric")
	}
	return gauge
}

// AddCheck registers a dependency check. A failing critical check makes the
// service unhealthy; a failing non-critical one makes it degraded.
func (s *HealthService) AddCheck(name string, critical bool, check HealthCheckFunc) {
	s.checks = append(s.checks, healthCheck{name: name, critical: critical, check: check})
}

// AddPostgres registers the PostgreSQL check and enables pool metrics.
func (s *HealthService) AddPostgres(pool *pgxpool.Pool) {
	s.pool = pool
	s.AddCheck("postgresql", true, pool.Ping)
}

func (s *HealthService) AddRedis(client *redis.Client) {
	s.AddCheck("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// AddNeo4j registers the purchase graph check. Collaborative reads fall back
// to PostgreSQL, so the graph is not critical.
func (s *HealthService) AddNeo4j(driver neo4j.DriverWithContext) {
	s.AddCheck("neo4j", false, driver.VerifyConnectivity)
}

// AddResultCache reports the cache as failing while its circuit breaker is open.
func (s *HealthService) AddResultCache(cache *ResultCache) {
	s.AddCheck("result_cache", false, func(context.Context) error {
		if state := cache.BreakerState(); state != gobreaker.StateClosed {
			return fmt.Errorf("circuit breaker %s", state)
		}
		return nil
	})
}

func (s *HealthService) AddSimilarityIndex(index CatalogIndexInterface) {
	s.AddCheck("similarity_index", false, func(context.Context) error {
		_, err := index.Current()
		return err
	})
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string),
	}

	allCriticalHealthy := true
	for _, hc := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := hc.check(checkCtx)
		cancel()

		if err == nil {
			status.Services[hc.name] = StatusHealthy
			s.UpdateHealthMetrics(hc.name, true)
			continue
		}

		status.Services[hc.name] = StatusUnhealthy
		s.UpdateHealthMetrics(hc.name, false)
		if hc.critical {
			status.Critical = append(status.Critical, hc.name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", hc.name)
		} else {
			status.NonCritical = append(status.NonCritical, hc.name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", hc.name)
		}
	}

	// Overall status
	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = StatusHealthy
		} else {
			status.Status = StatusDegraded
		}
	} else {
		status.Status = StatusUnhealthy
	}
	status.Latency = time.Since(start)

	return status
}

// StartCollectors samples runtime and pool metrics until ctx is cancelled.
func (s *HealthService) StartCollectors(ctx context.Context) {
	go s.collectSystemMetrics(ctx)
	go s.collectDatabaseMetrics(ctx)
}

// collectSystemMetrics collects system-level metrics
func (s *HealthService) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var memStats runtime.MemStats

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runtime.ReadMemStats(&memStats)

		s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
		s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
		s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
	}
}

// collectDatabaseMetrics collects database connection metrics
func (s *HealthService) collectDatabaseMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.pool == nil {
			continue
		}
		stats := s.pool.Stat()

		s.dbConnectionMetrics.WithLabelValues("postgresql", "acquired_conns").Set(float64(stats.AcquiredConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "idle_conns").Set(float64(stats.IdleConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "max_conns").Set(float64(stats.MaxConns()))
		s.dbConnectionMetrics.WithLabelValues("postgresql", "total_conns").Set(float64(stats.TotalConns()))

		if stats.MaxConns() > 0 {
			usage := float64(stats.AcquiredConns()) / float64(stats.MaxConns()) * 100
			s.dbConnectionMetrics.WithLabelValues("postgresql", "usage_percent").Set(usage)
		}
	}
}

// UpdateHealthMetrics updates health check metrics
func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
