package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/internal/database"
	"github.com/temcen/hybridrec/internal/handlers"
	"github.com/temcen/hybridrec/internal/middleware"
	"github.com/temcen/hybridrec/internal/services"
	"github.com/temcen/hybridrec/internal/store"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
	gatherer prometheus.Gatherer

	rebuildSchedule cron.Schedule
	scheduler       *cron.Cron

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg)

	// Initialize database connections
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var catalogStore services.CatalogStore = store.NewPostgresStore(db.PG, logger)
	if db.Neo4j != nil {
		catalogStore = services.WithCohortSource(catalogStore, store.NewPurchaseGraph(db.Neo4j, logger), logger)
		logger.Info("Collaborative reads served from the Neo4j purchase graph")
	}

	app, err := newApp(cfg, logger, db, catalogStore,
		prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(cfg *config.Config, logger *logrus.Logger, db *database.Database, catalogStore services.CatalogStore,
	reg prometheus.Registerer, gatherer prometheus.Gatherer) (*App, error) {
	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		gatherer: gatherer,
	}

	if spec := cfg.Catalog.RebuildSchedule; spec != "" {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid catalog rebuild schedule %q: %w", spec, err)
		}
		app.rebuildSchedule = schedule
	}

	svc, err := services.New(cfg, logger, db, catalogStore, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc
	app.handlers = handlers.New(logger, svc)

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start builds the first similarity index and launches background workers.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.config.Catalog.RebuildOnStartup {
		a.rebuildIndex(ctx)
	}

	a.services.Health.StartCollectors(ctx)

	if a.rebuildSchedule != nil {
		a.scheduler = cron.New()
		a.scheduler.Schedule(a.rebuildSchedule, cron.FuncJob(func() {
			a.logger.Info("Running scheduled similarity index rebuild")
			a.rebuildIndex(ctx)
		}))
		a.scheduler.Start()
	}

	if bus := a.services.MessageBus; bus != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.WithField("topic", a.config.Kafka.Topics.CatalogUpdates).Info("Catalog feed consumer started")
			err := bus.ConsumeCatalogUpdates(ctx, a.services.CatalogSync.HandleEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("Catalog feed consumer stopped")
			}
		}()
	}
}

func (a *App) rebuildIndex(ctx context.Context) {
	if a.config.Catalog.RebuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Catalog.RebuildTimeout)
		defer cancel()
	}

	if _, err := a.services.CatalogIndex.Rebuild(ctx); err != nil {
		// Until one rebuild succeeds, requests needing the index answer 503
		a.logger.WithError(err).Warn("Similarity index rebuild failed")
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	if a.cancel != nil {
		a.cancel()
	}
	if a.scheduler != nil {
		select {
		case <-a.scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	a.wg.Wait()

	var errs []error
	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing catalog feed")
		errs = append(errs, err)
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing database connections")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	router.GET("/health", a.handlers.Health.Check)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.POST("/personalized", a.handlers.Recommendation.Personalized)
			recommendations.GET("/:customerId", a.handlers.Recommendation.Get)
		}

		products := api.Group("/products")
		{
			products.GET("/seasonal", a.handlers.Recommendation.Seasonal)
			products.GET("/:productId/similar", a.handlers.Recommendation.Similar)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/catalog/rebuild", a.handlers.Admin.RebuildCatalog)
			admin.POST("/catalog/updates", a.handlers.Admin.UpdateCatalog)
		}
	}

	a.router = router
}
