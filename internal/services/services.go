package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/config"
	"github.com/temcen/hybridrec/internal/database"
	"github.com/temcen/hybridrec/internal/messaging"
	"github.com/temcen/hybridrec/internal/validation"
)

// CatalogStore is the full store surface the service needs.
type CatalogStore interface {
	RecommendationStore
	CatalogWriter
}

type Services struct {
	Store          CatalogStore
	Metrics        *Metrics
	Health         *HealthService
	Cache          *ResultCache
	CatalogIndex   *CatalogIndex
	CatalogSync    *CatalogSync
	Recommendation *RecommendationEngine
	MessageBus     *messaging.MessageBus
	Schemas        *validation.SchemaValidator
}

// New wires the recommendation services over store. db supplies the Redis
// cache and the health checks and may be nil in tests.
func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, store CatalogStore, reg prometheus.Registerer) (*Services, error) {
	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(reg)
	recCfg := &cfg.Recommendation

	var cache *ResultCache
	healthService := NewHealthService(reg, logger)
	if db != nil {
		if db.PG != nil {
			healthService.AddPostgres(db.PG)
		}
		if db.Redis != nil {
			cache = NewResultCache(db.Redis, recCfg.CacheTTL, metrics, logger)
			healthService.AddRedis(db.Redis)
			healthService.AddResultCache(cache)
		}
		if db.Neo4j != nil {
			healthService.AddNeo4j(db.Neo4j)
		}
	}

	catalogIndex := NewCatalogIndex(store, metrics, logger)
	if cfg.Catalog.RebuildTimeout > 0 {
		catalogIndex.buildTimeout = cfg.Catalog.RebuildTimeout
	}
	healthService.AddSimilarityIndex(catalogIndex)
	catalogSync := NewCatalogSync(store, catalogIndex, metrics, logger)

	engine := NewRecommendationEngine(
		NewPreferenceModel(store, recCfg, metrics, logger),
		NewCollaborativeGenerator(store, recCfg, logger),
		NewCategoryFallbackGenerator(store, recCfg, logger),
		NewHybridRanker(recCfg.MaxRecommendations, logger),
		catalogIndex,
		cache,
		recCfg,
		metrics,
		logger,
	)

	var messageBus *messaging.MessageBus
	if cfg.Catalog.SyncEnabled {
		messageBus, err = messaging.NewMessageBus(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Services{
		Store:          store,
		Metrics:        metrics,
		Health:         healthService,
		Cache:          cache,
		CatalogIndex:   catalogIndex,
		CatalogSync:    catalogSync,
		Recommendation: engine,
		MessageBus:     messageBus,
		Schemas:        schemas,
	}, nil
}

func (s *Services) Close() error {
	if s.MessageBus != nil {
		return s.MessageBus.Close()
	}
	return nil
}
