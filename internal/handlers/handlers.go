package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/hybridrec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	var publisher CatalogPublisher
	if services.MessageBus != nil {
		publisher = services.MessageBus
	}

	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Recommendation: NewRecommendationHandler(services.Recommendation, logger),
		Admin:          NewAdminHandler(services.CatalogIndex, services.CatalogSync, publisher, services.Schemas, logger),
	}
}
