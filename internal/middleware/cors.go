package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/temcen/hybridrec/internal/config"
)

func CORS(cfg *config.Config) gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins:     cfg.Security.CORS.AllowedOrigins,
		AllowMethods:     cfg.Security.CORS.AllowedMethods,
		AllowHeaders:     append([]string{RequestIDHeader}, cfg.Security.CORS.AllowedHeaders...),
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: true,
	}

	return cors.New(config)
}
