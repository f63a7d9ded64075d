// Package api stellt die HTTP-Schnittstelle des Kiosks bereit: Status,
// Laufzeit-Konfiguration, Reset, Besuchshistorie und den Ereignis-Stream.
package api

import (
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/api/middleware"
	"facebooth-go/internal/locale"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RouteRegistrar registriert Routen unter /api
type RouteRegistrar interface {
	RegisterRoutes(router *gin.RouterGroup)
}

// NewRouter erstellt den gin-Router mit CORS, Sprachwahl und allen Handlern
func NewRouter(cfg config.ServerConfig, translator *locale.Translator, registrars ...RouteRegistrar) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 0 || containsWildcard(cfg.CORSOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "PUT", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Accept-Language")
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	api.Use(middleware.I18n(translator))
	for _, r := range registrars {
		r.RegisterRoutes(api)
	}
	return router
}

// requestLogger protokolliert Anfragen über logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Microsecond),
		}).Debug("HTTP request")
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
