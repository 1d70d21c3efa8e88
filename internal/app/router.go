package app

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datahub.migas.id/clearinghouse/internal/api/handlers"
	"datahub.migas.id/clearinghouse/internal/api/middleware"
	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/metrics"
)

// Public routes that do NOT require JWT authentication.
var publicPrefixes = []string{
	"/api/v1/health/",
	"/metrics",
}

// defaultAllowedOrigins are used when server.allowed_origins is empty.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		cors.New(buildCORSConfig(cfg)),
		metrics.GinMiddleware(),
		middleware.AccessLog(),
		middleware.ErrorHandler(),
	)
	router.Use(jwtSkipPublic(jwtCfg))

	admin := middleware.RequirePermission(middleware.PermPlatformAdmin, middleware.PermComplianceAdmin)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	levelHandler := gin.WrapH(logger.LevelHandler())
	router.GET("/log/level", admin, levelHandler)
	router.PUT("/log/level", admin, levelHandler)

	handlers.RegisterRoutes(router.Group("/api/v1"), server, admin)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "route not found"})
	})
	return router
}

// jwtSkipPublic returns middleware that applies JWT auth only on non-public routes.
func jwtSkipPublic(jwtCfg middleware.JWTConfig) gin.HandlerFunc {
	jwtMw := middleware.JWTAuth(jwtCfg)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}

// buildCORSConfig turns server settings into a cors.Config. A "*" origin is
// dropped unless unsafe_allow_all_origins is set, in which case credentials
// are disabled as browsers require. An empty list falls back to the local
// portal dev servers.
func buildCORSConfig(cfg *config.Config) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins && slices.Contains(cfg.Server.AllowedOrigins, "*") {
		out.AllowAllOrigins = true
		out.AllowCredentials = false
		return out
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	out.AllowOrigins = origins
	return out
}
