package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/codyseavey/mtg-finder/internal/api/handlers"
	"github.com/codyseavey/mtg-finder/internal/services"
)

// RouterConfig carries the HTTP-facing settings
type RouterConfig struct {
	AllowedOrigins   []string
	RateLimit        float64 // requests per second per client, 0 = off
	RateBurst        int
	FrontendDistPath string
	UpdateTimeout    time.Duration
}

func SetupRouter(ctx context.Context, cfg RouterConfig, finder *services.FinderService, updater *services.UpdateService, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log), metricsMiddleware())

	serveFrontend := cfg.FrontendDistPath != "" && dirExists(cfg.FrontendDistPath)

	// CORS configuration - allow configured origins or local dev servers
	config := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		config.AllowOrigins = cfg.AllowedOrigins
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	config.AllowCredentials = false
	router.Use(cors.New(config))

	// Initialize handlers
	finderHandler := handlers.NewFinderHandler(finder)
	databaseHandler := handlers.NewDatabaseHandler(ctx, finder, updater, cfg.UpdateTimeout, log)

	// API routes
	api := router.Group("/api", rateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	{
		api.GET("/underpriced", finderHandler.GetUnderpriced)
		api.GET("/commander", finderHandler.SearchCommander)
		api.POST("/commander", finderHandler.SearchCommander)
		api.GET("/commanders/search", finderHandler.SearchCommanders)

		database := api.Group("/database")
		{
			database.GET("/status", databaseHandler.GetStatus)
			database.POST("/update", databaseHandler.TriggerUpdate)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Serve frontend static files
	if serveFrontend {
		indexPath := filepath.Join(cfg.FrontendDistPath, "index.html")

		router.Static("/assets", filepath.Join(cfg.FrontendDistPath, "assets"))

		router.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})

		// SPA fallback - serve index.html for all non-API routes
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.File(indexPath)
		})
	} else {
		router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		})
	}

	return router
}

// requestLogger logs one line per request
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
