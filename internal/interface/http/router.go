package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/namtroi/ragbase/internal/infra/config"
)

// NewRouter wires the ingestion HTTP surface (spec.md §6) and returns a
// configured server, grounded on the teacher's NewRouter shape: gin engine,
// a fixed middleware chain, route groups, withRetry wrapping the handler.
func NewRouter(cfg *config.Config, handler *IngestHandler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		errorHandlingMiddleware(handler.logger),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/internal/callback", callbackBodyLimit(cfg.Ingestion.CallbackBodyCapMB), handler.Callback)

	api := router.Group("/api")
	api.Use(apiKeyMiddleware(cfg.Ingestion.APIKey))
	{
		docs := api.Group("/documents")
		{
			docs.POST("", handler.UploadDocument)
			docs.GET("", handler.ListDocuments)
			docs.GET("/:id", handler.GetDocument)
			docs.GET("/:id/content", handler.GetDocumentContent)
			docs.PATCH("/:id/availability", handler.SetAvailability)
			docs.PATCH("/bulk/availability", handler.BulkSetAvailability)
			docs.DELETE("/bulk", handler.BulkDeleteDocuments)
			docs.DELETE("/:id", handler.DeleteDocument)
			docs.POST("/:id/retry", handler.RetryDocument)
		}

		api.POST("/query", handler.Query)

		profiles := api.Group("/profiles")
		{
			profiles.GET("", handler.ListProfiles)
			profiles.POST("", handler.CreateProfile)
			profiles.GET("/:id", handler.GetProfile)
			profiles.DELETE("/:id", handler.DeleteProfile)
			profiles.POST("/:id/activate", handler.ActivateProfile)
			profiles.POST("/:id/archive", handler.ArchiveProfile)
			profiles.POST("/:id/unarchive", handler.UnarchiveProfile)
		}

		analytics := api.Group("/analytics")
		{
			analytics.GET("/overview", handler.AnalyticsOverview)
			analytics.GET("/processing", handler.AnalyticsProcessing)
			analytics.GET("/quality", handler.AnalyticsQuality)
			analytics.GET("/documents", handler.AnalyticsDocuments)
			analytics.GET("/documents/:id/chunks", handler.AnalyticsDocumentChunks)
		}
	}

	if cfg.Ingestion.EventsRequireAuth {
		api.GET("/events", handler.Events)
	} else {
		router.GET("/api/events", handler.Events)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}

// callbackBodyLimit enforces spec.md §6's 100 MiB callback body cap.
func callbackBodyLimit(capMB int) gin.HandlerFunc {
	if capMB <= 0 {
		capMB = 100
	}
	max := int64(capMB) << 20
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}
