package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// Handlers groups what the router mounts. Nil members are left unrouted.
type Handlers struct {
	Extract  *ExtractHandler
	Tax      *TaxHandler
	Jobs     *JobsHandler
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine. maxUpload also caps multipart memory.
func NewRouter(h Handlers, maxUpload int64, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	if maxUpload > 0 {
		router.MaxMultipartMemory = maxUpload
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "docextract",
		})
	})
	if h.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}
	if h.Tax != nil {
		router.POST("/generate-report", h.Tax.GenerateReport)
	}

	api := router.Group("/api/v1")
	{
		if h.Extract != nil {
			api.POST("/extract", h.Extract.Extract)
		}
		if h.Jobs != nil {
			jobs := api.Group("/jobs")
			{
				jobs.GET("", h.Jobs.List)
				jobs.GET("/export.xlsx", h.Jobs.ExportXLSX)
				jobs.GET("/:id", h.Jobs.Get)
			}
		}
	}
	return router
}

// requestLogger tags each request with an id and logs it once finished.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()
		if rid := c.GetHeader(RequestIDHeader); rid != "" {
			ctx = common.WithRequestID(ctx, rid)
		}
		ctx, rid := common.EnsureRequestID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, rid)

		c.Next()

		logger.Info("http.request",
			"req_id", rid,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
