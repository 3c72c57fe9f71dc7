// Package api serves the catalog query surface over HTTP.
package api

import (
	"context"
	"time"

	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/common/validation"
	"loan-catalog/internal/models"
	"loan-catalog/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Catalog is what the handlers need from the pipeline.
type Catalog interface {
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	Refresh(ctx context.Context, req pipeline.RefreshRequest) (*pipeline.RefreshOutcome, error)
	Countries(ctx context.Context) []string
	CatalogStats(ctx context.Context) models.CatalogStats
	SystemStatus() pipeline.SystemStatus
	ClearCache(ctx context.Context) (int, error)
	ValidationSample() (models.RawRecord, validation.Outcome)
}

// ReadinessCheck reports whether a backing service is reachable.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	catalog Catalog
	checks  map[string]ReadinessCheck
	logger  logger.Logger
	now     func() time.Time
}

func NewHandler(catalog Catalog, checks map[string]ReadinessCheck, log logger.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		checks:  checks,
		logger:  log.WithFields(map[string]interface{}{"component": "api"}),
		now:     time.Now,
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(otelgin.Middleware(serviceName))
	r.Use(RequestID())
	r.Use(Recovery(h.logger))
	r.Use(AccessLog(h.logger))

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	loans := r.Group("/loans")
	{
		loans.GET("", h.ListLoans)
		loans.POST("/refresh", h.Refresh)
		loans.GET("/countries", h.Countries)
		loans.GET("/stats", h.Stats)
		loans.GET("/system/status", h.SystemStatus)
		loans.POST("/system/cache/clear", h.ClearCache)
		loans.GET("/validation/test", h.ValidationTest)
	}
	return r
}
