package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	commonerrors "loan-catalog/internal/common/errors"
	"loan-catalog/internal/pipeline"

	"github.com/gin-gonic/gin"
)

const readyTimeout = 2 * time.Second

// respondError writes the structured failure body.
func respondError(c *gin.Context, err error) {
	stdErr := commonerrors.Normalize(err)
	c.AbortWithStatusJSON(commonerrors.HTTPStatus(stdErr.Code), gin.H{
		"success": false,
		"message": stdErr.Message,
		"error": gin.H{
			"code":    stdErr.Code,
			"details": stdErr.Details,
		},
	})
}

// ListLoans serves GET /loans.
func (h *Handler) ListLoans(c *gin.Context) {
	var q loansQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, commonerrors.NewInvalidQueryParameterError("query", err.Error()))
		return
	}
	req, stdErr := q.toRequest()
	if stdErr != nil {
		respondError(c, stdErr)
		return
	}

	res, err := h.catalog.Query(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(res.Records),
		"data":    res.Records,
		"sources": res.Sources,
		"filters": req.Filters,
		"meta":    res.Meta,
	})
}

// Refresh serves POST /loans/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, commonerrors.NewInvalidRequestBodyError(err.Error()))
		return
	}
	if err := validate.Struct(body); err != nil {
		respondError(c, commonerrors.NewInvalidRequestBodyError(err.Error()))
		return
	}

	out, err := h.catalog.Refresh(c.Request.Context(), pipeline.RefreshRequest{
		Source:     body.Source,
		ClearCache: body.ClearCache,
		Job:        body.Job,
	})
	if err != nil {
		h.logger.Warn("refresh failed", map[string]interface{}{
			"source":    body.Source,
			"job":       body.Job,
			"error":     err.Error(),
			"requestId": c.GetString(requestIDKey),
		})
		respondError(c, err)
		return
	}

	if out.Triggered {
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"message": fmt.Sprintf("Job %s triggered", out.Job),
			"data":    out,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    fmt.Sprintf("Refreshed %d records", out.Refreshed),
		"refreshed":  out.Refreshed,
		"validation": out.Validation,
		"data":       out,
	})
}

// Countries serves GET /loans/countries.
func (h *Handler) Countries(c *gin.Context) {
	countries := h.catalog.Countries(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(countries),
		"data":    countries,
	})
}

// Stats serves GET /loans/stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.catalog.CatalogStats(c.Request.Context()),
	})
}

// SystemStatus serves GET /loans/system/status.
func (h *Handler) SystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      h.catalog.SystemStatus(),
		"timestamp": h.now().UTC(),
	})
}

// ClearCache serves POST /loans/system/cache/clear. The memory tier is
// always cleared; a remote tier failure is reported as a warning.
func (h *Handler) ClearCache(c *gin.Context) {
	n, err := h.catalog.ClearCache(c.Request.Context())
	resp := gin.H{
		"success": true,
		"message": "Cache cleared",
		"cleared": n,
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// ValidationTest serves GET /loans/validation/test.
func (h *Handler) ValidationTest(c *gin.Context) {
	raw, outcome := h.catalog.ValidationSample()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"input":  raw,
			"result": outcome,
		},
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": h.now().UTC()})
}

// Ready runs every readiness check.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
