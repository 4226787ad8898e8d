package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/gitlab-flows/internal/bridge"
	"github.com/kurihiro0119/gitlab-flows/internal/domain"
	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
	"github.com/kurihiro0119/gitlab-flows/internal/metrics"
	"github.com/kurihiro0119/gitlab-flows/internal/storage"
)

// Handler handles API requests
type Handler struct {
	tools   *bridge.Server
	store   storage.Storage
	metrics *metrics.Metrics
}

// NewHandler creates a new API handler. store and m may be nil.
func NewHandler(tools *bridge.Server, store storage.Storage, m *metrics.Metrics) *Handler {
	return &Handler{
		tools:   tools,
		store:   store,
		metrics: m,
	}
}

// ListTools returns the callable tool definitions
// GET /api/v1/tools
func (h *Handler) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": h.tools.Tools(),
	})
}

// CallTool runs one tool with the JSON body as its arguments
// POST /api/v1/tools/:name/call
func (h *Handler) CallTool(c *gin.Context) {
	name := c.Param("name")

	var args map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			respondError(c, apperrors.NewInvalidArgumentError("request body must be a JSON object"))
			return
		}
	}

	resp, err := h.tools.Call(c.Request.Context(), name, args)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": resp,
	})
}

// ListRuns returns indexed runs, newest first
// GET /api/v1/runs?flow=&limit=
func (h *Handler) ListRuns(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{
			"data": []*domain.RunSummary{},
		})
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context(), c.Query("flow"), parseIntQuery(c, "limit", storage.DefaultListLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.RunSummary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns one indexed run
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	if h.store == nil {
		respondNotFound(c, "run history is disabled")
		return
	}

	run, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondNotFound(c, err.Error())
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// Metrics serves the Prometheus registry
// GET /metrics
func (h *Handler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func respondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": gin.H{
			"code":    "NOT_FOUND",
			"message": message,
		},
	})
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeUnknownFlow:
			status = http.StatusNotFound
		case apperrors.ErrCodeInvalidArgument, apperrors.ErrCodeInvalidReference, apperrors.ErrCodeConfig:
			status = http.StatusBadRequest
		case apperrors.ErrCodeTransport, apperrors.ErrCodeDecode, apperrors.ErrCodeExternalCommand:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
