// Package httpapi serves the ruletrace query surface as a JSON API for the
// dashboard, plus the Prometheus scrape endpoint.
//
// Endpoints:
//
//	GET  /api/version                      - Current snapshot version
//	GET  /api/config                       - Active configuration and config error
//	GET  /api/status                       - Coverage per spec/impl pair
//	GET  /api/spec/:spec/:impl             - Rendered documents with outline coverage
//	GET  /api/forward/:spec/:impl          - Rule to references
//	GET  /api/reverse/:spec/:impl          - File to code units, plus folder tree
//	GET  /api/file/:spec/:impl/*path       - File content with line annotations
//	GET  /api/search?q=&limit=             - Rules, files and source lines
//	GET  /api/rule/:id                     - One rule across every impl
//	GET  /api/uncovered?spec_impl=&prefix= - Rules without impl references
//	GET  /api/untested?spec_impl=&prefix=  - Implemented rules without verify references
//	GET  /api/unmapped?spec_impl=&path=    - Code units without rule references
//	GET  /api/validate?spec_impl=          - Validation report
//	POST /api/reload                       - Reload configuration and rebuild
//	GET  /healthz                          - Liveness
//	GET  /metrics                          - Prometheus metrics
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jward/ruletrace"
)

// Engine is what the API needs from a ruletrace engine.
type Engine interface {
	Query() *ruletrace.QueryBuilder
	Reload(ctx context.Context) (ruletrace.ReloadResult, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// VersionResponse is returned by /api/version.
type VersionResponse struct {
	Version uint64 `json:"version"`
}

// Handlers serves the API over one engine.
type Handlers struct {
	engine Engine
	logger *slog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(engine Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, logger: logger}
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes registers the API, health and metrics routes on r.
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	api := r.Group("/api")
	{
		api.GET("/version", h.HandleVersion)
		api.GET("/config", h.HandleConfig)
		api.GET("/status", h.HandleStatus)
		api.GET("/spec/:spec/:impl", h.HandleSpec)
		api.GET("/forward/:spec/:impl", h.HandleForward)
		api.GET("/reverse/:spec/:impl", h.HandleReverse)
		api.GET("/file/:spec/:impl/*path", h.HandleFile)
		api.GET("/search", h.HandleSearch)
		api.GET("/rule/:id", h.HandleRule)
		api.GET("/uncovered", h.HandleUncovered)
		api.GET("/untested", h.HandleUntested)
		api.GET("/unmapped", h.HandleUnmapped)
		api.GET("/validate", h.HandleValidate)
		api.POST("/reload", h.HandleReload)
	}
	r.GET("/healthz", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HandleVersion handles GET /api/version. Clients poll it and refetch when
// the version changes.
func (h *Handlers) HandleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{Version: h.engine.Query().Version()})
}

// HandleConfig handles GET /api/config.
func (h *Handlers) HandleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Query().Config())
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Query().Status())
}

// HandleSpec handles GET /api/spec/:spec/:impl.
func (h *Handlers) HandleSpec(c *gin.Context) {
	v, err := h.engine.Query().Spec(c.Param("spec"), c.Param("impl"))
	h.respond(c, v, err)
}

// HandleForward handles GET /api/forward/:spec/:impl.
func (h *Handlers) HandleForward(c *gin.Context) {
	v, err := h.engine.Query().Forward(c.Param("spec"), c.Param("impl"))
	h.respond(c, v, err)
}

// HandleReverse handles GET /api/reverse/:spec/:impl.
func (h *Handlers) HandleReverse(c *gin.Context) {
	v, err := h.engine.Query().Reverse(c.Param("spec"), c.Param("impl"))
	h.respond(c, v, err)
}

// HandleFile handles GET /api/file/:spec/:impl/*path.
func (h *Handlers) HandleFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "path is required", Code: "INVALID_ARGUMENT"})
		return
	}
	v, err := h.engine.Query().File(c.Param("spec"), c.Param("impl"), path)
	h.respond(c, v, err)
}

// HandleSearch handles GET /api/search.
func (h *Handlers) HandleSearch(c *gin.Context) {
	query := c.Query("q")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "q is required", Code: "INVALID_ARGUMENT"})
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_ARGUMENT"})
			return
		}
		limit = n
	}
	results := h.engine.Query().Search(query, limit)
	if results == nil {
		results = []ruletrace.SearchResult{}
	}
	c.JSON(http.StatusOK, results)
}

// HandleRule handles GET /api/rule/:id.
func (h *Handlers) HandleRule(c *gin.Context) {
	v, err := h.engine.Query().Rule(c.Param("id"))
	h.respond(c, v, err)
}

// HandleUncovered handles GET /api/uncovered.
func (h *Handlers) HandleUncovered(c *gin.Context) {
	v, err := h.engine.Query().Uncovered(c.Query("spec_impl"), c.Query("prefix"))
	h.respond(c, v, err)
}

// HandleUntested handles GET /api/untested.
func (h *Handlers) HandleUntested(c *gin.Context) {
	v, err := h.engine.Query().Untested(c.Query("spec_impl"), c.Query("prefix"))
	h.respond(c, v, err)
}

// HandleUnmapped handles GET /api/unmapped.
func (h *Handlers) HandleUnmapped(c *gin.Context) {
	v, err := h.engine.Query().Unmapped(c.Query("spec_impl"), c.Query("path"))
	h.respond(c, v, err)
}

// HandleValidate handles GET /api/validate.
func (h *Handlers) HandleValidate(c *gin.Context) {
	v, err := h.engine.Query().Validate(c.Query("spec_impl"))
	h.respond(c, v, err)
}

// HandleReload handles POST /api/reload.
func (h *Handlers) HandleReload(c *gin.Context) {
	res, err := h.engine.Reload(c.Request.Context())
	if err != nil {
		h.logger.Warn("reload incomplete", "error", err)
	}
	c.JSON(http.StatusOK, res)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.engine.Query().Version()})
}

func (h *Handlers) respond(c *gin.Context, v any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, v)
		return
	}
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("query failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: strings.TrimPrefix(err.Error(), "ruletrace: "), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ruletrace.ErrNoSnapshot):
		return http.StatusServiceUnavailable, "NOT_READY"
	case errors.Is(err, ruletrace.ErrUnknownSpec):
		return http.StatusNotFound, "UNKNOWN_SPEC"
	case errors.Is(err, ruletrace.ErrAmbiguousSelection):
		return http.StatusBadRequest, "AMBIGUOUS_SELECTION"
	case errors.Is(err, ruletrace.ErrRuleNotFound):
		return http.StatusNotFound, "RULE_NOT_FOUND"
	case errors.Is(err, ruletrace.ErrPathNotFound):
		return http.StatusNotFound, "PATH_NOT_FOUND"
	}
	return http.StatusInternalServerError, "INTERNAL"
}
