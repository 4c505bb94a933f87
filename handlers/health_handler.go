package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/routeguard/services/audit"
	"github.com/upb/routeguard/services/routes"
	"github.com/upb/routeguard/tokens"
	"github.com/upb/routeguard/utils"
	"go.uber.org/zap"
)

// Version is reported by the status endpoint. Set at build time with -ldflags.
var Version = "dev"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse reports runtime statistics
type StatusResponse struct {
	Version     string             `json:"version"`
	Environment string             `json:"environment"`
	RouteCache  routes.CacheStats  `json:"route_cache"`
	Audit       *audit.Stats       `json:"audit,omitempty"`
	Tokens      *tokens.CacheStats `json:"tokens,omitempty"`
}

// DatabaseHealth checks that the database answers queries
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) error
}

// CatalogHealth is the part of the route catalog the readiness check uses
type CatalogHealth interface {
	Validate(ctx context.Context) ([]routes.Problem, error)
	CacheStats() routes.CacheStats
}

// AuditStats reports the state of the audit worker pool
type AuditStats interface {
	GetStats() audit.Stats
}

// TokenStats reports the state of the signing key cache
type TokenStats interface {
	GetCacheStats() tokens.CacheStats
}

// HealthSources are the components inspected by the health endpoints.
// Any of them may be nil.
type HealthSources struct {
	Database DatabaseHealth
	Catalog  CatalogHealth
	Audit    AuditStats
	Tokens   TokenStats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	sources     HealthSources
	environment string
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(sources HealthSources, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		sources:     sources,
		environment: environment,
		logger:      logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.sources.Database == nil {
		checks["database"] = "not configured"
	} else if err := h.sources.Database.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.sources.Catalog != nil {
		problems, err := h.sources.Catalog.Validate(ctx)
		switch {
		case err != nil:
			h.logger.Warn("route catalog health check failed", zap.Error(err))
			checks["routes"] = "unavailable"
			allHealthy = false
		case len(problems) > 0:
			h.logger.Warn("route catalog has misconfigured routes", zap.Any("problems", problems))
			checks["routes"] = strconv.Itoa(len(problems)) + " misconfigured"
			allHealthy = false
		default:
			checks["routes"] = "healthy"
		}
	}

	if h.sources.Audit != nil {
		if h.sources.Audit.GetStats().Started {
			checks["audit"] = "running"
		} else {
			checks["audit"] = "stopped"
			allHealthy = false
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:     Version,
		Environment: h.environment,
	}
	if h.sources.Catalog != nil {
		response.RouteCache = h.sources.Catalog.CacheStats()
	}
	if h.sources.Audit != nil {
		stats := h.sources.Audit.GetStats()
		response.Audit = &stats
	}
	if h.sources.Tokens != nil {
		stats := h.sources.Tokens.GetCacheStats()
		response.Tokens = &stats
	}
	_ = utils.WriteOK(w, response)
}
