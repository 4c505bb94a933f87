package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/middleware"
	"github.com/upb/routeguard/services/routes"
	"github.com/upb/routeguard/utils"
	"go.uber.org/zap"
)

// RouteCatalog defines the route catalog operations exposed over HTTP
type RouteCatalog interface {
	List(ctx context.Context) ([]routes.Entry, error)
	Get(ctx context.Context, name string) (*routes.Entry, error)
	Put(ctx context.Context, def access.RouteDefinition) (bool, error)
	Delete(ctx context.Context, name string) error
	Validate(ctx context.Context) ([]routes.Problem, error)
}

// RuleRequest represents an access rule in API requests
type RuleRequest struct {
	Kind  string   `json:"kind" validate:"required,oneof=allow_all allow_roles allow_all_users"`
	Roles []string `json:"roles,omitempty" validate:"omitempty,unique,dive,required"`
}

// PutRouteRequest represents a request to create or replace a stored route.
// The route name is taken from the path.
type PutRouteRequest struct {
	Parent      string       `json:"parent,omitempty" validate:"omitempty,routename"`
	Rule        *RuleRequest `json:"rule,omitempty"`
	Layouts     []string     `json:"layouts,omitempty" validate:"omitempty,unique,dive,routename"`
	Description string       `json:"description,omitempty" validate:"max=1000"`
}

// Definition converts the request into a route definition named name
func (r PutRouteRequest) Definition(name string) access.RouteDefinition {
	def := access.RouteDefinition{
		Name:        name,
		Parent:      r.Parent,
		Layouts:     r.Layouts,
		Description: r.Description,
	}
	if r.Rule != nil {
		def.Rule = &access.Rule{Kind: access.RuleKind(r.Rule.Kind), Roles: r.Rule.Roles}
	}
	return def
}

// RouteListResponse represents the route catalog in API responses
type RouteListResponse struct {
	Routes []routes.Entry `json:"routes"`
	Count  int            `json:"count"`
}

// ValidationResponse reports the outcome of a catalog validation
type ValidationResponse struct {
	Valid    bool             `json:"valid"`
	Problems []routes.Problem `json:"problems"`
}

// RouteHandler handles route catalog requests
type RouteHandler struct {
	catalog RouteCatalog
	logger  *zap.Logger
}

// NewRouteHandler creates a new RouteHandler
func NewRouteHandler(catalog RouteCatalog, logger *zap.Logger) *RouteHandler {
	return &RouteHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// HandleListRoutes handles GET /api/v1/routes
func (h *RouteHandler) HandleListRoutes(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.List(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, RouteListResponse{Routes: entries, Count: len(entries)})
}

// HandleGetRoute handles GET /api/v1/routes/{name}
func (h *RouteHandler) HandleGetRoute(w http.ResponseWriter, r *http.Request) {
	name, ok := routeNameParam(w, r)
	if !ok {
		return
	}

	entry, err := h.catalog.Get(r.Context(), name)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, entry)
}

// HandlePutRoute handles PUT /api/v1/routes/{name}
func (h *RouteHandler) HandlePutRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name, ok := routeNameParam(w, r)
	if !ok {
		return
	}

	var req PutRouteRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	created, err := h.catalog.Put(ctx, req.Definition(name))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("route saved via API",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("route", name),
		zap.Bool("created", created))

	entry, err := h.catalog.Get(ctx, name)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if created {
		_ = utils.WriteCreated(w, entry)
		return
	}
	_ = utils.WriteOK(w, entry)
}

// HandleDeleteRoute handles DELETE /api/v1/routes/{name}
func (h *RouteHandler) HandleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	name, ok := routeNameParam(w, r)
	if !ok {
		return
	}

	if err := h.catalog.Delete(r.Context(), name); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleValidateRoutes handles POST /api/v1/routes/validate
func (h *RouteHandler) HandleValidateRoutes(w http.ResponseWriter, r *http.Request) {
	problems, err := h.catalog.Validate(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if problems == nil {
		problems = []routes.Problem{}
	}
	_ = utils.WriteOK(w, ValidationResponse{Valid: len(problems) == 0, Problems: problems})
}

func routeNameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if err := utils.ValidateRouteName(name); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return "", false
	}
	return name, true
}
