package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/middleware"
	"github.com/upb/routeguard/services"
	"github.com/upb/routeguard/utils"
	"go.uber.org/zap"
)

// AccessChecker decides whether a principal may open a route. Check is used
// for the caller itself and audits rejections; Evaluate answers for a
// principal described in the request.
type AccessChecker interface {
	Check(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error)
	Evaluate(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error)
}

type decideFunc func(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error)

// CheckAccessRequest asks for a decision on behalf of an explicit principal.
// Roles are ignored when logged_in is false.
type CheckAccessRequest struct {
	Route      string   `json:"route" validate:"required,routename"`
	LoggedIn   bool     `json:"logged_in"`
	Roles      []string `json:"roles,omitempty" validate:"omitempty,dive,required"`
	Navigation bool     `json:"navigation"`
}

// Principal returns the principal snapshot described by the request
func (r CheckAccessRequest) Principal() access.Principal {
	if !r.LoggedIn {
		return access.Anonymous()
	}
	roles := r.Roles
	if roles == nil {
		roles = []string{}
	}
	return access.User(roles...)
}

// DecisionResponse represents an access decision in API responses
type DecisionResponse struct {
	Allowed    bool             `json:"allowed"`
	Reason     string           `json:"reason,omitempty"`
	Route      string           `json:"route"`
	Target     string           `json:"target"`
	RuleSource string           `json:"rule_source,omitempty"`
	Rule       string           `json:"rule,omitempty"`
	Principal  access.Principal `json:"principal"`
}

// AccessHandler handles access decision requests
type AccessHandler struct {
	checker AccessChecker
	logger  *zap.Logger
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(checker AccessChecker, logger *zap.Logger) *AccessHandler {
	return &AccessHandler{
		checker: checker,
		logger:  logger,
	}
}

// HandleCheck handles POST /api/v1/access/check
func (h *AccessHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckAccessRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	h.respond(w, r, h.checker.Evaluate, req.Principal(), req.Route, req.Navigation)
}

// HandleCurrent handles GET /api/v1/access/me?route=X[&navigation=true]
// It evaluates the caller identified by the bearer token, or an anonymous
// caller when no token was sent.
func (h *AccessHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	route := query.Get("route")
	if err := utils.ValidateRouteName(route); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	navigation := false
	if raw := query.Get("navigation"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "navigation must be a boolean", nil)
			return
		}
		navigation = parsed
	}

	h.respond(w, r, h.checker.Check, middleware.PrincipalFromContext(r.Context()), route, navigation)
}

// respond writes the decision. A rejection is a successful answer to the
// question asked, so it is reported with 200 rather than 401/403.
func (h *AccessHandler) respond(w http.ResponseWriter, r *http.Request, decide decideFunc, p access.Principal, route string, navigation bool) {
	ctx := r.Context()

	decision, err := decide(ctx, p, route, navigation)
	if err != nil && !services.IsUnauthorizedError(err) && !services.IsForbiddenError(err) {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("access decision served",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("route", route),
		zap.Bool("allowed", decision.Allowed))

	_ = utils.WriteOK(w, decisionToResponse(decision, p))
}

func decisionToResponse(d access.Decision, p access.Principal) DecisionResponse {
	resp := DecisionResponse{
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		Route:      d.Route,
		Target:     d.Target,
		RuleSource: d.RuleSource,
		Principal:  p,
	}
	if d.Rule.Kind != "" {
		resp.Rule = d.Rule.String()
	}
	if resp.Principal.Roles == nil {
		resp.Principal.Roles = []string{}
	}
	return resp
}
