package middleware

import (
	"context"
	"net/http"

	"github.com/upb/routeguard/internal/access"
	"github.com/upb/routeguard/services"
	"github.com/upb/routeguard/utils"
	"go.uber.org/zap"
)

// AccessChecker decides whether a principal may open a route
type AccessChecker interface {
	Check(ctx context.Context, p access.Principal, route string, navigation bool) (access.Decision, error)
}

// AccessMiddleware guards HTTP endpoints with named routes
type AccessMiddleware struct {
	checker AccessChecker
	users   access.UserResolver
	logger  *zap.Logger
}

// NewAccessMiddleware creates a new AccessMiddleware that reads the caller
// from the claims stored by AuthMiddleware
func NewAccessMiddleware(checker AccessChecker, logger *zap.Logger) *AccessMiddleware {
	return &AccessMiddleware{
		checker: checker,
		users:   ClaimsUserResolver{},
		logger:  logger,
	}
}

// RequireRoute admits the request only if the caller may navigate to route
func (m *AccessMiddleware) RequireRoute(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)
			principal := access.CurrentPrincipal(ctx, m.users)

			decision, err := m.checker.Check(ctx, principal, route, true)
			if err != nil {
				m.writeDenied(w, requestID, route, err)
				return
			}

			m.logger.Debug("route access granted",
				zap.String("request_id", requestID),
				zap.String("route", route),
				zap.String("rule_source", decision.RuleSource))

			next.ServeHTTP(w, r)
		})
	}
}

func (m *AccessMiddleware) writeDenied(w http.ResponseWriter, requestID, route string, err error) {
	switch {
	case services.IsUnauthorizedError(err):
		_ = utils.WriteUnauthorized(w, services.GetErrorMessage(err))
	case services.IsForbiddenError(err):
		_ = utils.WriteForbidden(w, services.GetErrorMessage(err))
	case services.IsMisconfiguredError(err):
		m.logger.Error("guarded route is misconfigured",
			zap.String("request_id", requestID),
			zap.String("route", route),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Route access is misconfigured")
	default:
		m.logger.Error("access check failed",
			zap.String("request_id", requestID),
			zap.String("route", route),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
	}
}
