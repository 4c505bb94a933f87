package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/upb/routeguard/services/audit"
	"github.com/upb/routeguard/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is the cookie name for JWT tokens (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// Authenticate verifies the bearer token when one is present. Requests
// without a token continue as anonymous callers; whether they may proceed is
// decided by the route guard. A token that fails validation is rejected.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if m.validator == nil {
			m.logger.Warn("token presented but no validator is configured",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Token authentication is not enabled")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub),
			zap.Strings("roles", claims.Roles))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CaptureRequestInfo stores the request metadata attached to audit records.
// It should run after Authenticate so the caller's subject is known.
func CaptureRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		info := audit.RequestInfo{
			RequestID: GetRequestIDFromContext(ctx),
			IPAddress: clientIP(r.RemoteAddr),
			UserAgent: r.UserAgent(),
		}
		if claims := GetClaimsFromContext(ctx); claims != nil {
			info.Subject = claims.Sub
			info.Roles = claims.Roles
		}
		next.ServeHTTP(w, r.WithContext(audit.WithRequestInfo(ctx, info)))
	})
}

// clientIP strips the port from a RemoteAddr. chi's RealIP middleware may
// already have replaced it with a bare address.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// extractToken extracts JWT from cookie ("auth_token") or Authorization header ("Bearer TOKEN").
// Authorization header takes precedence when both are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
