package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/routeguard/internal/access"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ClaimsKey is the context key for JWT claims
const ClaimsKey contextKey = "claims"

// Claims represents the verified claims of a bearer token
type Claims struct {
	Sub       string   `json:"sub"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
}

// Principal converts the claims into an access principal
func (c *Claims) Principal() access.Principal {
	if c == nil {
		return access.Anonymous()
	}
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	return access.User(roles...)
}

// WithClaims adds claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaimsFromContext retrieves JWT claims from the request context
func GetClaimsFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetRequestIDFromContext retrieves the ID assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// PrincipalFromContext returns the principal of the authenticated caller, or
// an anonymous principal when the request carries no verified token
func PrincipalFromContext(ctx context.Context) access.Principal {
	return GetClaimsFromContext(ctx).Principal()
}

// ClaimsUserResolver answers identity questions from the claims in the context
type ClaimsUserResolver struct{}

func (ClaimsUserResolver) IsLoggedIn(ctx context.Context) bool {
	return GetClaimsFromContext(ctx) != nil
}

func (ClaimsUserResolver) CurrentUserRoles(ctx context.Context) []string {
	claims := GetClaimsFromContext(ctx)
	if claims == nil || claims.Roles == nil {
		return []string{}
	}
	return claims.Roles
}

var _ access.UserResolver = ClaimsUserResolver{}
