package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/routeguard/services/audit"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func okHandler(t *testing.T, check func(r *http.Request)) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("no token continues as anonymous", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		called := false
		handler := middleware.Authenticate(okHandler(t, func(r *http.Request) {
			called = true
			assert.Nil(t, GetClaimsFromContext(r.Context()))
			assert.False(t, PrincipalFromContext(r.Context()).LoggedIn)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.True(t, called)
		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
	})

	t.Run("valid token in cookie yields a logged-in principal", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "cookie-token-value").
			Return(&Claims{Sub: "user-456", Email: "user@example.com", Roles: []string{"editor"}}, nil)

		handler := middleware.Authenticate(okHandler(t, func(r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			require.NotNil(t, extracted)
			assert.Equal(t, "user-456", extracted.Sub)
			assert.Equal(t, []string{"editor"}, extracted.Roles)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token-value"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("valid token yields a logged-in principal", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "tok").
			Return(&Claims{Sub: "u1", Roles: []string{"admin"}}, nil)

		handler := middleware.Authenticate(okHandler(t, func(r *http.Request) {
			p := PrincipalFromContext(r.Context())
			assert.True(t, p.LoggedIn)
			assert.Equal(t, []string{"admin"}, p.Roles)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalid token is rejected even though auth is optional", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("bad signature"))

		handler := middleware.Authenticate(okHandler(t, func(*http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid or expired token")
	})

	t.Run("token without a configured validator is rejected", func(t *testing.T) {
		middleware := NewAuthMiddleware(nil, logger)

		handler := middleware.Authenticate(okHandler(t, func(*http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestCaptureRequestInfo(t *testing.T) {
	var info audit.RequestInfo
	handler := CaptureRequestInfo(okHandler(t, func(r *http.Request) {
		info = audit.RequestInfoFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "10.0.0.7:41234"
	req.Header.Set("User-Agent", "routeguard-test")
	ctx := context.WithValue(req.Context(), chimw.RequestIDKey, "req-1")
	ctx = WithClaims(ctx, &Claims{Sub: "user-9", Roles: []string{"editor"}})

	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	assert.Equal(t, audit.RequestInfo{
		RequestID: "req-1",
		IPAddress: "10.0.0.7",
		UserAgent: "routeguard-test",
		Subject:   "user-9",
		Roles:     []string{"editor"},
	}, info)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name          string
		authHeader    string
		cookieValue   string
		expectedToken string
	}{
		{
			name:          "valid Bearer token in header",
			authHeader:    "Bearer valid-token-123",
			expectedToken: "valid-token-123",
		},
		{
			name:          "Bearer with lowercase",
			authHeader:    "bearer valid-token-123",
			expectedToken: "valid-token-123",
		},
		{
			name:          "token from auth_token cookie when no header",
			cookieValue:   "cookie-token-value",
			expectedToken: "cookie-token-value",
		},
		{
			name:          "Authorization header takes precedence over cookie",
			authHeader:    "Bearer header-token",
			cookieValue:   "cookie-token",
			expectedToken: "header-token",
		},
		{
			name:          "missing both returns empty",
			expectedToken: "",
		},
		{
			name:          "invalid header format - no space",
			authHeader:    "Bearertoken",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
		{
			name:          "invalid format - wrong prefix falls back to cookie",
			authHeader:    "Basic token",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
		{
			name:          "empty Bearer token falls back to cookie",
			authHeader:    "Bearer ",
			cookieValue:   "cookie-token",
			expectedToken: "cookie-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: "auth_token", Value: tt.cookieValue})
			}

			token := extractToken(req)
			assert.Equal(t, tt.expectedToken, token)
		})
	}
}
