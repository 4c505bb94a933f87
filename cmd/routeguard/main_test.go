package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/routeguard/app"
	"github.com/upb/routeguard/config"
	"github.com/upb/routeguard/middleware"
	"github.com/upb/routeguard/routes"
	"go.uber.org/zap/zaptest"
)

// staticValidator accepts the tokens it knows and rejects everything else
type staticValidator map[string]*middleware.Claims

func (v staticValidator) ValidateToken(_ context.Context, token string) (*middleware.Claims, error) {
	claims, ok := v[token]
	if !ok {
		return nil, assert.AnError
	}
	return claims, nil
}

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

func TestMain(m *testing.M) {
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	os.Exit(m.Run())
}

func TestInitLogger(t *testing.T) {
	t.Run("default json logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "info")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("development console logger", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("LOG_FORMAT", "console")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "invalid")
		t.Setenv("LOG_FORMAT", "json")

		logger, err := initLogger()
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("defaults when not set", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "")
		t.Setenv("LOG_FORMAT", "")

		logger, err := initLogger()
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	})
}

func TestCheckRoutes(t *testing.T) {
	deps := newTestDependencies(t)
	assert.NoError(t, checkRoutes(context.Background(), deps))
}

func TestNewServer(t *testing.T) {
	cfg := testConfig(t)
	srv := newServer(cfg, http.NotFoundHandler())

	assert.Equal(t, "localhost:8080", srv.Addr)
	assert.Equal(t, cfg.Server.ReadTimeout, srv.ReadTimeout)
	assert.Equal(t, cfg.Server.WriteTimeout, srv.WriteTimeout)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("health check returns healthy", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/healthz", "", nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		data := decodeData(t, resp)
		assert.Equal(t, "healthy", data["status"])
	})

	t.Run("ready without a database", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/readyz", "", nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data := decodeData(t, resp)
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["routes"])
		assert.NotContains(t, checks, "audit")
	})

	t.Run("status requires a logged-in caller", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/api/v1/status", "", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("status returns version info", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/api/v1/status", userToken, nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeData(t, resp)
		assert.Contains(t, data, "version")
		assert.Equal(t, "test", data["environment"])
	})
}

func TestAccessEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("check admits a matching role", func(t *testing.T) {
		body := `{"route":"RouteAdminRoute","logged_in":true,"roles":["admin"]}`
		resp := do(t, ts, http.MethodPost, "/api/v1/access/check", "", strings.NewReader(body))
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeData(t, resp)
		assert.Equal(t, true, data["allowed"])
		assert.Equal(t, routes.AdminRoute, data["rule_source"])
	})

	t.Run("check reports a rejection with 200", func(t *testing.T) {
		body := `{"route":"RouteAdminRoute","logged_in":true,"roles":["viewer"]}`
		resp := do(t, ts, http.MethodPost, "/api/v1/access/check", "", strings.NewReader(body))
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeData(t, resp)
		assert.Equal(t, false, data["allowed"])
		assert.Contains(t, data["reason"], "Can not access RouteAdminRoute, you are not admin")
	})

	t.Run("check of an unknown route is misconfigured", func(t *testing.T) {
		body := `{"route":"Nowhere","logged_in":false}`
		resp := do(t, ts, http.MethodPost, "/api/v1/access/check", "", strings.NewReader(body))
		defer resp.Body.Close()

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		errBody := decodeBody(t, resp)
		assert.Equal(t, "misconfigured", errBody["error"])
	})

	t.Run("current caller is anonymous without a token", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/api/v1/access/me?route=ApiRoute", "", nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeData(t, resp)
		assert.Equal(t, false, data["allowed"])
		assert.Contains(t, data["reason"], "you're not logged in")
	})

	t.Run("current caller from the token", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/api/v1/access/me?route=AuditLogRoute", adminToken, nil)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		data := decodeData(t, resp)
		assert.Equal(t, true, data["allowed"])
	})

	t.Run("invalid token is rejected even on public routes", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/api/v1/access/me?route=PublicRoute", "forged", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestAPIEndpoints(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name           string
		method         string
		path           string
		token          string
		expectedStatus int
	}{
		{"list routes anonymously", http.MethodGet, "/api/v1/routes", "", http.StatusUnauthorized},
		{"list routes", http.MethodGet, "/api/v1/routes", userToken, http.StatusOK},
		{"get built-in route", http.MethodGet, "/api/v1/routes/AdminRoute", userToken, http.StatusOK},
		{"get unknown route", http.MethodGet, "/api/v1/routes/Nowhere", userToken, http.StatusNotFound},
		{"validate routes without admin role", http.MethodPost, "/api/v1/routes/validate", userToken, http.StatusForbidden},
		{"validate routes anonymously", http.MethodPost, "/api/v1/routes/validate", "", http.StatusUnauthorized},
		{"validate routes as admin", http.MethodPost, "/api/v1/routes/validate", adminToken, http.StatusOK},
		{"delete route without admin role", http.MethodDelete, "/api/v1/routes/Reports", userToken, http.StatusForbidden},
		{"audit disabled without storage", http.MethodGet, "/api/v1/audit/logs", adminToken, http.StatusNotFound},
		{"not found", http.MethodGet, "/api/v1/nonexistent", "", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, ts, tc.method, tc.path, tc.token, nil)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s %s", tc.method, tc.path)
		})
	}

	t.Run("forbidden response names the route", func(t *testing.T) {
		resp := do(t, ts, http.MethodPost, "/api/v1/routes/validate", userToken, nil)
		defer resp.Body.Close()

		body := decodeBody(t, resp)
		assert.Equal(t, "forbidden", body["error"])
		assert.Contains(t, body["message"], "RouteAdminRoute")
	})

	t.Run("not found is JSON", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/nope", "", nil)
		defer resp.Body.Close()

		body := decodeBody(t, resp)
		assert.Equal(t, "not_found", body["error"])
	})
}

func TestCORSMiddleware(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/access/check", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAccessCheckRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.AccessChecksPerMinute = 1
	ts := newTestServerWithConfig(t, cfg)

	body := `{"route":"PublicRoute"}`
	first := do(t, ts, http.MethodPost, "/api/v1/access/check", "", strings.NewReader(body))
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := do(t, ts, http.MethodPost, "/api/v1/access/check", "", strings.NewReader(body))
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestIntegrationWithRealDependencies(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	cfg := testConfig(t)
	logger := zaptest.NewLogger(t)

	deps, err := app.NewDependencies(ctx, cfg, logger, routes.BuiltinRoutes())
	if err != nil {
		t.Skipf("skipping integration test: %v", err)
		return
	}
	defer deps.Close(ctx)

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	defer ts.Close()

	t.Run("readiness check with real infrastructure", func(t *testing.T) {
		resp := do(t, ts, http.MethodGet, "/readyz", "", nil)
		defer resp.Body.Close()

		data := decodeData(t, resp)
		t.Logf("readiness response: %+v", data)

		assert.Equal(t, "healthy", data["status"])
		checks := data["checks"].(map[string]interface{})
		assert.Equal(t, "healthy", checks["database"])
		assert.Equal(t, "running", checks["audit"])
	})
}

// Test helpers

func newTestDependencies(t *testing.T) *app.Dependencies {
	return newTestDependenciesWithConfig(t, testConfig(t))
}

func newTestDependenciesWithConfig(t *testing.T, cfg *config.Config) *app.Dependencies {
	t.Helper()
	logger := zaptest.NewLogger(t)

	deps, err := app.Wire(cfg, logger, routes.BuiltinRoutes(), app.Storage{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })

	deps.AuthMiddleware = middleware.NewAuthMiddleware(staticValidator{
		userToken:  {Sub: "user-1", Roles: []string{"viewer"}},
		adminToken: {Sub: "admin-1", Roles: []string{routes.AdminRole}},
	}, logger)
	return deps
}

func newTestServer(t *testing.T) *httptest.Server {
	return newTestServerWithConfig(t, testConfig(t))
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(routes.SetupRoutes(newTestDependenciesWithConfig(t, cfg)))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, token string, body *strings.Reader) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, ts.URL+path, body)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, ts.URL+path, nil)
	}
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func decodeData(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := decodeBody(t, resp)
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", body)
	return data
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", "localhost"),
			Port:            5432,
			User:            getEnvOrDefault("DB_USER", "routeguard"),
			Password:        getEnvOrDefault("DB_PASSWORD", "routeguard"),
			Database:        getEnvOrDefault("DB_NAME", "routeguard_test"),
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: config.AuthConfig{RolesClaim: "groups"},
		Routes: config.RoutesConfig{
			CacheSize: 100,
			CacheTTL:  time.Minute,
		},
		Audit: config.AuditConfig{
			BufferSize:  100,
			WorkerCount: 2,
			StopTimeout: 5 * time.Second,
		},
		RateLimit: config.RateLimitConfig{AccessChecksPerMinute: 1000},
		Observability: config.ObservabilityConfig{
			LogLevel:       "error",
			LogFormat:      "json",
			MetricsEnabled: false,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
