package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/upb/routeguard/app"
	"github.com/upb/routeguard/handlers"
	"github.com/upb/routeguard/middleware"
	"github.com/upb/routeguard/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	if deps.Metrics != nil && deps.Config.Observability.MetricsEnabled {
		r.Use(deps.Metrics.Middleware)
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	health := handlers.NewHealthHandler(handlers.HealthSources{
		Database: deps.DatabaseHealth(),
		Catalog:  deps.Catalog,
		Audit:    deps.AuditStats(),
		Tokens:   deps.TokenStats(),
	}, deps.Config.Environment, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// Every other endpoint knows its caller (if any) and is guarded by a route
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthMiddleware.Authenticate)
		r.Use(middleware.CaptureRequestInfo)
		guard := deps.AccessMiddleware.RequireRoute

		if deps.Metrics != nil && deps.Config.Observability.MetricsEnabled {
			r.With(guard(MetricsRoute)).Handle("/metrics", deps.Metrics.Handler())
		}

		r.Route("/api/v1", func(r chi.Router) {
			accessHandler := handlers.NewAccessHandler(deps.Guard, deps.Logger)
			r.Route("/access", func(r chi.Router) {
				r.With(guard(AccessCheckRoute), accessCheckLimiter(deps.Config.RateLimit.AccessChecksPerMinute)).
					Post("/check", accessHandler.HandleCheck)
				r.With(guard(CurrentAccessRoute)).Get("/me", accessHandler.HandleCurrent)
			})

			r.With(guard(StatusRoute)).Get("/status", health.HandleStatus)

			routeHandler := handlers.NewRouteHandler(deps.Catalog, deps.Logger)
			r.Route("/routes", func(r chi.Router) {
				r.With(guard(RouteCatalogRoute)).Get("/", routeHandler.HandleListRoutes)
				r.With(guard(RouteAdminRoute)).Post("/validate", routeHandler.HandleValidateRoutes)
				r.With(guard(RouteCatalogRoute)).Get("/{name}", routeHandler.HandleGetRoute)
				r.With(guard(RouteAdminRoute)).Put("/{name}", routeHandler.HandlePutRoute)
				r.With(guard(RouteAdminRoute)).Delete("/{name}", routeHandler.HandleDeleteRoute)
			})

			if deps.AuditService != nil {
				auditHandler := handlers.NewAuditHandler(deps.AuditService, deps.Logger)
				r.Route("/audit", func(r chi.Router) {
					r.Use(guard(AuditLogRoute))
					r.Get("/logs", auditHandler.HandleListLogs)
					r.Get("/logs/{id}", auditHandler.HandleGetLog)
				})
			}
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

// accessCheckLimiter limits decision requests per client IP
func accessCheckLimiter(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			_ = utils.WriteTooManyRequests(w, "Too many access checks", map[string]interface{}{
				"limit_per_minute": perMinute,
			})
		}),
	)
}
