package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/upb/routeguard/app"
	"github.com/upb/routeguard/config"
	"github.com/upb/routeguard/handlers"
	"github.com/upb/routeguard/internal/observability"
	"github.com/upb/routeguard/routes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "routeguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := initLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("starting routeguard",
		zap.String("version", handlers.Version),
		zap.String("environment", cfg.Environment),
		zap.String("database", cfg.Database.LogString()))

	deps, err := app.NewDependencies(ctx, cfg, logger, routes.BuiltinRoutes())
	if err != nil {
		return err
	}

	if err := checkRoutes(ctx, deps); err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	srv := newServer(cfg, routes.SetupRoutes(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.Server.TLS.Enabled))
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return deps.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("routeguard stopped with error", zap.Error(err))
		return err
	}
	logger.Info("routeguard stopped")
	return nil
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func initLogger() (*zap.Logger, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return observability.NewLogger(level, os.Getenv("LOG_FORMAT"))
}

// checkRoutes refuses to start while any known route cannot be resolved
func checkRoutes(ctx context.Context, deps *app.Dependencies) error {
	problems, err := deps.Catalog.Validate(ctx)
	if err != nil {
		return fmt.Errorf("failed to validate routes: %w", err)
	}
	for _, p := range problems {
		deps.Logger.Error("misconfigured route",
			zap.String("route", p.Route),
			zap.String("reason", p.Reason))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d misconfigured routes", len(problems))
	}
	return nil
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}
