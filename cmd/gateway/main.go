package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/opsrelay/opsrelay/cmd/gateway/container"
	"github.com/opsrelay/opsrelay/cmd/gateway/routes"
	"github.com/opsrelay/opsrelay/common/bootstrap"
	"github.com/opsrelay/opsrelay/common/config"
	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/middleware"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("gateway")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	// Bootstrap common components (DB, redis, metrics); migrations run as
	// the DB init hook so the schema is current before anything serves.
	components, err := bootstrap.Setup(ctx, "gateway",
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithCustomLogger(log),
		bootstrap.WithDBInitHook(func(*db.DB) error {
			return db.Migrate(cfg.Database.URL, log)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap gateway: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho(cfg)
	setupMiddleware(e, serviceContainer)
	registerRoutes(e, serviceContainer)

	startBackgroundTasks(ctx, serviceContainer)
	startServer(ctx, e, components)
}

// setupEcho initializes the Echo server with basic configuration. The request
// timeout bounds both reads and writes so a stalled handler surfaces as a
// timeout instead of an open socket.
func setupEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Service.RequestTimeout
	e.Server.WriteTimeout = cfg.Service.RequestTimeout
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.Service.CORSAllowOrigins,
	}))
	e.Use(middleware.TraceIDMiddleware())
	e.Use(middleware.IPRateLimitMiddleware(c.RateLimiter, cfg.Intake.RateLimitPerMin, c.Components.Metrics))
	e.Use(middleware.BodyLimitMiddleware(cfg.Intake.MaxPayloadBytes))
	e.Use(middleware.JWTAuthMiddleware(cfg.Auth))
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterHealthRoutes(e, c)
	routes.RegisterWebhookRoutes(e, c)
	routes.RegisterApprovalRoutes(e, c)
	routes.RegisterWorkflowRoutes(e, c)
	routes.RegisterSignalRoutes(e, c)
	routes.RegisterPolicyRoutes(e, c)
	routes.RegisterMetricsRoutes(e, c)
	routes.RegisterIdentityRoutes(e, c)
}

// startBackgroundTasks launches the evaluator and maintenance loops
func startBackgroundTasks(ctx context.Context, c *container.Container) {
	cfg := c.Components.Config
	log := c.Components.Logger

	if cfg.Evaluator.Enabled {
		go c.SignalEval.Start(ctx)
	} else {
		log.Info("signal evaluator disabled")
	}

	// Maintenance: approvals past TTL expire every minute, events past
	// retention purge hourly.
	go func() {
		expire := time.NewTicker(time.Minute)
		purge := time.NewTicker(time.Hour)
		defer expire.Stop()
		defer purge.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-expire.C:
				if _, err := c.ApprovalService.ExpireOverdue(ctx); err != nil {
					log.Warn("approval expiry sweep failed", "error", err)
				}
			case <-purge.C:
				if _, err := c.IntakeService.PurgeExpired(ctx); err != nil {
					log.Warn("retention purge failed", "error", err)
				}
			}
		}
	}()
}

// startServer runs the Echo server until shutdown, then drains in-flight
// requests up to the configured timeout
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) {
	cfg := components.Config
	log := components.Logger

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Service.Port)
		log.Info("starting gateway", "port", cfg.Service.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.DrainTimeout)
	defer cancel()
	if err := e.Shutdown(drainCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
}
