package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"halocore/internal/billing"
	"halocore/internal/config"
	apierrors "halocore/internal/errors"
	"halocore/internal/infrastructure"
	custommw "halocore/internal/middleware"
	"halocore/internal/services"
	"halocore/internal/store"
	handlers "halocore/internal/transport/http"
)

// Application wires configuration, storage, services, and the HTTP server
// together and owns their lifecycle.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Store         store.Store
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	licenseService services.LicenseService
	adminService   services.AdminService
	processor      *billing.Processor
}

// NewApplication builds a fully wired application from the environment.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("version", infrastructure.ServiceVersion))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeStore(ctx); err != nil {
		return nil, err
	}
	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeStore connects to PostgreSQL when a database URL is configured
// and falls back to the in-memory store otherwise. The fallback keeps local
// development and tests dependency-free; nothing survives a restart.
func (a *Application) initializeStore(ctx context.Context) error {
	if a.Config.Database.URL == "" {
		a.Logger.Warn("no database configured, using in-memory store")
		a.Store = store.NewMemStore()
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, a.Config.Database.ConnectTimeout)
	defer cancel()

	pg, err := store.NewPGStore(connectCtx, a.Config.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	a.Logger.Info("connected to database")
	a.Store = pg
	return nil
}

func (a *Application) initializeServices() {
	a.licenseService = services.NewLicenseService(a.Store, a.Logger)
	a.adminService = services.NewAdminService(a.Store, a.Logger)
	a.processor = billing.NewProcessor(a.Store, a.Config.Billing.WebhookSecret, a.Logger)

	if a.Config.Billing.WebhookSecret == "" {
		a.Logger.Warn("webhook secret not configured, billing notifications will be rejected")
	}
	if a.Config.Admin.APIKey == "" {
		a.Logger.Warn("admin API key not configured, admin endpoints disabled")
	}
}

// setupRouter assembles the middleware chain and mounts all routes.
// Ordering: RequestID → RealIP → OTel → Logger → Recoverer → SecurityHeaders
// → CORS → RateLimit, then per-surface auth.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	// Unmatched routes and wrong methods render problem+json like every
	// other error response.
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	var metrics *infrastructure.BusinessMetrics
	otelMiddleware, err := custommw.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
		metrics = otelMiddleware.Metrics()
	}

	errorMiddleware := apierrors.NewErrorMiddleware(errorHandler, a.Logger)
	r.Use(errorMiddleware.Handler)
	r.Use(custommw.Recoverer(a.Logger))
	r.Use(custommw.SecurityHeaders)

	if a.Config.Security.EnableCORS {
		r.Use(custommw.CORS(custommw.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
		}))
	}

	if a.Config.Security.RateLimit.Enabled {
		r.Use(custommw.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		licenseHandler := handlers.NewLicenseHandler(a.licenseService, errorHandler, metrics, a.Logger)
		r.Mount("/license", licenseHandler.Routes())

		webhookHandler := handlers.NewWebhookHandler(a.processor, errorHandler, metrics, a.Logger)
		r.Mount("/webhook", webhookHandler.Routes())

		adminHandler := handlers.NewAdminHandler(a.adminService, errorHandler, a.Logger)
		r.Route("/admin", func(r chi.Router) {
			r.Use(custommw.AdminAuth(a.Config.Admin.APIKey, a.Logger))
			r.Mount("/", adminHandler.Routes())
		})
	})

	healthHandler := handlers.NewHealthHandler(a.Store, a.Logger)
	r.Mount("/health", healthHandler.Routes())

	// Prometheus scrape endpoint stays outside the API middleware chain.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.With(custommw.Compress(5)).Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves until the context is cancelled or an interrupt arrives, then
// shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening",
			slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop drains in-flight requests, closes storage, and flushes telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("error closing store", slog.String("error", err.Error()))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.Info("shutdown complete")
	return nil
}

// WaitReady blocks until the server answers its health endpoint or the
// timeout elapses. Used by tests and by supervisors that want a readiness
// signal before routing traffic.
func (a *Application) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://localhost:%d/health/", a.Config.Server.Port)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %s", timeout)
}
