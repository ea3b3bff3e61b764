package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"keybind/internal/config"
	apierrors "keybind/internal/errors"
	"keybind/internal/infrastructure"
	"keybind/internal/license"
	customMiddleware "keybind/internal/middleware"
	"keybind/internal/store"
	handlers "keybind/internal/transport/http"
	"keybind/pkg/contracts"
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         *store.Handle
	Binder        *license.Binder
	Router        *chi.Mux
	AdminRouter   *chi.Mux
	Server        *http.Server
	AdminServer   *http.Server
}

// NewApplication wires the store, binder and routers described by cfg.
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("version", contracts.Version),
		slog.String("backend", cfg.Store.Backend))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	handle, err := store.Open(ctx, cfg, logger)
	if err != nil {
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bindingMetrics, err := license.InitializeBindingMetrics(otelProviders.Meter)
	if err != nil {
		_ = handle.Close()
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create binding metrics: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Store:         handle,
		Binder: license.NewBinder(handle.Store,
			license.WithStoreTimeout(cfg.Store.Timeout),
			license.WithLogger(logger),
			license.WithMetrics(bindingMetrics),
			license.WithTracer(otelProviders.Tracer),
		),
	}

	a.setupRouter()
	a.setupAdminRouter()
	a.createServers()
	return a, nil
}

// setupRouter configures the public router. Every path other than
// POST /activate answers with the JSON 404.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Ordering: RequestID → RealIP → OTel → Logger → Recoverer → CORS
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}

	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.CORS.AllowedOrigins,
		AllowedHeaders: a.Config.CORS.AllowedHeaders,
		MaxAge:         a.Config.CORS.MaxAge,
		Logger:         a.Logger,
	}))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	activation := handlers.NewActivationHandler(a.Binder, a.Logger,
		handlers.WithRequestTimeout(a.Config.Server.RequestTimeout),
		handlers.WithMaxBodyBytes(a.Config.Server.MaxBodyBytes),
	)
	r.Post("/activate", activation.Activate)

	notFound := func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, apierrors.ErrEndpointNotFound)
	}
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	a.Router = r
}

// setupAdminRouter configures /healthz and /metrics.
func (a *Application) setupAdminRouter() {
	r := chi.NewRouter()
	r.Use(customMiddleware.Recoverer(a.Logger))

	health := handlers.NewHealthHandler(a.Store.Store, a.Store.Backend, a.Config.Store.Timeout, a.Logger)
	r.Get("/healthz", health.HealthCheck)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.AdminRouter = r
}

// createServers creates the HTTP servers
func (a *Application) createServers() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}

	if a.Config.Telemetry.AdminPort > 0 {
		a.AdminServer = &http.Server{
			Addr:        net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Telemetry.AdminPort)),
			Handler:     a.AdminRouter,
			ReadTimeout: a.Config.Server.ReadTimeout,
			IdleTimeout: a.Config.Server.IdleTimeout,
			ErrorLog:    slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
		}
	}
}

// Run listens on the configured addresses and serves until ctx is done.
// The application is stopped on every return path.
func (a *Application) Run(ctx context.Context) error {
	publicLn, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err), a.Stop(ctx))
	}

	var adminLn net.Listener
	if a.AdminServer != nil {
		adminLn, err = net.Listen("tcp", a.AdminServer.Addr)
		if err != nil {
			_ = publicLn.Close()
			return errors.Join(fmt.Errorf("failed to listen on %s: %w", a.AdminServer.Addr, err), a.Stop(ctx))
		}
	}

	return a.Serve(ctx, publicLn, adminLn)
}

// Serve serves the public router on publicLn and, when adminLn is not nil,
// the admin router on adminLn. It returns after both servers stop and the
// application has been shut down.
func (a *Application) Serve(ctx context.Context, publicLn, adminLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "Activation server listening", slog.String("address", publicLn.Addr().String()))
		if err := a.Server.Serve(publicLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("activation server: %w", err)
		}
		return nil
	})

	if adminLn != nil && a.AdminServer != nil {
		g.Go(func() error {
			a.Logger.InfoContext(ctx, "Admin server listening", slog.String("address", adminLn.Addr().String()))
			if err := a.AdminServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Stop gracefully stops the servers and releases the store.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if a.AdminServer != nil {
		if err := a.AdminServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
	}

	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}
