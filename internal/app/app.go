package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"scholarpass/internal/config"
	apierrors "scholarpass/internal/errors"
	"scholarpass/internal/inference"
	"scholarpass/internal/infrastructure"
	"scholarpass/internal/ledgerstore"
	"scholarpass/internal/license"
	customMiddleware "scholarpass/internal/middleware"
	"scholarpass/internal/services"
	"scholarpass/internal/session"
	handlers "scholarpass/internal/transport/http"
	ws "scholarpass/internal/websocket"
)

// runtimeInterval is how often runtime gauges are sampled.
const runtimeInterval = 15 * time.Second

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Runtime       *infrastructure.RuntimeCollector
	Services      *ServiceContainer
	Errors        *apierrors.ErrorHandler

	closers []func() error
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Ledger   *ledgerstore.Opened
	Engine   *license.Engine
	Limiter  *license.AttemptLimiter
	Sessions session.Registry
	Tokens   *session.TokenManager
	Gate     *session.Gate
	License  services.LicenseService
	Analysis *services.AnalysisService
	Health   *services.HealthService
}

// NewApplication loads configuration from configPath (empty searches the
// usual locations), initializes the global logger and builds the
// application.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	cfg.Logging.FilePath = paths.LogFile
	if cfg.Logging.Output != "console" {
		if err := config.EnsureDir(paths.LogFile); err != nil {
			return nil, err
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(context.Background(), cfg, paths, logger)
}

// New wires every component from cfg. A ledger backend without its
// secrets is not fatal: the service starts and denies activations with a
// not-configured reason.
func New(ctx context.Context, cfg *config.Config, paths *config.Paths, logger *slog.Logger, opts ...infrastructure.OTelOption) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("ledger_backend", cfg.Ledger.Backend))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	runtimeCollector, err := infrastructure.NewRuntimeCollector(providers.Meter, runtimeInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runtime metrics: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: providers,
		Runtime:       runtimeCollector,
		Errors:        apierrors.NewErrorHandler(logger, false),
	}

	if err := a.initializeServices(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.createServer()
	return a, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices(ctx context.Context) error {
	cfg := a.Config

	licenseMetrics, err := license.InitializeMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize license metrics: %w", err)
	}

	var store license.Store
	opened, err := ledgerstore.Open(ctx, cfg.Ledger, a.Paths, licenseMetrics, a.Logger)
	switch {
	case errors.Is(err, license.ErrStoreNotConfigured):
		a.Logger.WarnContext(ctx, "license ledger not configured, activations will be denied",
			slog.String("backend", cfg.Ledger.Backend),
			slog.String("error", err.Error()))
	case err != nil:
		return fmt.Errorf("failed to open license ledger: %w", err)
	default:
		store = opened.Store
		a.closers = append(a.closers, opened.Close)
	}

	loc, err := cfg.Ledger.Location()
	if err != nil {
		return err
	}
	engine := license.NewEngine(store,
		license.WithLocation(loc),
		license.WithStoreTimeout(cfg.Ledger.Timeout),
		license.WithLogger(a.Logger),
		license.WithMetrics(licenseMetrics),
	)

	limiter := license.NewAttemptLimiter(
		cfg.Security.MaxFailedActivations,
		cfg.Security.ActivationWindow,
		cfg.Security.ActivationBlock,
		a.Logger,
	)
	a.closers = append(a.closers, func() error { limiter.Stop(); return nil })

	registry, err := a.sessionRegistry(ctx)
	if err != nil {
		return err
	}

	codec, err := tokenCodec(cfg.Session)
	if err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "session tokens configured",
		slog.String("codec", codec.Name()),
		slog.String("registry", cfg.Session.Registry))
	tokens := session.NewTokenManager(codec, a.Logger)
	gate := session.NewGate(tokens)

	httpClient := &http.Client{Timeout: cfg.Inference.Timeout}
	ocr := inference.NewOCR(cfg.Inference, httpClient)
	reasoner := inference.NewReasoner(cfg.Inference, httpClient)
	if !ocr.Configured() || !reasoner.Configured() {
		a.Logger.WarnContext(ctx, "analysis providers not fully configured",
			slog.Bool("ocr", ocr.Configured()),
			slog.Bool("reasoning", reasoner.Configured()))
	}

	a.Services = &ServiceContainer{
		Ledger:   opened,
		Engine:   engine,
		Limiter:  limiter,
		Sessions: registry,
		Tokens:   tokens,
		Gate:     gate,
		License:  services.NewLicenseService(engine, limiter, tokens, gate, licenseMetrics, a.Logger),
		Analysis: services.NewAnalysisService(ocr, reasoner, a.Logger),
		Health:   services.NewHealthService(store, cfg.Ledger.Backend, ocr, reasoner, a.Runtime, a.Logger),
	}
	if mem, ok := registry.(*session.MemoryRegistry); ok {
		a.Services.Health.WithSessionStats(mem.GetStats)
	}
	return nil
}

func (a *Application) sessionRegistry(ctx context.Context) (session.Registry, error) {
	cfg := a.Config.Session
	if cfg.Registry == "redis" {
		client, err := infrastructure.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect session registry: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return session.NewRedisRegistry(client, cfg.RedisKeyPrefix, cfg.IdleTTL), nil
	}

	registry := session.NewMemoryRegistry(cfg.IdleTTL, cfg.MaxSessions)
	a.closers = append(a.closers, func() error { registry.Stop(); return nil })
	return registry, nil
}

// tokenCodec picks the cookie codec. "auto" signs tokens when a secret is
// configured and falls back to the plain license cookie otherwise.
func tokenCodec(cfg config.SessionConfig) (session.Codec, error) {
	switch {
	case cfg.TokenCodec == "plain", cfg.TokenCodec == "auto" && cfg.TokenSecret == "":
		return session.PlainCodec{}, nil
	default:
		codec, err := session.NewSignedCodec([]byte(cfg.TokenSecret), cfg.TokenIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create token codec: %w", err)
		}
		return codec, nil
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	cfg := a.Config
	svc := a.Services
	r := chi.NewRouter()

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}
	wsMetrics, err := ws.NewOTelMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}

	// RequestID → RealIP (trusted proxies only) → StripSlashes → OTel → access log and recovery → headers → CORS → rate limit → sessions
	r.Use(customMiddleware.RequestID)
	if cfg.Security.TrustProxyHeaders {
		r.Use(customMiddleware.RealIP)
	}
	r.Use(customMiddleware.StripSlashes)
	r.Use(otelMiddleware.Handler)
	r.Use(apierrors.NewErrorMiddleware(a.Errors, a.Logger).Handler)
	r.Use(customMiddleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.corsConfig()))
	}
	if cfg.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			cfg.Security.RateLimit.RPS,
			cfg.Security.RateLimit.Burst,
			a.Errors,
			a.Logger,
		).Handler)
	}
	r.Use(customMiddleware.NewSessions(svc.Sessions, cfg.Server.SecureCookies, a.Logger).Handler)

	r.NotFound(a.Errors.NotFound)
	r.MethodNotAllowed(a.Errors.MethodNotAllowed)

	validator := customMiddleware.NewValidator(1 << 20)
	licenseGate := customMiddleware.NewLicenseGate(svc.Gate, a.Errors, cfg.Server.SecureCookies, a.Logger)

	healthHandler := handlers.NewHealthHandler(svc.Health, a.Logger)
	licenseHandler := handlers.NewLicenseHandler(svc.License, validator, a.Errors, cfg.Server.SecureCookies, a.Logger)
	analysisHandler := handlers.NewAnalysisHandler(svc.Analysis, validator, a.Errors, cfg.Server.MaxUploadBytes, a.Logger)
	streamHandler := handlers.NewStreamHandler(svc.Analysis, validator, a.Errors,
		ws.NewUpgrader(cfg.WebSocket, cfg.Security.AllowedOrigins, a.Logger),
		ws.OptionsFromConfig(cfg.WebSocket), wsMetrics, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(customMiddleware.Timeout(cfg.Server.RequestTimeout, a.Logger))

		r.Mount("/health", healthHandler.Routes())
		r.Get("/version", healthHandler.Version)
		r.Mount("/license", licenseHandler.Routes())
		r.Get("/subjects", analysisHandler.Subjects)

		r.Group(func(r chi.Router) {
			r.Use(licenseGate.RequireLicense)
			r.Post("/analysis", analysisHandler.Analyze)
		})
	})

	// The stream has no request timeout; it ends with the connection.
	r.With(licenseGate.RequireLicense).Handle("/ws/analysis", streamHandler)

	r.Handle("/metrics", a.OTelProviders.MetricsHandler())

	a.Router = r
	return nil
}

func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// listener error, if any, is returned.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		a.Runtime.Start(gctx)
		return nil
	})

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening",
			slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(gctx))
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	a.Runtime.Stop()

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Close releases stores, registries and background workers. It is safe to
// call more than once.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
