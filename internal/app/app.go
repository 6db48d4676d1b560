package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"

	"covidseir/internal/config"
	"covidseir/internal/dataset"
	apperrors "covidseir/internal/errors"
	"covidseir/internal/infrastructure"
	"covidseir/internal/middleware"
	"covidseir/internal/operations"
	"covidseir/internal/services"
	handlers "covidseir/internal/transport/http"
	ws "covidseir/internal/websocket"
)

// AppName is reported in logs and telemetry.
const AppName = "covidseir"

var (
	// Version is set at build time with -ldflags.
	Version = "dev"
	// BuildTime is set at build time with -ldflags.
	BuildTime = ""
)

// Application represents the main application container
type Application struct {
	Config      *config.Config
	Logger      *slog.Logger
	OTel        *infrastructure.OTelProviders
	Metrics     *infrastructure.SimulationMetrics
	Simulations *services.SimulationService
	Health      *services.HealthService
	Hub         *ws.Hub
	JobQueue    *operations.JobQueue
	Router      chi.Router
	Server      *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// NewApplication loads the configuration and the global logger, then
// builds the application. An empty configFile searches the usual locations.
func NewApplication(configFile string) (*Application, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile == "" {
		cfg, err = config.Load()
	} else {
		cfg, err = config.LoadFile(configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return New(cfg, logger)
}

// New wires every component for cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	a := &Application{Config: cfg, Logger: logger}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("addr", cfg.Server.Addr()))

	otelCfg := infrastructure.OTelConfigFrom(cfg.Telemetry)
	if otelCfg.ServiceVersion == "" {
		otelCfg.ServiceVersion = Version
	}
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.OTel = providers

	metrics, err := infrastructure.CreateSimulationMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulation metrics: %w", err)
	}
	a.Metrics = metrics

	if err := a.initializeServices(); err != nil {
		return nil, err
	}
	if err := a.setupRouter(); err != nil {
		return nil, err
	}
	a.createServer()
	return a, nil
}

func (a *Application) initializeServices() error {
	cfg := a.Config

	loader := dataset.NewLoader(cfg.Data, a.Logger)
	a.Simulations = services.NewSimulationService(loader, cfg, a.Metrics, a.OTel.Tracer, a.Logger)

	a.Hub = ws.NewHub(a.Logger, a.Metrics)

	store := operations.NewMemoryJobStore()
	a.JobQueue = operations.NewJobQueue(operations.QueueOptions{
		Workers:         cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
		ProgressEvery:   cfg.WebSocket.ProgressEvery,
		Retention:       cfg.Workers.JobRetention,
		CleanupInterval: cfg.Workers.CleanupInterval,
	}, a.Simulations, store, a.Hub, a.Metrics, a.Logger)

	a.Health = services.NewHealthService(Version, BuildTime, cfg.Output.Dir,
		a.Simulations, a.Hub, a.JobQueue, a.Logger)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	cfg := a.Config
	errorHandler := apperrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	validator := middleware.NewValidator(a.Logger, errorHandler)

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTel)
	if err != nil {
		return fmt.Errorf("failed to create telemetry middleware: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, a.Logger)
	}

	var metricsHandler http.Handler
	if a.OTel.PrometheusHTTP != nil {
		metricsHandler = a.OTel.PrometheusHTTP
	}

	a.Router = handlers.NewRouter(handlers.RouterConfig{
		Health:      handlers.NewHealthHandler(a.Health, a.Logger),
		Simulations: handlers.NewSimulationHandler(a.Simulations, validator, errorHandler, cfg.Server.RequestTimeout, a.Logger),
		Jobs:        handlers.NewJobHandler(a.JobQueue, validator, errorHandler, a.Logger),
		WebSocket: handlers.NewWebSocketHandler(a.Hub,
			cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize,
			cfg.Security.AllowedOrigins, errorHandler, a.Logger),
		ErrorHandler: errorHandler,
		OTel:         otelMiddleware,
		RateLimiter:  limiter,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			Logger:         a.Logger,
		},
		Metrics: metricsHandler,
		Logger:  a.Logger,
	})
	return nil
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

// Start starts the hub, the job workers and the HTTP listener. It returns
// once the listener is bound.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}

	a.Hub.Start()
	a.JobQueue.Start(context.WithoutCancel(ctx))

	a.mu.Lock()
	a.listener = ln
	a.serveErr = make(chan error, 1)
	a.mu.Unlock()

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", ln.Addr().String()),
		slog.Int("workers", a.Config.Workers.Count),
		slog.Int("countries", len(a.Simulations.Countries())))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the application: no new requests, running jobs
// cancelled, clients disconnected, telemetry flushed.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.JobQueue.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.ErrorContext(ctx, "failed to stop job queue gracefully", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.Hub.Stop()

	if err := a.OTel.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "error shutting down telemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}

// Run runs the application until ctx is done, SIGINT or SIGTERM arrives, or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("received shutdown signal")
	case err, ok := <-a.serveErr:
		if ok {
			serveErr = err
		}
	}

	stopErr := a.Stop(context.WithoutCancel(ctx))
	if err := infrastructure.CloseLogFile(); err != nil {
		stopErr = errors.Join(stopErr, err)
	}
	return errors.Join(serveErr, stopErr)
}
