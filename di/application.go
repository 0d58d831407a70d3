package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/admin"
	"github.com/KOMKZ/habitcache/cache"
	"github.com/KOMKZ/habitcache/config"
	"github.com/KOMKZ/habitcache/logger"
	"github.com/KOMKZ/habitcache/telemetry"
)

type AppState int

const (
	StateInit AppState = iota
	StateSetup
	StateRunning
	StateStopping
	StateStopped
)

func (s AppState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSetup:
		return "Setup"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// App runs the cache process: Setup builds the graph, Start brings up the
// cache component, metrics and the admin server, Shutdown tears everything
// down in reverse dependency order.
type App struct {
	injector *do.RootScope
	opts     Options

	loader *config.Loader
	logger *logger.CtxZapLogger

	ctx    context.Context
	cancel context.CancelFunc
	state  AppState
	mu     sync.RWMutex

	name            string
	version         string
	shutdownTimeout time.Duration

	onSetup    func(*App) error
	onReady    func(*App) error
	onShutdown func(context.Context) error
}

type AppOption func(*App)

func WithName(name string) AppOption {
	return func(app *App) { app.name = name }
}

func WithVersion(version string) AppOption {
	return func(app *App) { app.version = version }
}

func WithOptions(opts Options) AppOption {
	return func(app *App) { app.opts = opts }
}

func WithShutdownTimeout(d time.Duration) AppOption {
	return func(app *App) { app.shutdownTimeout = d }
}

// WithOnSetup runs after the loader and logger exist, before Start.
func WithOnSetup(fn func(*App) error) AppOption {
	return func(app *App) { app.onSetup = fn }
}

// WithOnReady runs once every component is started.
func WithOnReady(fn func(*App) error) AppOption {
	return func(app *App) { app.onReady = fn }
}

func WithOnShutdown(fn func(context.Context) error) AppOption {
	return func(app *App) { app.onShutdown = fn }
}

func NewApp(opts ...AppOption) *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		injector:        do.New(),
		ctx:             ctx,
		cancel:          cancel,
		state:           StateInit,
		name:            "habitcache",
		version:         "dev",
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

func (app *App) Injector() *do.RootScope { return app.injector }

func (app *App) Logger() *logger.CtxZapLogger { return app.logger }

func (app *App) ConfigLoader() *config.Loader { return app.loader }

// Context is cancelled when Shutdown starts.
func (app *App) Context() context.Context { return app.ctx }

func (app *App) State() AppState {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.state
}

func (app *App) setState(state AppState) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.state = state
}

// Setup registers the providers and builds the loader and logger.
func (app *App) Setup() error {
	app.setState(StateSetup)
	Register(app.injector, app.opts)

	loader, err := do.Invoke[*config.Loader](app.injector)
	if err != nil {
		return fmt.Errorf("config init failed: %w", err)
	}
	app.loader = loader
	if _, err := do.Invoke[*logger.Manager](app.injector); err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	app.logger = ModuleLogger(app.injector, app.name)

	app.logger.Info("application setting up",
		zap.String("name", app.name),
		zap.String("version", app.version),
		zap.Strings("config_files", loader.LoadedFiles()),
	)
	if app.onSetup != nil {
		if err := app.onSetup(app); err != nil {
			return fmt.Errorf("setup hook failed: %w", err)
		}
	}
	return nil
}

// Start builds tracing, the cache and metrics, then starts the admin server
// when it is enabled.
func (app *App) Start() error {
	if _, err := do.Invoke[*telemetry.TracerManager](app.injector); err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	engine, err := do.Invoke[*cache.Engine](app.injector)
	if err != nil {
		return fmt.Errorf("cache init failed: %w", err)
	}
	if _, err := do.Invoke[*telemetry.MetricsManager](app.injector); err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}

	cfg, err := do.Invoke[admin.Config](app.injector)
	if err != nil {
		return fmt.Errorf("admin config invalid: %w", err)
	}
	if cfg.Enabled {
		srv, err := do.Invoke[*admin.Server](app.injector)
		if err != nil {
			return fmt.Errorf("admin init failed: %w", err)
		}
		if err := srv.Start(app.ctx); err != nil {
			return fmt.Errorf("admin start failed: %w", err)
		}
	}

	app.setState(StateRunning)
	app.logger.Info("application started",
		zap.String("name", app.name),
		zap.String("namespace", engine.Config().Namespace),
		zap.Bool("admin", cfg.Enabled),
	)
	if app.onReady != nil {
		if err := app.onReady(app); err != nil {
			return fmt.Errorf("ready hook failed: %w", err)
		}
	}
	return nil
}

// Run blocks until ctx is done or SIGINT/SIGTERM arrives, then shuts down.
func (app *App) Run(ctx context.Context) error {
	if err := app.Setup(); err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		_ = app.Shutdown(context.Background())
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case sig := <-quit:
		app.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	return app.Shutdown(sctx)
}

// Shutdown is safe to call more than once.
func (app *App) Shutdown(ctx context.Context) error {
	if s := app.State(); s == StateStopping || s == StateStopped {
		return nil
	}
	app.setState(StateStopping)
	log := app.logger
	if log == nil {
		log = logger.NewNop()
	}
	log.Info("application shutting down")

	var errs []error
	if app.onShutdown != nil {
		if err := app.onShutdown(ctx); err != nil {
			log.Warn("shutdown hook failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	app.cancel()

	if report := app.injector.ShutdownWithContext(ctx); report != nil && !report.Succeed {
		errs = append(errs, report)
	}
	app.setState(StateStopped)
	return errors.Join(errs...)
}

// HealthCheck runs the do-level checks of every built service.
func (app *App) HealthCheck() map[string]error {
	return app.injector.HealthCheck()
}
