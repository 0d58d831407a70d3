package di

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/KOMKZ/habitcache/admin"
	"github.com/KOMKZ/habitcache/cache"
	"github.com/KOMKZ/habitcache/config"
	"github.com/KOMKZ/habitcache/event"
	"github.com/KOMKZ/habitcache/fetch"
	"github.com/KOMKZ/habitcache/health"
	"github.com/KOMKZ/habitcache/logger"
	"github.com/KOMKZ/habitcache/telemetry"
)

// Options configures the root of the graph.
type Options struct {
	ConfigFile string
	EnvPrefix  string
	// Overrides win over file and env values; cobra flags land here.
	Overrides map[string]interface{}
	// Loader skips building one from the fields above.
	Loader *config.Loader
	// Tracing is appended to the tracer manager options, e.g. to swap
	// the span exporter in tests.
	Tracing []telemetry.Option
}

// Register provides every component. Nothing is built until invoked.
func Register(injector do.Injector, opts Options) {
	if opts.Loader != nil {
		do.Provide(injector, config.ProvideLoaderValue(opts.Loader))
	} else {
		do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{
			ConfigFile: opts.ConfigFile,
			EnvPrefix:  opts.EnvPrefix,
			Overrides:  opts.Overrides,
		}))
	}
	do.Provide(injector, ProvideLoggerManager)
	do.Provide(injector, ProvideTelemetryConfig)
	do.Provide(injector, ProvideTracerManager(opts.Tracing...))
	do.Provide(injector, ProvideEventMetrics)
	do.Provide(injector, ProvideDispatcher)
	do.Provide(injector, ProvideCacheComponent)
	do.Provide(injector, ProvideEngine)
	do.Provide(injector, ProvideHealthAggregator)
	do.Provide(injector, ProvideAdminConfig)
	do.Provide(injector, ProvideAdminServer)
	do.Provide(injector, ProvideMetricsManager)
	do.Provide(injector, ProvideFetchClient)
}

// section unmarshals key into cfg when the key is present.
func section(i do.Injector, key string, cfg interface{}) error {
	loader, err := do.Invoke[*config.Loader](i)
	if err != nil {
		return err
	}
	if !loader.IsSet(key) {
		return nil
	}
	if err := loader.Unmarshal(key, cfg); err != nil {
		return fmt.Errorf("parse %s config: %w", key, err)
	}
	return nil
}

// ProvideLoggerManager reads the "logger" section.
func ProvideLoggerManager(i do.Injector) (*logger.Manager, error) {
	cfg := logger.DefaultManagerConfig()
	if err := section(i, "logger", &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return logger.NewManager(cfg)
}

// ModuleLogger returns the named module logger, or a nop logger when the
// manager cannot be built.
func ModuleLogger(i do.Injector, module string) *logger.CtxZapLogger {
	mgr, err := do.Invoke[*logger.Manager](i)
	if err != nil {
		return logger.NewNop()
	}
	return mgr.GetLogger(module)
}

func ProvideTelemetryConfig(i do.Injector) (telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	if err := section(i, "telemetry", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ProvideTracerManager builds the TracerProvider and installs it as the
// otel global, which otelgin picks up.
func ProvideTracerManager(extra ...telemetry.Option) func(do.Injector) (*telemetry.TracerManager, error) {
	return func(i do.Injector) (*telemetry.TracerManager, error) {
		cfg, err := do.Invoke[telemetry.Config](i)
		if err != nil {
			return nil, err
		}
		opts := append([]telemetry.Option{telemetry.WithGlobal()}, extra...)
		return telemetry.NewTracerManager(context.Background(), cfg, ModuleLogger(i, "telemetry"), opts...)
	}
}

// ProvideEventMetrics follows the telemetry switch.
func ProvideEventMetrics(i do.Injector) (*event.Metrics, error) {
	cfg, err := do.Invoke[telemetry.Config](i)
	if err != nil {
		return nil, err
	}
	return event.NewMetrics(cfg.Enabled), nil
}

// ProvideDispatcher reads the "event" section.
func ProvideDispatcher(i do.Injector) (event.Dispatcher, error) {
	cfg := event.DefaultConfig()
	if err := section(i, "event", &cfg); err != nil {
		return nil, err
	}
	d := event.NewDispatcher(event.WithConfig(cfg), event.WithLogger(ModuleLogger(i, "event")))
	if m, err := do.Invoke[*event.Metrics](i); err == nil && m.IsMetricsEnabled() {
		d.Use(m.Interceptor())
	}
	return d, nil
}

// ProvideCacheComponent initializes and starts the cache component.
func ProvideCacheComponent(i do.Injector) (*cache.Component, error) {
	loader, err := do.Invoke[*config.Loader](i)
	if err != nil {
		return nil, err
	}
	dispatcher, err := do.Invoke[event.Dispatcher](i)
	if err != nil {
		return nil, err
	}
	tm, err := do.Invoke[*telemetry.TracerManager](i)
	if err != nil {
		return nil, err
	}
	comp := cache.NewComponent(ModuleLogger(i, "cache"), dispatcher, cache.WithTracerProvider(tm.TracerProvider()))
	ctx := context.Background()
	if err := comp.Init(ctx, loader); err != nil {
		return nil, err
	}
	if err := comp.Start(ctx); err != nil {
		_ = comp.Stop(ctx)
		return nil, err
	}
	return comp, nil
}

func ProvideEngine(i do.Injector) (*cache.Engine, error) {
	comp, err := do.Invoke[*cache.Component](i)
	if err != nil {
		return nil, err
	}
	return comp.Engine(), nil
}

func ProvideAdminConfig(i do.Injector) (admin.Config, error) {
	cfg := admin.DefaultConfig()
	if err := section(i, "admin", &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ProvideHealthAggregator requires the engine; a failing durable store only
// degrades the report since the memory tier keeps serving.
func ProvideHealthAggregator(i do.Injector) (*health.Aggregator, error) {
	comp, err := do.Invoke[*cache.Component](i)
	if err != nil {
		return nil, err
	}
	cfg, err := do.Invoke[admin.Config](i)
	if err != nil {
		return nil, err
	}
	agg := health.NewAggregator(cfg.HealthTimeout)
	agg.Register(comp.GetHealthChecker())
	agg.RegisterOptional(comp.DurableHealthChecker())
	agg.SetMetadata("namespace", comp.Config().Namespace)
	return agg, nil
}

// ProvideAdminServer builds the server; it does not listen until Start.
func ProvideAdminServer(i do.Injector) (*admin.Server, error) {
	cfg, err := do.Invoke[admin.Config](i)
	if err != nil {
		return nil, err
	}
	engine, err := do.Invoke[*cache.Engine](i)
	if err != nil {
		return nil, err
	}
	agg, err := do.Invoke[*health.Aggregator](i)
	if err != nil {
		return nil, err
	}
	return admin.NewServer(cfg, engine, agg, ModuleLogger(i, "admin"))
}

// ProvideMetricsManager builds the meter provider and registers the cache
// and event instruments with it.
func ProvideMetricsManager(i do.Injector) (*telemetry.MetricsManager, error) {
	cfg, err := do.Invoke[telemetry.Config](i)
	if err != nil {
		return nil, err
	}
	mm, err := telemetry.NewMetricsManager(context.Background(), cfg, ModuleLogger(i, "telemetry"), telemetry.WithGlobal())
	if err != nil {
		return nil, err
	}
	comp, err := do.Invoke[*cache.Component](i)
	if err != nil {
		return nil, err
	}
	em, err := do.Invoke[*event.Metrics](i)
	if err != nil {
		return nil, err
	}
	if err := mm.Register(comp, em); err != nil {
		_ = mm.Shutdown(context.Background())
		return nil, err
	}
	return mm, nil
}

// ProvideFetchClient reads the "fetch" section.
func ProvideFetchClient(i do.Injector) (*fetch.Client, error) {
	cfg := fetch.DefaultConfig()
	if err := section(i, "fetch", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("parse fetch config: %w", err)
	}
	tm, err := do.Invoke[*telemetry.TracerManager](i)
	if err != nil {
		return nil, err
	}
	opts := append(cfg.Options(ModuleLogger(i, "fetch")), fetch.WithTracerProvider(tm.TracerProvider()))
	return fetch.NewClient(opts...), nil
}
