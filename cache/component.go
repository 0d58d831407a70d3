package cache

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/component"
	"github.com/KOMKZ/habitcache/durable"
	"github.com/KOMKZ/habitcache/event"
	"github.com/KOMKZ/habitcache/logger"
)

// Component owns the durable store, the engine and its janitor for the
// lifetime of a process.
type Component struct {
	log        *logger.CtxZapLogger
	dispatcher event.Dispatcher
	extra      []Option

	config  Config
	dcfg    durable.Config
	store   durable.Store
	dmetric *durable.Metrics
	engine  *Engine
	metrics *Metrics
	janitor *Janitor
}

// NewComponent creates the component. dispatcher may be nil. opts reach the
// engine; config, logger and dispatcher come from the component itself.
func NewComponent(log *logger.CtxZapLogger, dispatcher event.Dispatcher, opts ...Option) *Component {
	if log == nil {
		log = logger.NewNop()
	}
	return &Component{log: log, dispatcher: dispatcher, extra: opts}
}

func (c *Component) Name() string { return component.ComponentCache }

func (c *Component) DependsOn() []string {
	return []string{component.ComponentConfig, component.ComponentLogger, "optional:" + component.ComponentEvent}
}

// Init reads the "cache" and "durable" sections, opens the durable store
// and builds the engine. Missing sections fall back to defaults.
func (c *Component) Init(ctx context.Context, loader component.ConfigLoader) error {
	c.config = DefaultConfig()
	if loader.IsSet("cache") {
		if err := loader.Unmarshal("cache", &c.config); err != nil {
			return ErrConfigInvalid.Wrap(err)
		}
	}
	c.config.ApplyDefaults()
	if err := c.config.Validate(); err != nil {
		return ErrConfigInvalid.Wrap(err)
	}

	c.dcfg = durable.DefaultConfig()
	if loader.IsSet("durable") {
		if err := loader.Unmarshal("durable", &c.dcfg); err != nil {
			return ErrConfigInvalid.Wrap(err)
		}
	}
	store, err := durable.Open(ctx, c.dcfg, c.log)
	if err != nil {
		return ErrStoreUnavailable.Wrap(err)
	}
	c.dmetric = durable.NewMetrics(c.config.MetricsEnabled)
	c.store = durable.Instrument(store, c.dmetric)

	opts := append(append([]Option{}, c.extra...), WithConfig(c.config), WithLogger(c.log))
	if c.dispatcher != nil {
		opts = append(opts, WithDispatcher(c.dispatcher))
	}
	if c.engine, err = New(c.store, opts...); err != nil {
		_ = c.store.Close()
		return err
	}
	c.metrics = NewMetrics(c.engine, c.config.MetricsEnabled)

	if c.config.SweepInterval > 0 {
		if c.janitor, err = NewJanitor(c.engine, c.config.SweepInterval, nil); err != nil {
			_ = c.store.Close()
			return err
		}
	}
	c.log.InfoCtx(ctx, "cache component initialized",
		zap.String("durable", c.dcfg.Type),
		zap.Duration("sweep_interval", c.config.SweepInterval),
	)
	return nil
}

func (c *Component) Start(ctx context.Context) error {
	if c.janitor != nil {
		c.janitor.Start()
	}
	return nil
}

// Stop stops the janitor, drains the engine and closes the durable store.
func (c *Component) Stop(ctx context.Context) error {
	var errs []error
	if c.janitor != nil {
		errs = append(errs, c.janitor.Stop())
	}
	if c.metrics != nil {
		errs = append(errs, c.metrics.Unregister())
	}
	if c.engine != nil {
		errs = append(errs, c.engine.Close(ctx))
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}

// Shutdown is Stop under the name DI containers look for.
func (c *Component) Shutdown(ctx context.Context) error { return c.Stop(ctx) }

// Engine is nil before Init.
func (c *Component) Engine() *Engine { return c.engine }

func (c *Component) Config() Config { return c.config }

func (c *Component) GetHealthChecker() component.HealthChecker {
	return NewHealthChecker(c.engine)
}

// DurableHealthChecker checks the durable store. Its failure degrades the
// cache to memory only, so callers usually register it as optional.
func (c *Component) DurableHealthChecker() component.HealthChecker {
	return durable.NewHealthChecker(c.store)
}

func (c *Component) MetricsName() string    { return component.ComponentCache }
func (c *Component) IsMetricsEnabled() bool { return c.config.MetricsEnabled }

func (c *Component) RegisterMetrics(meter metric.Meter) error {
	if c.metrics == nil {
		return errors.New("cache component not initialized")
	}
	if err := c.dmetric.RegisterMetrics(meter); err != nil {
		return err
	}
	return c.metrics.RegisterMetrics(meter)
}

// HealthChecker fails when the engine is missing or closed.
type HealthChecker struct {
	engine *Engine
}

func NewHealthChecker(e *Engine) *HealthChecker {
	return &HealthChecker{engine: e}
}

func (h *HealthChecker) Name() string { return component.ComponentCache }

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.engine == nil {
		return errors.New("cache engine not initialized")
	}
	if h.engine.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}
