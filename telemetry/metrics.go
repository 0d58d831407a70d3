// Package telemetry owns the process MeterProvider and TracerProvider and
// hooks component metrics into the former.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/component"
	"github.com/KOMKZ/habitcache/logger"
)

const meterName = "github.com/KOMKZ/habitcache"

// MetricsManager is a no-op when telemetry is disabled, so callers never
// branch on it.
type MetricsManager struct {
	cfg      Config
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
	log      *logger.CtxZapLogger
}

// Option customizes NewMetricsManager.
type Option func(*options)

type options struct {
	writer       io.Writer
	reader       sdkmetric.Reader
	spanExporter sdktrace.SpanExporter
	global       bool
}

// WithWriter sends stdout exporter output elsewhere.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithReader replaces the exporter pipeline, e.g. with a ManualReader.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.reader = r }
}

// WithSpanExporter replaces the trace exporter, e.g. with an in-memory one.
// Spans are then exported synchronously.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporter = exp }
}

// WithGlobal installs the provider as the otel global.
func WithGlobal() Option {
	return func(o *options) { o.global = true }
}

func NewMetricsManager(ctx context.Context, cfg Config, log *logger.CtxZapLogger, opts ...Option) (*MetricsManager, error) {
	if log == nil {
		log = logger.NewNop()
	}
	m := &MetricsManager{cfg: cfg, log: log, meter: noop.NewMeterProvider().Meter(meterName)}
	if !cfg.Enabled {
		return m, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if o.reader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(o.reader))
	} else {
		exporter, err := newMetricExporter(ctx, cfg, o.writer)
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.ExportInterval),
				sdkmetric.WithTimeout(cfg.ExportTimeout),
			)))
		}
	}

	m.provider = sdkmetric.NewMeterProvider(mpOpts...)
	m.meter = m.provider.Meter(meterName)
	if o.global {
		otel.SetMeterProvider(m.provider)
	}
	log.InfoCtx(ctx, "metrics enabled",
		zap.String("exporter", cfg.Exporter),
		zap.Duration("interval", cfg.ExportInterval),
	)
	return m, nil
}

// newMetricExporter returns nil for ExporterNone.
func newMetricExporter(ctx context.Context, cfg Config, w io.Writer) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		opts := []stdoutmetric.Option{stdoutmetric.WithWriter(w)}
		if cfg.PrettyPrint {
			opts = append(opts, stdoutmetric.WithPrettyPrint())
		}
		exp, err := stdoutmetric.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout metrics exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpoint(cfg.OTLP.Endpoint),
			otlpmetricgrpc.WithTimeout(cfg.OTLP.Timeout),
		}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		if len(cfg.OTLP.Headers) > 0 {
			opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.OTLP.Headers))
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metrics exporter: %w", err)
		}
		return exp, nil
	}
	return nil, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	keys := make([]string, 0, len(cfg.ResourceAttrs))
	for k := range cfg.ResourceAttrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, os.ExpandEnv(cfg.ResourceAttrs[k])))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
	)
}

func (m *MetricsManager) Enabled() bool { return m.provider != nil }

func (m *MetricsManager) Meter() metric.Meter { return m.meter }

// Register hooks every provider that has metrics enabled into the meter.
func (m *MetricsManager) Register(providers ...component.MetricsProvider) error {
	if !m.Enabled() {
		return nil
	}
	for _, p := range providers {
		if p == nil || !p.IsMetricsEnabled() {
			continue
		}
		if err := p.RegisterMetrics(m.meter); err != nil {
			return fmt.Errorf("register %s metrics: %w", p.MetricsName(), err)
		}
		m.log.Debug("metrics registered", zap.String("provider", p.MetricsName()))
	}
	return nil
}

// ForceFlush exports pending data now; used by one-shot CLI commands.
func (m *MetricsManager) ForceFlush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider.
func (m *MetricsManager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
