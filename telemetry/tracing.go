package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/logger"
)

// TracerManager owns the process TracerProvider. When tracing is off it
// hands out the current global provider, so a host that installed its own
// keeps receiving spans.
type TracerManager struct {
	cfg      Config
	provider *sdktrace.TracerProvider
	log      *logger.CtxZapLogger
}

func NewTracerManager(ctx context.Context, cfg Config, log *logger.CtxZapLogger, opts ...Option) (*TracerManager, error) {
	if log == nil {
		log = logger.NewNop()
	}
	m := &TracerManager{cfg: cfg, log: log}
	if !cfg.Enabled || !cfg.Traces.Enabled {
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
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.Traces)),
	}

	switch {
	case o.spanExporter != nil:
		tpOpts = append(tpOpts, sdktrace.WithSyncer(o.spanExporter))
	default:
		exporter, err := newSpanExporter(ctx, cfg, o.writer)
		if err != nil {
			return nil, err
		}
		// none still records spans so trace ids reach the logs
		if exporter != nil && cfg.Traces.Batch {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
		} else if exporter != nil {
			tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
		}
	}

	m.provider = sdktrace.NewTracerProvider(tpOpts...)
	if o.global {
		otel.SetTracerProvider(m.provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	log.InfoCtx(ctx, "tracing enabled",
		zap.String("exporter", cfg.Exporter),
		zap.String("sampler", cfg.Traces.Sampler),
		zap.Bool("batch", cfg.Traces.Batch),
	)
	return m, nil
}

func newSampler(cfg TracesConfig) sdktrace.Sampler {
	switch cfg.Sampler {
	case SamplerAlwaysOn:
		return sdktrace.AlwaysSample()
	case SamplerAlwaysOff:
		return sdktrace.NeverSample()
	case SamplerRatio:
		return sdktrace.TraceIDRatioBased(cfg.Ratio)
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

// newSpanExporter returns nil for ExporterNone.
func newSpanExporter(ctx context.Context, cfg Config, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
		if cfg.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint),
			otlptracegrpc.WithTimeout(cfg.OTLP.Timeout),
		}
		if cfg.OTLP.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.OTLP.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.OTLP.Headers))
		}
		exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		return exp, nil
	}
	return nil, nil
}

func (m *TracerManager) Enabled() bool { return m.provider != nil }

func (m *TracerManager) TracerProvider() trace.TracerProvider {
	if m.provider == nil {
		return otel.GetTracerProvider()
	}
	return m.provider
}

func (m *TracerManager) ForceFlush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the provider.
func (m *TracerManager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
