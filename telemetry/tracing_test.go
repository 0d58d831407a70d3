package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracerManager_Disabled(t *testing.T) {
	m, err := NewTracerManager(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, m.Enabled())
	assert.Equal(t, otel.GetTracerProvider(), m.TracerProvider())
	assert.NoError(t, m.ForceFlush(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()))

	cfg := enabledConfig()
	cfg.Traces.Enabled = false
	m, err = NewTracerManager(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, m.Enabled(), "metrics can run without traces")
}

func TestTracerManager_RecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	m, err := NewTracerManager(context.Background(), enabledConfig(), nil, WithSpanExporter(exp))
	require.NoError(t, err)
	defer m.Shutdown(context.Background())
	require.True(t, m.Enabled())

	_, span := m.TracerProvider().Tracer("test").Start(context.Background(), "habitcache.fetch")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "habitcache.fetch", spans[0].Name)
	v, ok := spans[0].Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "habitcache", v.AsString())
}

func TestTracerManager_Samplers(t *testing.T) {
	for _, tt := range []struct {
		sampler string
		ratio   float64
		sampled bool
	}{
		{SamplerAlwaysOn, 0, true},
		{SamplerAlwaysOff, 0, false},
		{SamplerRatio, 0, false},
		{SamplerRatio, 1, true},
		{SamplerParentBased, 0, true},
	} {
		t.Run(tt.sampler, func(t *testing.T) {
			cfg := enabledConfig()
			cfg.Traces.Sampler, cfg.Traces.Ratio = tt.sampler, tt.ratio
			exp := tracetest.NewInMemoryExporter()
			m, err := NewTracerManager(context.Background(), cfg, nil, WithSpanExporter(exp))
			require.NoError(t, err)
			defer m.Shutdown(context.Background())

			_, span := m.TracerProvider().Tracer("test").Start(context.Background(), "op")
			span.End()
			assert.Equal(t, tt.sampled, len(exp.GetSpans()) == 1)
		})
	}
}

func TestTracerManager_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := enabledConfig()
	cfg.Traces.Batch = false
	m, err := NewTracerManager(context.Background(), cfg, nil, WithWriter(&buf))
	require.NoError(t, err)

	_, span := m.TracerProvider().Tracer("test").Start(context.Background(), "habitcache.fetch")
	span.End()
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "habitcache.fetch")
}

func TestTracerManager_NoneStillRecords(t *testing.T) {
	cfg := enabledConfig()
	cfg.Exporter = ExporterNone
	m, err := NewTracerManager(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	_, span := m.TracerProvider().Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.IsRecording())
}

func TestTracerManager_Global(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	exp := tracetest.NewInMemoryExporter()
	m, err := NewTracerManager(context.Background(), enabledConfig(), nil, WithSpanExporter(exp), WithGlobal())
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	assert.Contains(t, carrier.Get("traceparent"), trace.SpanFromContext(ctx).SpanContext().TraceID().String())
	assert.Len(t, exp.GetSpans(), 1)
}
