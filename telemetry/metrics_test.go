package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeProvider struct {
	name    string
	enabled bool
	err     error
	calls   int
}

func (p *fakeProvider) MetricsName() string    { return p.name }
func (p *fakeProvider) IsMetricsEnabled() bool { return p.enabled }

func (p *fakeProvider) RegisterMetrics(meter metric.Meter) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	counter, err := meter.Int64Counter("habitcache_test_total")
	if err != nil {
		return err
	}
	counter.Add(context.Background(), 3)
	return nil
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ResourceAttrs = map[string]string{"deployment.environment": "test"}
	return cfg
}

func TestMetricsManager_Disabled(t *testing.T) {
	m, err := NewMetricsManager(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, m.Enabled())
	assert.NotNil(t, m.Meter())

	p := &fakeProvider{name: "cache", enabled: true}
	require.NoError(t, m.Register(p))
	assert.Zero(t, p.calls)
	assert.NoError(t, m.ForceFlush(context.Background()))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMetricsManager_RegisterWithManualReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewMetricsManager(context.Background(), enabledConfig(), nil, WithReader(reader))
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	on := &fakeProvider{name: "cache", enabled: true}
	off := &fakeProvider{name: "event", enabled: false}
	require.NoError(t, m.Register(on, off, nil))
	assert.Equal(t, 1, on.calls)
	assert.Zero(t, off.calls)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	v, ok := rm.Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "habitcache", v.AsString())
	v, ok = rm.Resource.Set().Value("deployment.environment")
	require.True(t, ok)
	assert.Equal(t, "test", v.AsString())
	require.Len(t, rm.ScopeMetrics, 1)
	assert.Equal(t, "habitcache_test_total", rm.ScopeMetrics[0].Metrics[0].Name)
}

func TestMetricsManager_RegisterError(t *testing.T) {
	m, err := NewMetricsManager(context.Background(), enabledConfig(), nil, WithReader(sdkmetric.NewManualReader()))
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	boom := errors.New("boom")
	err = m.Register(&fakeProvider{name: "cache", enabled: true, err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "cache")
}

func TestMetricsManager_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := enabledConfig()
	cfg.ExportInterval = time.Hour
	m, err := NewMetricsManager(context.Background(), cfg, nil, WithWriter(&buf))
	require.NoError(t, err)

	require.NoError(t, m.Register(&fakeProvider{name: "cache", enabled: true}))
	require.NoError(t, m.ForceFlush(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "habitcache_test_total")
}

func TestConfig_Validate(t *testing.T) {
	cfg := enabledConfig()
	cfg.Exporter = "zipkin"
	_, err := NewMetricsManager(context.Background(), cfg, nil)
	assert.Error(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no service name", func(c *Config) { c.ServiceName = "" }},
		{"otlp without endpoint", func(c *Config) { c.Exporter, c.OTLP.Endpoint = ExporterOTLP, "" }},
		{"unknown sampler", func(c *Config) { c.Traces.Sampler = "sometimes" }},
		{"ratio above one", func(c *Config) { c.Traces.Ratio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := enabledConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, enabledConfig().Validate())
	cfg = enabledConfig()
	cfg.OTLP.Endpoint = ""
	assert.NoError(t, cfg.Validate(), "otlp settings only matter for the otlp exporter")
}
