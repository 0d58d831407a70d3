package telemetry

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	SamplerAlwaysOn    = "always_on"
	SamplerAlwaysOff   = "always_off"
	SamplerRatio       = "trace_id_ratio"
	SamplerParentBased = "parent_based_always_on"
)

// Config is the "telemetry" section. Exporter applies to traces and
// metrics alike.
type Config struct {
	Enabled        bool              `mapstructure:"enabled"`
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Exporter       string            `mapstructure:"exporter"` // stdout, otlp or none
	PrettyPrint    bool              `mapstructure:"pretty_print"`
	ExportInterval time.Duration     `mapstructure:"export_interval"`
	ExportTimeout  time.Duration     `mapstructure:"export_timeout"`
	ResourceAttrs  map[string]string `mapstructure:"resource_attrs"`
	OTLP           OTLPConfig        `mapstructure:"otlp"`
	Traces         TracesConfig      `mapstructure:"traces"`
}

// OTLPConfig points both exporters at a collector over gRPC.
type OTLPConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
	Timeout  time.Duration     `mapstructure:"timeout"`
}

type TracesConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"` // trace_id_ratio only
	// Batch exports in the background; off exports every span as it ends.
	Batch bool `mapstructure:"batch"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "habitcache",
		ServiceVersion: "dev",
		Exporter:       ExporterStdout,
		ExportInterval: time.Minute,
		ExportTimeout:  10 * time.Second,
		OTLP: OTLPConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
			Timeout:  10 * time.Second,
		},
		Traces: TracesConfig{
			Enabled: true,
			Sampler: SamplerParentBased,
			Ratio:   1,
			Batch:   true,
		},
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Exporter, validation.In(ExporterNone, ExporterStdout, ExporterOTLP)),
		validation.Field(&c.ExportInterval, validation.Min(time.Second)),
		validation.Field(&c.OTLP, validation.Skip.When(c.Exporter != ExporterOTLP)),
		validation.Field(&c.Traces),
	)
}

func (c OTLPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Millisecond)),
	)
}

func (c TracesConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Sampler, validation.In(SamplerAlwaysOn, SamplerAlwaysOff, SamplerRatio, SamplerParentBased)),
		validation.Field(&c.Ratio, validation.Min(0.0), validation.Max(1.0)),
	)
}
