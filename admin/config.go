package admin

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config is the "admin" section.
type Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Mode          string `mapstructure:"mode"` // gin mode: debug, release or test
	ServiceName   string `mapstructure:"service_name"`
	EnableTracing bool   `mapstructure:"enable_tracing"`
	// Swagger serves the API docs on /swagger/*any and /openapi.json.
	Swagger       bool          `mapstructure:"swagger"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	SkipLogPaths  []string      `mapstructure:"skip_log_paths"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Addr:          "127.0.0.1:8089",
		Mode:          "release",
		ServiceName:   "habitcache",
		EnableTracing: true,
		Swagger:       true,
		HealthTimeout: 3 * time.Second,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		SkipLogPaths:  []string{"/healthz"},
	}
}

func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.Mode, validation.In("debug", "release", "test")),
		validation.Field(&c.HealthTimeout, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return ErrConfigInvalid.Wrap(err)
	}
	return nil
}
