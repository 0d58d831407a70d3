package breaker

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config is the "breaker" subsection of fetch.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// ConsecutiveFailures opens the circuit.
	ConsecutiveFailures int `mapstructure:"consecutive_failures"`
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration `mapstructure:"timeout"`
	// HalfOpenRequests trial calls must all succeed to close again.
	HalfOpenRequests int `mapstructure:"half_open_requests"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:             false,
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// ApplyDefaults fills non-positive values.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ConsecutiveFailures <= 0 {
		c.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = d.HalfOpenRequests
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ConsecutiveFailures, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.HalfOpenRequests, validation.Min(0), validation.Max(100)),
	)
}
