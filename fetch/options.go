package fetch

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/KOMKZ/habitcache/breaker"
	"github.com/KOMKZ/habitcache/logger"
)

type config struct {
	baseURL   string
	timeout   time.Duration
	headers   map[string]string
	transport http.RoundTripper
	log       *logger.CtxZapLogger

	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration

	beforeRequest func(*http.Request) error
	breaker       *breaker.Breaker
	tracer        trace.TracerProvider
}

func newConfig() *config {
	return &config{
		timeout:         10 * time.Second,
		headers:         map[string]string{"Accept": "application/json"},
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     5 * time.Second,
		maxElapsed:      30 * time.Second,
	}
}

type Option func(*config)

// WithBaseURL prefixes relative request paths.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithTimeout bounds a single attempt, not the whole retry loop.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func WithHeader(key, value string) Option {
	return func(c *config) { c.headers[key] = value }
}

func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) { c.transport = rt }
}

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(c *config) { c.log = l }
}

// WithRetry sets the retry budget: at most n retries after the first
// attempt, starting at initial and doubling up to max.
func WithRetry(n uint64, initial, max time.Duration) Option {
	return func(c *config) {
		c.maxRetries = n
		if initial > 0 {
			c.initialInterval = initial
		}
		if max > 0 {
			c.maxInterval = max
		}
	}
}

// WithMaxElapsed caps the total time spent retrying. 0 means no cap.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *config) { c.maxElapsed = d }
}

// WithBeforeRequest runs hook on every attempt, e.g. to add auth headers.
func WithBeforeRequest(hook func(*http.Request) error) Option {
	return func(c *config) { c.beforeRequest = hook }
}

// WithBreaker guards every upstream host with b. While a host's circuit is
// open, Do fails at once with breaker.ErrCircuitOpen.
func WithBreaker(b *breaker.Breaker) Option {
	return func(c *config) { c.breaker = b }
}

// WithTracerProvider sets where request spans go; the otel global by
// default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracer = tp }
}

// Config is the "fetch" section used by the CLI and the DI graph.
type Config struct {
	BaseURL         string            `mapstructure:"base_url"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	Headers         map[string]string `mapstructure:"headers"`
	MaxRetries      uint64            `mapstructure:"max_retries"`
	InitialInterval time.Duration     `mapstructure:"initial_interval"`
	MaxInterval     time.Duration     `mapstructure:"max_interval"`
	MaxElapsed      time.Duration     `mapstructure:"max_elapsed"`
	Breaker         breaker.Config    `mapstructure:"breaker"`
}

func DefaultConfig() Config {
	c := newConfig()
	return Config{
		Timeout:         c.timeout,
		MaxRetries:      c.maxRetries,
		InitialInterval: c.initialInterval,
		MaxInterval:     c.maxInterval,
		MaxElapsed:      c.maxElapsed,
		Breaker:         breaker.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	return c.Breaker.Validate()
}

// Options turns the section into client options. log receives breaker
// transitions and may be nil.
func (c Config) Options(log *logger.CtxZapLogger) []Option {
	opts := []Option{
		WithBaseURL(c.BaseURL),
		WithRetry(c.MaxRetries, c.InitialInterval, c.MaxInterval),
		WithMaxElapsed(c.MaxElapsed),
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	for k, v := range c.Headers {
		opts = append(opts, WithHeader(http.CanonicalHeaderKey(k), v))
	}
	if c.Breaker.Enabled {
		bopts := []breaker.Option{}
		if log != nil {
			bopts = append(bopts, breaker.WithLogger(log))
		}
		opts = append(opts, WithBreaker(breaker.New(c.Breaker, bopts...)))
	}
	if log != nil {
		opts = append(opts, WithLogger(log))
	}
	return opts
}
