package event

import "github.com/KOMKZ/habitcache/logger"

// Config is the event section of the configuration file.
type Config struct {
	PoolSize   int  `mapstructure:"pool_size"`
	SetAllSync bool `mapstructure:"set_all_sync"`
}

func DefaultConfig() Config {
	return Config{PoolSize: 100}
}

type listenerEntry struct {
	id       uint64
	listener Listener
	priority int
	async    bool
	once     bool
}

type SubscribeOption func(*listenerEntry)

// WithPriority orders listeners; lower runs first. Default 0.
func WithPriority(p int) SubscribeOption {
	return func(e *listenerEntry) { e.priority = p }
}

// WithAsync runs the listener on the pool. Its error is logged, not returned.
func WithAsync() SubscribeOption {
	return func(e *listenerEntry) { e.async = true }
}

// WithOnce unsubscribes the listener after its first run.
func WithOnce() SubscribeOption {
	return func(e *listenerEntry) { e.once = true }
}

type dispatchOptions struct {
	async bool
}

type DispatchOption func(*dispatchOptions)

// WithDispatchAsync returns immediately and runs the listeners on the pool.
func WithDispatchAsync() DispatchOption {
	return func(o *dispatchOptions) { o.async = true }
}

type DispatcherOption func(*dispatcher)

func WithPoolSize(n int) DispatcherOption {
	return func(d *dispatcher) { d.poolSize = n }
}

// WithSetAllSync forces every listener and dispatch to run synchronously.
// Tests use it for determinism.
func WithSetAllSync(v bool) DispatcherOption {
	return func(d *dispatcher) { d.allSync = v }
}

func WithLogger(l *logger.CtxZapLogger) DispatcherOption {
	return func(d *dispatcher) { d.logger = l }
}

// WithConfig applies a Config section.
func WithConfig(cfg Config) DispatcherOption {
	return func(d *dispatcher) {
		if cfg.PoolSize > 0 {
			d.poolSize = cfg.PoolSize
		}
		d.allSync = cfg.SetAllSync
	}
}
