package cache

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config is the "cache" section.
type Config struct {
	// Version is the payload schema version. Entries written under another
	// version are never served.
	Version    string `mapstructure:"version"`
	Namespace  string `mapstructure:"namespace"` // durable key prefix
	MaxEntries int    `mapstructure:"max_entries"`
	Serializer string `mapstructure:"serializer"` // json or msgpack

	// ExpiringThreshold is the elapsed/ttl ratio from which a fresh hit also
	// triggers a background refresh.
	ExpiringThreshold float64       `mapstructure:"expiring_threshold"`
	OptimisticTTL     time.Duration `mapstructure:"optimistic_ttl"`

	DefaultClass TTLClass                   `mapstructure:"default_class"`
	TTLClasses   map[TTLClass]time.Duration `mapstructure:"ttl_classes"`
	Kinds        map[string]TTLClass        `mapstructure:"kinds"` // key kind -> class

	PoolSize      int           `mapstructure:"pool_size"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 0 disables the janitor

	InvalidationRules []InvalidationRule `mapstructure:"invalidation_rules"`
	MetricsEnabled    bool               `mapstructure:"metrics_enabled"`
}

// InvalidationRule invalidates Patterns (substring) and Kinds (structural)
// whenever Event is dispatched.
type InvalidationRule struct {
	Event    string   `mapstructure:"event"`
	Patterns []string `mapstructure:"patterns"`
	Kinds    []string `mapstructure:"kinds"`
}

func (r InvalidationRule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Event, validation.Required),
		validation.Field(&r.Patterns,
			validation.Required.When(len(r.Kinds) == 0).Error("patterns or kinds required"),
			validation.Each(validation.Required),
		),
	)
}

func DefaultConfig() Config {
	return Config{
		Version:           "1",
		Namespace:         "hc:",
		MaxEntries:        10000,
		Serializer:        SerializerJSON,
		ExpiringThreshold: 0.8,
		OptimisticTTL:     5 * time.Second,
		DefaultClass:      ClassMedium,
		TTLClasses:        DefaultTTLClasses(),
		PoolSize:          16,
		SweepInterval:     10 * time.Minute,
		MetricsEnabled:    true,
	}
}

// ApplyDefaults fills zero-valued fields in place.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.Serializer == "" {
		c.Serializer = d.Serializer
	}
	if c.ExpiringThreshold == 0 {
		c.ExpiringThreshold = d.ExpiringThreshold
	}
	if c.OptimisticTTL == 0 {
		c.OptimisticTTL = d.OptimisticTTL
	}
	if c.DefaultClass == "" {
		c.DefaultClass = d.DefaultClass
	}
	if c.TTLClasses == nil {
		c.TTLClasses = make(map[TTLClass]time.Duration)
	}
	for class, ttl := range d.TTLClasses {
		if c.TTLClasses[class] == 0 {
			c.TTLClasses[class] = ttl
		}
	}
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Version, validation.Required),
		validation.Field(&c.Namespace, validation.Required),
		validation.Field(&c.MaxEntries, validation.Min(1)),
		validation.Field(&c.Serializer, validation.In(SerializerJSON, SerializerMsgpack)),
		validation.Field(&c.ExpiringThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.OptimisticTTL, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultClass, validation.By(validClass)),
		validation.Field(&c.TTLClasses, validation.By(func(v any) error {
			for class, ttl := range v.(map[TTLClass]time.Duration) {
				if !class.Valid() {
					return fmt.Errorf("unknown ttl class %q", class)
				}
				if ttl <= 0 {
					return fmt.Errorf("ttl of class %q must be positive", class)
				}
			}
			return nil
		})),
		validation.Field(&c.Kinds, validation.By(func(v any) error {
			for kind, class := range v.(map[string]TTLClass) {
				if err := validClass(class); err != nil {
					return fmt.Errorf("kind %q: %w", kind, err)
				}
			}
			return nil
		})),
		validation.Field(&c.PoolSize, validation.Min(1)),
		validation.Field(&c.SweepInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.InvalidationRules),
	)
}

func validClass(v any) error {
	if c, _ := v.(TTLClass); !c.Valid() {
		return errors.New("must be one of fast, medium, slow, static")
	}
	return nil
}

// ttlFor resolves the TTL for k when the caller gave neither a TTL nor a
// class: the kind's configured class, else DefaultClass.
func (c *Config) ttlFor(k Key, class TTLClass) time.Duration {
	if class == "" {
		class = c.Kinds[k.Kind]
	}
	if class == "" {
		class = c.DefaultClass
	}
	if ttl, ok := c.TTLClasses[class]; ok {
		return ttl
	}
	return DefaultTTLClasses()[ClassMedium]
}
