package durable

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KOMKZ/habitcache/logger"
)

// Store types accepted by Open.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeSQL    = "sql"
)

// Config selects and configures the durable tier.
type Config struct {
	Type   string       `mapstructure:"type"`
	Memory MemoryConfig `mapstructure:"memory"`
	Redis  RedisConfig  `mapstructure:"redis"`
	SQL    SQLConfig    `mapstructure:"sql"`
}

type MemoryConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type RedisConfig struct {
	Mode         string        `mapstructure:"mode"` // standalone or cluster
	Addrs        []string      `mapstructure:"addrs"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type SQLConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, mysql or postgres
	DSN             string        `mapstructure:"dsn"`
	MaxRows         int64         `mapstructure:"max_rows"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnableLog       bool          `mapstructure:"enable_log"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// DefaultConfig is an in-memory store capped at 5 MiB.
func DefaultConfig() Config {
	return Config{
		Type:   TypeMemory,
		Memory: MemoryConfig{MaxBytes: 5 << 20},
		Redis: RedisConfig{
			Mode:         "standalone",
			Addrs:        []string{"127.0.0.1:6379"},
			PoolSize:     10,
			KeyPrefix:    "habitcache:",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		SQL: SQLConfig{
			Driver:          "sqlite",
			DSN:             "habitcache.db",
			MaxRows:         10000,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			SlowThreshold:   200 * time.Millisecond,
		},
	}
}

// Validate checks the section used by Type.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, validation.In(TypeMemory, TypeRedis, TypeSQL)),
	)
	if err != nil {
		return ErrConfigInvalid.Wrap(err)
	}
	switch c.Type {
	case TypeMemory:
		err = validation.ValidateStruct(&c.Memory,
			validation.Field(&c.Memory.MaxBytes, validation.Min(int64(0))),
		)
	case TypeRedis:
		err = validation.ValidateStruct(&c.Redis,
			validation.Field(&c.Redis.Mode, validation.In("", "standalone", "cluster")),
			validation.Field(&c.Redis.Addrs, validation.Required),
			validation.Field(&c.Redis.DB, validation.Min(0), validation.Max(15)),
		)
	case TypeSQL:
		err = validation.ValidateStruct(&c.SQL,
			validation.Field(&c.SQL.Driver, validation.Required, validation.In("sqlite", "mysql", "postgres")),
			validation.Field(&c.SQL.DSN, validation.Required),
			validation.Field(&c.SQL.MaxRows, validation.Min(int64(0))),
		)
	}
	if err != nil {
		return ErrConfigInvalid.Wrap(err)
	}
	return nil
}

// Open builds the store described by cfg. The returned store owns its
// connection and closes it on Close.
func Open(ctx context.Context, cfg Config, log *logger.CtxZapLogger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	switch cfg.Type {
	case TypeRedis:
		client := newRedisClient(cfg.Redis)
		s := NewRedisStore("redis", client, cfg.Redis.KeyPrefix)
		s.owned = true
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return s, nil

	case TypeSQL:
		db, err := openDB(cfg.SQL, log)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLStore(ctx, cfg.SQL.Driver, db, cfg.SQL.MaxRows)
		if err != nil {
			if sqlDB, e := db.DB(); e == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		s.owned = true
		return s, nil

	default:
		return NewMemoryStore("memory", cfg.Memory.MaxBytes), nil
	}
}

func newRedisClient(cfg RedisConfig) redis.UniversalClient {
	if cfg.Mode == "cluster" {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addrs[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

func openDB(cfg SQLConfig, log *logger.CtxZapLogger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}

	level := gormlogger.Warn
	if cfg.EnableLog {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(log, level, cfg.SlowThreshold),
	})
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ErrUnavailable.Wrap(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}
