// Package durable is the persistence port behind the cache's second tier:
// a bounded string key/value store that survives restarts and may refuse
// writes with ErrQuota.
package durable

import (
	"context"
	"net/http"

	"github.com/KOMKZ/habitcache/errcode"
)

// ModuleCode is the errcode module for durable stores.
const ModuleCode = 71

var (
	// ErrQuota is returned by Set when the store is out of capacity.
	ErrQuota = errcode.Register(errcode.New(ModuleCode, 1, "durable", "error.durable.quota", "durable store quota exceeded", http.StatusInsufficientStorage))

	// ErrUnavailable wraps backend I/O failures.
	ErrUnavailable = errcode.Register(errcode.New(ModuleCode, 2, "durable", "error.durable.unavailable", "durable store unavailable", http.StatusServiceUnavailable))

	// ErrConfigInvalid is returned by Open for unusable configuration.
	ErrConfigInvalid = errcode.Register(errcode.New(ModuleCode, 3, "durable", "error.durable.config_invalid", "durable store config invalid"))
)

// Store is a string key/value store. Get reports absence with ok=false and a
// nil error.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}
