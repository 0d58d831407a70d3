package cache

import (
	"net/http"

	"github.com/KOMKZ/habitcache/errcode"
)

// ModuleCode is the errcode module of the cache engine.
const ModuleCode = 70

const (
	ErrCodeMutation         = 1
	ErrCodeDeserialize      = 2
	ErrCodeSerialize        = 3
	ErrCodeConfigInvalid    = 4
	ErrCodeStoreUnavailable = 5
	ErrCodeEngineClosed     = 6
	ErrCodeNotCached        = 7
)

var (
	// ErrMutation is returned when a mutation's commit fails. The optimistic
	// value has already been rolled back when the caller sees it.
	ErrMutation = errcode.Register(errcode.New(
		ModuleCode, ErrCodeMutation,
		"cache", "error.cache.mutation", "mutation failed",
		http.StatusConflict,
	))

	// ErrDeserialize means a cached payload could not be decoded.
	ErrDeserialize = errcode.Register(errcode.New(
		ModuleCode, ErrCodeDeserialize,
		"cache", "error.cache.deserialize", "cached payload could not be decoded",
	))

	ErrSerialize = errcode.Register(errcode.New(
		ModuleCode, ErrCodeSerialize,
		"cache", "error.cache.serialize", "payload could not be encoded",
	))

	ErrConfigInvalid = errcode.Register(errcode.New(
		ModuleCode, ErrCodeConfigInvalid,
		"cache", "error.cache.config_invalid", "cache config invalid",
	))

	// ErrStoreUnavailable is a setup error: no durable store could be opened.
	ErrStoreUnavailable = errcode.Register(errcode.New(
		ModuleCode, ErrCodeStoreUnavailable,
		"cache", "error.cache.store_unavailable", "durable store unavailable",
		http.StatusServiceUnavailable,
	))

	ErrEngineClosed = errcode.Register(errcode.New(
		ModuleCode, ErrCodeEngineClosed,
		"cache", "error.cache.engine_closed", "cache engine closed",
		http.StatusServiceUnavailable,
	))

	// ErrNotCached is returned by reads without a fetcher when no usable
	// entry exists.
	ErrNotCached = errcode.Register(errcode.New(
		ModuleCode, ErrCodeNotCached,
		"cache", "error.cache.not_cached", "key not cached",
		http.StatusNotFound,
	))
)
