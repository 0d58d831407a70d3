package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
cache:
  namespace: "hc:"
  max_entries: 100
  optimistic_ttl: 5s
  ttl_classes:
    fast: 30s
  invalidation_rules:
    - event: habit.completed
      patterns: ["habits_"]
durable:
  type: memory
  redis:
    addrs: ["127.0.0.1:6379"]
`

type testCache struct {
	Namespace     string                   `mapstructure:"namespace"`
	MaxEntries    int                      `mapstructure:"max_entries"`
	OptimisticTTL time.Duration            `mapstructure:"optimistic_ttl"`
	TTLClasses    map[string]time.Duration `mapstructure:"ttl_classes"`
	Rules         []struct {
		Event    string   `mapstructure:"event"`
		Patterns []string `mapstructure:"patterns"`
	} `mapstructure:"invalidation_rules"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_FileSection(t *testing.T) {
	path := writeFile(t, t.TempDir(), "habitcache.yaml", baseYAML)

	loader, err := NewLoaderBuilder().WithConfigFile(path).Build()
	require.NoError(t, err)

	var c testCache
	require.NoError(t, loader.Unmarshal("cache", &c))
	assert.Equal(t, "hc:", c.Namespace)
	assert.Equal(t, 100, c.MaxEntries)
	assert.Equal(t, 5*time.Second, c.OptimisticTTL)
	assert.Equal(t, 30*time.Second, c.TTLClasses["fast"])
	require.Len(t, c.Rules, 1)
	assert.Equal(t, []string{"habits_"}, c.Rules[0].Patterns)

	assert.True(t, loader.IsSet("durable"))
	assert.Equal(t, "memory", loader.GetString("durable.type"))
	assert.False(t, loader.IsSet("admin"))
	assert.Equal(t, []string{path}, loader.LoadedFiles())
}

func TestLoader_Layering(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "habitcache.yaml", baseYAML)
	writeFile(t, dir, "habitcache.staging.yaml", "cache:\n  max_entries: 200\n")
	t.Setenv("HABITCACHE_ENV", "staging")
	t.Setenv("HABITCACHE_CACHE__OPTIMISTIC_TTL", "9s")
	t.Setenv("HABITCACHE_DURABLE__TYPE", "redis")

	loader, err := NewLoaderBuilder().
		WithConfigFile(path).
		WithEnvPrefix("HABITCACHE").
		WithOverrides(map[string]interface{}{"durable.type": "sql", "durable.sql.dsn": nil}).
		Build()
	require.NoError(t, err)

	var c testCache
	require.NoError(t, loader.Unmarshal("cache", &c))
	assert.Equal(t, 200, c.MaxEntries, "environment file beats base file")
	assert.Equal(t, 9*time.Second, c.OptimisticTTL, "env var beats files")
	assert.Equal(t, "hc:", c.Namespace)
	assert.Equal(t, "sql", loader.GetString("durable.type"), "overrides beat env vars")
	assert.False(t, loader.IsSet("durable.sql.dsn"), "nil overrides are skipped")
	assert.Len(t, loader.LoadedFiles(), 2)
}

func TestLoader_MissingFileIsEmpty(t *testing.T) {
	loader, err := NewLoaderBuilder().WithConfigFile(filepath.Join(t.TempDir(), "none.yaml")).Build()
	require.NoError(t, err)
	assert.False(t, loader.IsSet("cache"))
	assert.Empty(t, loader.LoadedFiles())
}

func TestLoader_BrokenFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "habitcache.yaml", "cache: [unterminated\n")
	_, err := NewLoaderBuilder().WithConfigFile(path).Build()
	assert.Error(t, err)
}

func TestEnvSource_Bindings(t *testing.T) {
	t.Setenv("HABITCACHE_REDIS_PASSWORD", "secret")
	t.Setenv("HABITCACHE_CACHE__MAX_ENTRIES", "5")

	s := NewEnvSource("habitcache", 50)
	s.AddBinding("durable.redis.password", "REDIS_PASSWORD")
	data, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"durable.redis.password": "secret"}, data)
}

func TestEnvSource_CommaList(t *testing.T) {
	t.Setenv("HABITCACHE_DURABLE__REDIS__ADDRS", "a:1,b:2")
	loader := NewLoader()
	loader.AddSource(NewEnvSource("HABITCACHE", 50))
	require.NoError(t, loader.Load())

	var redis struct {
		Addrs []string `mapstructure:"addrs"`
	}
	require.NoError(t, loader.Unmarshal("durable.redis", &redis))
	assert.Equal(t, []string{"a:1", "b:2"}, redis.Addrs)
}

func TestLoader_PriorityOrderIndependentOfAddOrder(t *testing.T) {
	loader := NewLoader()
	loader.AddSource(NewMapSource("high", 100, map[string]interface{}{"cache": map[string]interface{}{"max_entries": 2}}))
	loader.AddSource(NewMapSource("low", 1, map[string]interface{}{"cache.max_entries": 1, "cache.namespace": "x:"}))
	require.NoError(t, loader.Load())

	assert.Equal(t, 2, loader.GetInt("cache.max_entries"))
	assert.Equal(t, "x:", loader.GetString("cache.namespace"))
	assert.Contains(t, loader.AllSettings(), "cache")
}

func TestProvideLoader(t *testing.T) {
	path := writeFile(t, t.TempDir(), "habitcache.yaml", baseYAML)
	injector := do.New()
	do.Provide(injector, ProvideLoader(ProvideLoaderOptions{ConfigFile: path}))

	loader, err := do.Invoke[*Loader](injector)
	require.NoError(t, err)
	assert.Equal(t, 100, loader.GetInt("cache.max_entries"))
}

func TestGetEnv(t *testing.T) {
	t.Setenv("HABITCACHE_ENV", "")
	t.Setenv("APP_ENV", "")
	assert.Equal(t, "dev", GetEnv())
	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, "prod", GetEnv())
	t.Setenv("HABITCACHE_ENV", "staging")
	assert.Equal(t, "staging", GetEnv())
	assert.Equal(t, "conf/habitcache.staging.yaml", envFile("conf/habitcache.yaml", "staging"))
}
