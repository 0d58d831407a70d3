package config

import (
	"os"
	"path/filepath"
	"strings"
)

// LoaderBuilder assembles the usual layering: config file, per-environment
// overlay file, prefixed environment variables and flag overrides.
type LoaderBuilder struct {
	configFile string
	envPrefix  string
	overrides  map[string]interface{}
}

func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{}
}

// WithConfigFile sets the base file. For "conf/habitcache.yaml" and
// environment "dev" the overlay "conf/habitcache.dev.yaml" is also read.
func (b *LoaderBuilder) WithConfigFile(path string) *LoaderBuilder {
	b.configFile = path
	return b
}

func (b *LoaderBuilder) WithEnvPrefix(prefix string) *LoaderBuilder {
	b.envPrefix = prefix
	return b
}

// WithOverrides adds values that beat every other layer. Keys are dotted
// paths; nil values are ignored so unset flags do not clobber the file.
func (b *LoaderBuilder) WithOverrides(values map[string]interface{}) *LoaderBuilder {
	if b.overrides == nil {
		b.overrides = make(map[string]interface{})
	}
	for k, v := range values {
		if v != nil {
			b.overrides[k] = v
		}
	}
	return b
}

func (b *LoaderBuilder) Build() (*Loader, error) {
	loader := NewLoader()

	if b.configFile != "" {
		loader.AddSource(NewFileSource(b.configFile, 10))
		if env := GetEnv(); env != "" {
			loader.AddSource(NewFileSource(envFile(b.configFile, env), 20))
		}
	}
	if b.envPrefix != "" {
		loader.AddSource(NewEnvSource(b.envPrefix, 50))
	}
	if len(b.overrides) > 0 {
		loader.AddSource(NewMapSource("flags", 100, b.overrides))
	}

	if err := loader.Load(); err != nil {
		return nil, err
	}
	return loader, nil
}

func envFile(base, env string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + env + ext
}

// GetEnv returns the deployment environment: HABITCACHE_ENV, then APP_ENV,
// then "dev".
func GetEnv() string {
	if env := os.Getenv("HABITCACHE_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	return "dev"
}
