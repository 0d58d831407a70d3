package config

import (
	"fmt"

	"github.com/samber/do/v2"
)

// ProvideLoaderOptions configures ProvideLoader.
type ProvideLoaderOptions struct {
	ConfigFile string
	EnvPrefix  string
	Overrides  map[string]interface{}
}

// ProvideLoader registers the loader as the root of the dependency graph:
//
//	do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{
//	    ConfigFile: "configs/habitcache.yaml",
//	    EnvPrefix:  "HABITCACHE",
//	}))
func ProvideLoader(opts ProvideLoaderOptions) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		loader, err := NewLoaderBuilder().
			WithConfigFile(opts.ConfigFile).
			WithEnvPrefix(opts.EnvPrefix).
			WithOverrides(opts.Overrides).
			Build()
		if err != nil {
			return nil, fmt.Errorf("config loader build failed: %w", err)
		}
		return loader, nil
	}
}

// ProvideLoaderValue registers an already built loader.
func ProvideLoaderValue(loader *Loader) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		return loader, nil
	}
}
