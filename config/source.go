package config

// ConfigSource is one layer of configuration (file, environment, flags).
// Sources are merged by ascending priority, so a higher priority wins.
//
// Suggested priorities:
//   - config file (habitcache.yaml): 10
//   - environment file (habitcache.dev.yaml): 20
//   - environment variables: 50
//   - command line flags: 100
type ConfigSource interface {
	Name() string
	Priority() int

	// Load returns a flat map keyed by dotted paths such as "cache.max_entries".
	Load() (map[string]interface{}, error)
}
