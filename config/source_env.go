package config

import (
	"os"
	"strings"
)

// EnvSource maps prefixed environment variables onto config keys. A double
// underscore separates sections, a single one stays part of the key:
//
//	HABITCACHE_CACHE__MAX_ENTRIES -> cache.max_entries
//	HABITCACHE_DURABLE__REDIS__ADDRS -> durable.redis.addrs
type EnvSource struct {
	prefix   string
	priority int
	bindings map[string]string // config key -> env var
}

func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{
		prefix:   strings.ToUpper(prefix),
		priority: priority,
		bindings: make(map[string]string),
	}
}

// AddBinding pins a config key to an explicit variable, e.g.
// AddBinding("durable.redis.password", "REDIS_PASSWORD"). Once any binding
// exists the prefix scan is disabled.
func (s *EnvSource) AddBinding(key, envKey string) {
	s.bindings[key] = envKey
}

func (s *EnvSource) Name() string  { return "env:" + s.prefix }
func (s *EnvSource) Priority() int { return s.priority }

func (s *EnvSource) Load() (map[string]interface{}, error) {
	result := make(map[string]interface{})

	if len(s.bindings) > 0 {
		for key, envKey := range s.bindings {
			full := envKey
			if s.prefix != "" && !strings.HasPrefix(envKey, s.prefix+"_") {
				full = s.prefix + "_" + envKey
			}
			if value, ok := os.LookupEnv(full); ok && value != "" {
				result[key] = value
			}
		}
		return result, nil
	}

	if s.prefix == "" {
		return result, nil
	}
	prefix := s.prefix + "_"
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		key = strings.ReplaceAll(key, "__", ".")
		if key == "" {
			continue
		}
		result[key] = value
	}
	return result, nil
}
