package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Loader merges its sources by priority and exposes the result through a
// viper instance. It satisfies component.ConfigLoader.
type Loader struct {
	sources     []ConfigSource
	merged      map[string]interface{}
	v           *viper.Viper
	loadedFiles []string
}

func NewLoader() *Loader {
	return &Loader{
		merged: make(map[string]interface{}),
		v:      viper.New(),
	}
}

func (l *Loader) AddSource(source ConfigSource) {
	l.sources = append(l.sources, source)
}

// Load (re)reads every source, lowest priority first.
func (l *Loader) Load() error {
	sort.SliceStable(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	merged := make(map[string]interface{})
	var files []string
	for _, source := range l.sources {
		data, err := source.Load()
		if err != nil {
			return fmt.Errorf("load config source %s: %w", source.Name(), err)
		}
		if fs, ok := source.(*FileSource); ok && len(data) > 0 {
			files = append(files, fs.path)
		}
		for key, value := range data {
			merged[strings.ToLower(key)] = value
		}
	}

	v := viper.New()
	for key, value := range unflattenMap(merged) {
		v.Set(key, value)
	}
	l.merged, l.v, l.loadedFiles = merged, v, files
	return nil
}

func unflattenMap(flat map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for key, value := range flat {
		setNested(result, strings.Split(key, "."), value)
	}
	return result
}

func setNested(m map[string]interface{}, path []string, value interface{}) {
	current := m
	for _, k := range path[:len(path)-1] {
		if k == "" {
			continue
		}
		next, ok := current[k].(map[string]interface{})
		if !ok {
			// a scalar at an intermediate path is shadowed by the deeper key
			next = make(map[string]interface{})
			current[k] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

// Unmarshal decodes the section under key into v. Durations accept Go
// duration strings ("5m"), lists accept comma separated strings.
func (l *Loader) Unmarshal(key string, v interface{}) error {
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if key == "" {
		return l.v.Unmarshal(v, hook)
	}
	return l.v.UnmarshalKey(key, v, hook)
}

func (l *Loader) Get(key string) interface{}          { return l.v.Get(key) }
func (l *Loader) GetString(key string) string         { return l.v.GetString(key) }
func (l *Loader) GetInt(key string) int               { return l.v.GetInt(key) }
func (l *Loader) GetBool(key string) bool             { return l.v.GetBool(key) }
func (l *Loader) IsSet(key string) bool               { return l.v.IsSet(key) }
func (l *Loader) AllSettings() map[string]interface{} { return l.v.AllSettings() }

// LoadedFiles lists the files that contributed at least one key.
func (l *Loader) LoadedFiles() []string { return l.loadedFiles }

func (l *Loader) Viper() *viper.Viper { return l.v }

func (l *Loader) Reload() error { return l.Load() }
