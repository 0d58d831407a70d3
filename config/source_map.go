package config

// MapSource is a fixed layer, used for command line flags and tests. Keys
// are dotted paths; nested maps are flattened.
type MapSource struct {
	name     string
	priority int
	values   map[string]interface{}
}

func NewMapSource(name string, priority int, values map[string]interface{}) *MapSource {
	return &MapSource{name: name, priority: priority, values: values}
}

func (s *MapSource) Name() string  { return s.name }
func (s *MapSource) Priority() int { return s.priority }

func (s *MapSource) Load() (map[string]interface{}, error) {
	return flattenMap("", s.values), nil
}
