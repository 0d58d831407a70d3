package errcode

import (
	"fmt"
	"sync"
)

// Registry rejects two different errors sharing a code.
type Registry struct {
	mu    sync.Mutex
	codes map[int]string
}

func NewRegistry() *Registry {
	return &Registry{codes: make(map[int]string)}
}

var defaultRegistry = NewRegistry()

// Register records err in the default registry and returns it, so it can be
// used in var blocks. It panics on a conflicting code.
func Register(err *LayeredError) *LayeredError {
	return defaultRegistry.Register(err)
}

// Registered returns a snapshot of code -> "module:msgKey" for the default registry.
func Registered() map[int]string {
	return defaultRegistry.Codes()
}

func (r *Registry) Register(err *LayeredError) *LayeredError {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := err.module + ":" + err.msgKey
	if prev, ok := r.codes[err.code]; ok && prev != id {
		panic(fmt.Sprintf("errcode: code %d already registered as %s, cannot register %s", err.code, prev, id))
	}
	r.codes[err.code] = id
	return err
}

func (r *Registry) Codes() map[int]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]string, len(r.codes))
	for k, v := range r.codes {
		out[k] = v
	}
	return out
}
