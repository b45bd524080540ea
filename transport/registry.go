package transport

import (
	"sync"

	"github.com/agent-uri/agentcore/problem"
)

// Registry is a mapping from protocol tag to a binding Constructor. Each
// NewRegistry call returns an independent instance; the package keeps no
// global one. Registration is idempotent by tag: re-registering the same
// tag replaces the previous entry.
type Registry struct {
	mu    sync.RWMutex
	tags  map[string]Constructor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tags: make(map[string]Constructor)}
}

// Register installs (or replaces) the constructor for tag.
func (r *Registry) Register(tag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag] = ctor
}

// Get builds a Binding for tag, or fails with UnknownTransport.
func (r *Registry) Get(tag string) (Binding, error) {
	r.mu.RLock()
	ctor, ok := r.tags[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, problem.New(problem.UnknownTransport, "no binding registered for transport tag").WithExtension("transport", tag)
	}
	return ctor()
}

// Tags returns every registered protocol tag, in no particular order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tags))
	for tag := range r.tags {
		out = append(out, tag)
	}
	return out
}
