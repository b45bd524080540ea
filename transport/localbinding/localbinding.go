// Package localbinding implements the in-process transport: a local
// registry mapping an agent name to a handler function, invoked directly
// with no network involved.
package localbinding

import (
	"context"
	"sync"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// Handler answers one capability invocation for a locally registered agent.
type Handler func(ctx context.Context, req transport.Request) (*transport.Response, error)

// StreamHandler answers one streaming capability invocation. It is expected
// to return a transport.StreamReader that lazily produces chunks.
type StreamHandler func(ctx context.Context, req transport.Request) (transport.StreamReader, error)

type registration struct {
	handler       Handler
	streamHandler StreamHandler
}

// Registry is the B3 local-agent registry: a shared mapping with
// reader-preferred synchronization, since registration is rare but lookups
// (every invoke/stream) are frequent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry constructs an empty local-agent Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// RegisterHandler installs (or replaces) the invoke handler for agentName.
func (r *Registry) RegisterHandler(agentName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.handlers[agentName]
	reg.handler = h
	r.handlers[agentName] = reg
}

// RegisterStreamHandler installs (or replaces) the stream handler for
// agentName.
func (r *Registry) RegisterStreamHandler(agentName string, h StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.handlers[agentName]
	reg.streamHandler = h
	r.handlers[agentName] = reg
}

// Binding is a transport.Binding over one agent name in a Registry.
type Binding struct {
	registry  *Registry
	agentName string
}

// New constructs a localbinding.Binding for agentName, looking handlers up
// in registry on every call (so registering a handler after construction
// still takes effect).
func New(registry *Registry, agentName string) *Binding {
	return &Binding{registry: registry, agentName: agentName}
}

func (b *Binding) lookup() (registration, bool) {
	b.registry.mu.RLock()
	defer b.registry.mu.RUnlock()
	reg, ok := b.registry.handlers[b.agentName]
	return reg, ok
}

func (b *Binding) Invoke(ctx context.Context, req transport.Request) (*transport.Response, error) {
	reg, ok := b.lookup()
	if !ok || reg.handler == nil {
		return nil, problem.New(problem.CapabilityNotFound, "no local handler registered").WithInstance(b.agentName)
	}
	return reg.handler(ctx, req)
}

func (b *Binding) Stream(ctx context.Context, req transport.Request) (transport.StreamReader, error) {
	reg, ok := b.lookup()
	if !ok || reg.streamHandler == nil {
		return nil, problem.New(problem.CapabilityNotFound, "no local stream handler registered").WithInstance(b.agentName)
	}
	return reg.streamHandler(ctx, req)
}

func (b *Binding) Close() error          { return nil }
func (b *Binding) ProtocolTag() string   { return "local" }

var _ transport.Binding = (*Binding)(nil)
