// Package capability implements the capability framework: a per-agent
// registry of invocable behaviors, descriptor synthesis from
// that registry, and a dispatch pipeline that validates input, applies
// auth policy, and routes to streaming or non-streaming handlers.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agent-uri/agentcore/descriptor"
	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// Handler executes a non-streaming capability invocation. sess is nil
// unless the capability's Record has MemoryEnabled set; when it is set and
// the caller supplied no session id, a fresh id is generated.
type Handler func(ctx context.Context, input json.RawMessage, sess *Session) (json.RawMessage, error)

// StreamHandler executes a streaming capability invocation, returning a
// sequence of chunks via transport.StreamReader.
type StreamHandler func(ctx context.Context, input json.RawMessage, sess *Session) (transport.StreamReader, error)

// Record is one registered capability: its advertised metadata plus the
// handler(s) that implement it.
type Record struct {
	Name                      string
	Version                   string
	Description               string
	Tags                      []string
	InputSchema               json.RawMessage
	OutputSchema              json.RawMessage
	Streaming                 bool
	MemoryEnabled             bool
	IsDeterministic           bool
	RequiresAuth              bool
	ExpectedOutputVariability descriptor.Variability
	ResponseLatency           descriptor.Latency

	Handler       Handler
	StreamHandler StreamHandler

	compiledInput *jsonschema.Schema
}

// AgentMeta is the agent-level metadata derive_descriptor folds in
// alongside the registered capabilities.
type AgentMeta struct {
	Name             string
	Version          string
	Description      string
	URL              string
	Provider         *descriptor.Provider
	DocumentationURL string
	InteractionModel descriptor.InteractionModel
	Orchestration    descriptor.Orchestration
	Authentication   *descriptor.Authentication
	Endpoints        map[string]string
	Status           descriptor.Status
}

// AuthPolicy decides whether req is authorized to invoke a capability that
// RequiresAuth. It returns a *problem.Error (AuthenticationError or
// PermissionDenied) to reject, or nil to allow.
type AuthPolicy func(ctx context.Context, rec *Record, req transport.Request) error

// Registry is the per-agent set of registered capabilities, in registration
// order.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*Record

	Sessions   SessionStore
	AuthPolicy AuthPolicy
}

// NewRegistry constructs an empty Registry with a bounded in-memory
// session store and no AuthPolicy; until one is set, capabilities that
// RequiresAuth are rejected with AuthenticationError.
func NewRegistry() *Registry {
	return &Registry{
		records:  make(map[string]*Record),
		Sessions: NewMemorySessionStore(1024),
	}
}

// Register adds rec to the registry. Registering a Key (name, or
// name@version when Version is set) that already exists is an error; the
// same name under different versions may coexist.
func (r *Registry) Register(rec Record) error {
	key := rec.Key()

	if len(rec.InputSchema) > 0 {
		compiled, err := compileSchema(rec.Name+"#input", rec.InputSchema)
		if err != nil {
			return problem.Wrap(problem.ValidationError, "capability input_schema does not compile", err).
				WithInstance(rec.Name)
		}
		rec.compiledInput = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[key]; exists {
		return problem.New(problem.ValidationError, "capability already registered").WithInstance(key)
	}
	stored := rec
	r.records[key] = &stored
	r.order = append(r.order, key)
	return nil
}

// Key mirrors descriptor.Capability.Key: name, or name@version when a
// version is set.
func (rec Record) Key() string {
	if rec.Version == "" {
		return rec.Name
	}
	return rec.Name + "@" + rec.Version
}

func compileSchema(id string, schema json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return compiler.Compile(id)
}

// List returns every registered capability in registration order.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, *r.records[key])
	}
	return out
}

// lookup returns the record for name, preferring an unversioned match and
// falling back to the first registered version.
func (r *Registry) lookup(name string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[name]; ok {
		return rec, true
	}
	for _, key := range r.order {
		rec := r.records[key]
		if rec.Name == name {
			return rec, true
		}
	}
	return nil, false
}

// DeriveDescriptor synthesizes an AgentDescriptor from meta and every
// registered capability.
func (r *Registry) DeriveDescriptor(meta AgentMeta) *descriptor.AgentDescriptor {
	records := r.List()
	caps := make([]descriptor.Capability, 0, len(records))
	for _, rec := range records {
		deterministic := rec.IsDeterministic
		caps = append(caps, descriptor.Capability{
			Name:                      rec.Name,
			Version:                   descriptor.Version(rec.Version),
			Description:               rec.Description,
			InputSchema:               rec.InputSchema,
			OutputSchema:              rec.OutputSchema,
			IsDeterministic:           &deterministic,
			ExpectedOutputVariability: rec.ExpectedOutputVariability,
			ResponseLatency:           rec.ResponseLatency,
			Streaming:                 rec.Streaming,
			MemoryEnabled:             rec.MemoryEnabled,
			Tags:                      rec.Tags,
		})
	}

	return &descriptor.AgentDescriptor{
		Name:             meta.Name,
		Version:          descriptor.Version(meta.Version),
		Description:      meta.Description,
		URL:              meta.URL,
		Provider:         meta.Provider,
		DocumentationURL: meta.DocumentationURL,
		InteractionModel: meta.InteractionModel,
		Orchestration:    meta.Orchestration,
		Authentication:   meta.Authentication,
		Endpoints:        meta.Endpoints,
		Status:           meta.Status,
		Capabilities:     caps,
	}
}
