// Package transport defines the uniform invoke/stream contract shared by
// every concrete binding (HTTP, WebSocket, in-process) and the registry
// type that looks bindings up by protocol tag.
package transport

import (
	"context"

	"github.com/agent-uri/agentcore/problem"
)

// Request is the binding-agnostic shape of an invocation.
type Request struct {
	Endpoint   string
	Capability string
	Params     map[string]any
	Headers    map[string]string
	Auth       Auth
}

// Auth carries pluggable authentication material.
// Exactly one of its fields should be set; it is a binding's job to apply
// whichever is present.
type Auth struct {
	BearerToken string
	APIKey      string
	Details     map[string]any
}

// Response is the binding-agnostic result of a non-streaming invoke.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// Chunk is one element of a stream() sequence. Data carries a payload (the
// HTTP binding puts every payload, the last one included, in Data); Result
// carries the value of a B2 result frame; Final marks the last chunk. The
// bundled bindings report a failed sequence through Next's err return, not
// through Err.
type Chunk struct {
	Data   []byte
	Result []byte
	Err    error
	Final  bool
}

// StreamReader is a finite, restartable-once lazy sequence of chunks,
// matching the uniform binding "stream" contract.
type StreamReader interface {
	// Next blocks for the next chunk. It returns io.EOF-equivalent
	// (ok=false, err=nil) once the sequence is exhausted after its final
	// chunk, or a non-nil err if the sequence failed.
	Next(ctx context.Context) (chunk Chunk, ok bool, err error)
	// Close aborts the stream, triggering binding-specific cancellation
	// (e.g. B2's {type: "cancel"} frame).
	Close() error
}

// Binding is the uniform per-transport contract every concrete binding
// implements.
type Binding interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (StreamReader, error)
	Close() error
	ProtocolTag() string
}

// Constructor builds a Binding bound to a specific endpoint/config. The
// registry stores constructors, not live bindings, so a fresh Binding can be
// created per endpoint (e.g. a fresh pooled client, a fresh connection).
type Constructor func() (Binding, error)

// InvocationError builds a *problem.Error of the given kind whose
// ProblemDetail.Detail is detail. It does not read or parse a response.
func InvocationError(kind problem.Kind, detail string) *problem.Error {
	return problem.New(kind, detail)
}
