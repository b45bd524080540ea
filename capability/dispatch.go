package capability

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// DispatchRequest is the capability-framework-level invocation request:
// a capability name, its JSON input payload, and whatever correlation
// material (headers, auth, explicit session id) the caller already
// extracted from the wire.
type DispatchRequest struct {
	Capability string
	Input      json.RawMessage
	Headers    map[string]string
	Auth       transport.Auth

	// SessionID, if set, takes priority over the X-Session-ID header or a
	// "session_id" top-level field in Input.
	SessionID string
}

// DispatchResult is the outcome of a non-streaming dispatch: the handler's
// output plus the session id the caller should echo back on the next call.
type DispatchResult struct {
	Output    json.RawMessage
	SessionID string
}

// StreamDispatchResult is the outcome of a streaming dispatch.
type StreamDispatchResult struct {
	Stream    transport.StreamReader
	SessionID string
}

// Dispatch routes req to its registered capability: looks it up, validates
// Input against InputSchema when present, enforces RequiresAuth via
// Registry.AuthPolicy, then invokes the non-streaming Handler. It is an error to dispatch a Streaming capability through
// Dispatch; use DispatchStream instead.
func (r *Registry) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	rec, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if rec.Streaming {
		return nil, problem.New(problem.InvalidInput, "capability is streaming; use DispatchStream").WithInstance(rec.Name)
	}
	if rec.Handler == nil {
		return nil, problem.New(problem.InternalError, "capability has no handler registered").WithInstance(rec.Name)
	}

	sess, sessionID := r.sessionFor(rec, req)
	if sess != nil {
		sess.lock()
		defer sess.unlock()
	}

	out, err := rec.Handler(ctx, req.Input, sess)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Output: out, SessionID: sessionID}, nil
}

// DispatchStream is Dispatch's streaming counterpart, invoking StreamHandler
// instead of Handler.
func (r *Registry) DispatchStream(ctx context.Context, req DispatchRequest) (*StreamDispatchResult, error) {
	rec, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if !rec.Streaming {
		return nil, problem.New(problem.InvalidInput, "capability is not streaming; use Dispatch").WithInstance(rec.Name)
	}
	if rec.StreamHandler == nil {
		return nil, problem.New(problem.InternalError, "capability has no stream handler registered").WithInstance(rec.Name)
	}

	sess, sessionID := r.sessionFor(rec, req)
	if sess != nil {
		sess.lock()
	}

	sr, err := rec.StreamHandler(ctx, req.Input, sess)
	if err != nil {
		if sess != nil {
			sess.unlock()
		}
		return nil, err
	}
	if sess != nil {
		// The handler call returned, but the invocation isn't done until the
		// stream itself is exhausted or closed; hold the session lock for
		// the stream's full lifetime, not just its setup.
		sr = &sessionUnlockingStream{StreamReader: sr, sess: sess}
	}
	return &StreamDispatchResult{Stream: sr, SessionID: sessionID}, nil
}

// sessionUnlockingStream wraps a transport.StreamReader so the session
// invocation lock taken before StreamHandler is released exactly once,
// whichever path finishes the stream first: exhaustion or Close.
type sessionUnlockingStream struct {
	transport.StreamReader
	sess *Session
	once sync.Once
}

func (s *sessionUnlockingStream) release() { s.once.Do(s.sess.unlock) }

func (s *sessionUnlockingStream) Next(ctx context.Context) (transport.Chunk, bool, error) {
	chunk, ok, err := s.StreamReader.Next(ctx)
	if !ok {
		s.release()
	}
	return chunk, ok, err
}

func (s *sessionUnlockingStream) Close() error {
	defer s.release()
	return s.StreamReader.Close()
}

// prepare resolves the capability and validates its input, the shared
// prefix of Dispatch and DispatchStream.
func (r *Registry) prepare(ctx context.Context, req DispatchRequest) (*Record, error) {
	rec, ok := r.lookup(req.Capability)
	if !ok {
		return nil, problem.New(problem.CapabilityNotFound, "no such capability").WithInstance(req.Capability)
	}

	if rec.compiledInput != nil {
		var v any
		if len(req.Input) == 0 {
			v = map[string]any{}
		} else if err := json.Unmarshal(req.Input, &v); err != nil {
			return nil, problem.Wrap(problem.InvalidInput, "capability input is not valid JSON", err).WithInstance(rec.Name)
		}
		if err := rec.compiledInput.Validate(v); err != nil {
			return nil, problem.Wrap(problem.InvalidInput, "capability input failed schema validation", err).WithInstance(rec.Name)
		}
	}

	if rec.RequiresAuth {
		policy := r.AuthPolicy
		if policy == nil {
			return nil, problem.New(problem.AuthenticationError, "capability requires auth but no auth policy is configured").
				WithInstance(rec.Name)
		}
		if err := policy(ctx, rec, transport.Request{Capability: rec.Name, Headers: req.Headers, Auth: req.Auth}); err != nil {
			return nil, err
		}
	}

	return rec, nil
}

// sessionFor resolves the Session for a memory-enabled capability, or
// returns (nil, "") when the capability does not use sessions.
func (r *Registry) sessionFor(rec *Record, req DispatchRequest) (*Session, string) {
	if !rec.MemoryEnabled {
		return nil, ""
	}
	id := sessionID(req)
	if id == "" {
		id = newSessionID()
	}
	return r.sessionStore().GetOrCreate(id), id
}

// sessionStore returns r.Sessions, lazily installing a default
// MemorySessionStore under r.mu for a Registry built without NewRegistry.
func (r *Registry) sessionStore() SessionStore {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Sessions == nil {
		r.Sessions = NewMemorySessionStore(0)
	}
	return r.Sessions
}

// sessionID extracts a caller-supplied session id from, in priority order:
// the explicit field, the X-Session-ID header, and a top-level "session_id"
// field in Input.
func sessionID(req DispatchRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Session-ID") {
			return v
		}
	}
	if len(req.Input) > 0 {
		var probe struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(req.Input, &probe); err == nil {
			return probe.SessionID
		}
	}
	return ""
}
