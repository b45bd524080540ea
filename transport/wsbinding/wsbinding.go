// Package wsbinding implements the full-duplex streaming transport
// binding: a concurrency-safe connection state machine, JSON frame
// correlation by invocation id, and cancellation semantics. The state
// machine is built against a narrow Conn interface so it is unit-testable
// against an in-memory fake; Dial wires a real gorilla/websocket connection
// for production use.
package wsbinding

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// State is one node of the connection state machine.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateOpen
	StateSending
	StateReceiving
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateSending:
		return "SENDING"
	case StateReceiving:
		return "RECEIVING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FrameType is the closed set of wire frame types.
type FrameType string

const (
	FrameInvoke FrameType = "invoke"
	FrameChunk  FrameType = "chunk"
	FrameResult FrameType = "result"
	FrameError  FrameType = "error"
	FrameCancel FrameType = "cancel"
)

// Frame is one JSON-encoded message on the wire; exactly one frame per
// message.
type Frame struct {
	Type       FrameType       `json:"type"`
	ID         string          `json:"id"`
	Capability string          `json:"capability,omitempty"`
	Params     map[string]any  `json:"params,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Problem    *problem.Detail `json:"problem,omitempty"`
}

// Conn is the narrow abstraction the state machine drives. A production
// Conn is backed by *websocket.Conn (see Dial); tests drive it with an
// in-memory fake.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

var (
	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = errors.New("wsbinding: connection closed")
)

// Binding is the B2 full-duplex streaming binding over one Conn.
type Binding struct {
	conn Conn

	mu      sync.Mutex
	state   State
	waiters map[string]chan Frame // invocation id -> delivery channel for invoke()
	streams map[string]chan Frame // invocation id -> delivery channel for stream()
	readErr error
	closed  chan struct{}
}

// New constructs a Binding already in the OPEN state over an established
// Conn (the caller is responsible for having completed the CONNECTING
// handshake, e.g. via Dial).
func New(conn Conn) *Binding {
	b := &Binding{
		conn:    conn,
		state:   StateOpen,
		waiters: make(map[string]chan Frame),
		streams: make(map[string]chan Frame),
		closed:  make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *Binding) ProtocolTag() string { return "wss" }

func (b *Binding) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// CurrentState reports the connection's current state (test/diagnostic use).
func (b *Binding) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Binding) readLoop() {
	for {
		raw, err := b.conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			b.readErr = err
			b.state = StateClosed
			for _, ch := range b.waiters {
				close(ch)
			}
			for _, ch := range b.streams {
				close(ch)
			}
			b.waiters = map[string]chan Frame{}
			b.streams = map[string]chan Frame{}
			b.mu.Unlock()
			close(b.closed)
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue // malformed frame; drop it rather than tearing down the connection
		}

		b.mu.Lock()
		b.state = StateReceiving
		if ch, ok := b.waiters[f.ID]; ok && (f.Type == FrameResult || f.Type == FrameError) {
			ch <- f
			delete(b.waiters, f.ID)
		}
		if ch, ok := b.streams[f.ID]; ok {
			ch <- f
			if f.Type == FrameResult || f.Type == FrameError {
				delete(b.streams, f.ID)
			}
		}
		if b.state != StateClosed {
			b.state = StateOpen
		}
		b.mu.Unlock()
	}
}

func (b *Binding) send(f Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return problem.Wrap(problem.InternalError, "failed to encode frame", err)
	}
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.state = StateSending
	b.mu.Unlock()

	err = b.conn.WriteMessage(raw)

	b.mu.Lock()
	if b.state != StateClosed {
		b.state = StateOpen
	}
	b.mu.Unlock()
	return err
}

// Invoke sends an invoke frame and waits for the first matching
// result/error frame.
func (b *Binding) Invoke(ctx context.Context, req transport.Request) (*transport.Response, error) {
	id := uuid.NewString()
	ch := make(chan Frame, 1)

	b.mu.Lock()
	b.waiters[id] = ch
	b.mu.Unlock()

	if err := b.send(Frame{Type: FrameInvoke, ID: id, Capability: req.Capability, Params: req.Params}); err != nil {
		b.mu.Lock()
		delete(b.waiters, id)
		b.mu.Unlock()
		return nil, problem.Wrap(problem.NetworkError, "failed to send invoke frame", err)
	}

	select {
	case <-ctx.Done():
		b.cancel(id)
		return nil, problem.Wrap(problem.TimeoutError, "invocation canceled", ctx.Err())
	case f, ok := <-ch:
		if !ok {
			return nil, problem.New(problem.NetworkError, "connection closed before a result arrived")
		}
		if f.Type == FrameError {
			return nil, frameError(f)
		}
		return &transport.Response{StatusCode: 200, Body: f.Value}, nil
	}
}

// Stream sends an invoke frame and surfaces every chunk/result/error frame
// matching its id as a sequence, completing on result or error.
func (b *Binding) Stream(ctx context.Context, req transport.Request) (transport.StreamReader, error) {
	id := uuid.NewString()
	ch := make(chan Frame, 8)

	b.mu.Lock()
	b.streams[id] = ch
	b.mu.Unlock()

	if err := b.send(Frame{Type: FrameInvoke, ID: id, Capability: req.Capability, Params: req.Params}); err != nil {
		b.mu.Lock()
		delete(b.streams, id)
		b.mu.Unlock()
		return nil, problem.Wrap(problem.NetworkError, "failed to send invoke frame", err)
	}

	return &streamReader{binding: b, id: id, ch: ch}, nil
}

// cancel sends a {type: cancel, id} frame implementing the cancellation
// semantics, and stops tracking that invocation locally.
func (b *Binding) cancel(id string) {
	b.mu.Lock()
	delete(b.waiters, id)
	delete(b.streams, id)
	b.mu.Unlock()
	_ = b.send(Frame{Type: FrameCancel, ID: id})
}

func (b *Binding) Close() error {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosing
	b.mu.Unlock()
	err := b.conn.Close()
	b.setState(StateClosed)
	return err
}

func frameError(f Frame) error {
	if f.Problem != nil {
		e := problem.New(problem.UpstreamError, f.Problem.Detail)
		e.Detail = *f.Problem
		return e
	}
	return problem.New(problem.UpstreamError, "stream invocation returned an error frame").WithInstance(f.ID)
}

// streamReader adapts the per-invocation frame channel to transport.StreamReader.
type streamReader struct {
	binding *Binding
	id      string
	ch      chan Frame
	done    bool
}

func (s *streamReader) Next(ctx context.Context) (transport.Chunk, bool, error) {
	if s.done {
		return transport.Chunk{}, false, nil
	}
	select {
	case <-ctx.Done():
		s.binding.cancel(s.id)
		s.done = true
		return transport.Chunk{}, false, problem.Wrap(problem.TimeoutError, "stream canceled", ctx.Err())
	case f, ok := <-s.ch:
		if !ok {
			s.done = true
			return transport.Chunk{}, false, nil
		}
		switch f.Type {
		case FrameChunk:
			return transport.Chunk{Data: f.Value}, true, nil
		case FrameResult:
			s.done = true
			return transport.Chunk{Result: f.Value, Final: true}, true, nil
		case FrameError:
			s.done = true
			return transport.Chunk{}, false, frameError(f)
		default:
			return transport.Chunk{}, true, nil
		}
	}
}

// Close aborts the stream, sending a cancel frame so the server stops
// emitting chunks for this invocation id.
func (s *streamReader) Close() error {
	if !s.done {
		s.binding.cancel(s.id)
		s.done = true
	}
	return nil
}

var _ transport.Binding = (*Binding)(nil)
var _ transport.StreamReader = (*streamReader)(nil)
