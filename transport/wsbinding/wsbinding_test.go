package wsbinding

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// pipeConn is an in-memory Conn whose WriteMessage feeds a peer's inbox and
// whose ReadMessage drains its own inbox, letting tests wire a fake "server"
// without a real socket.
type pipeConn struct {
	inbox  chan []byte
	outbox chan []byte
	closed chan struct{}
}

func newPipePair() (*pipeConn, *pipeConn) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	client := &pipeConn{inbox: b, outbox: a, closed: make(chan struct{})}
	server := &pipeConn{inbox: a, outbox: b, closed: make(chan struct{})}
	return client, server
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	msg, ok := <-p.inbox
	if !ok {
		return nil, errClosedPipe
	}
	return msg, nil
}

func (p *pipeConn) WriteMessage(data []byte) error {
	select {
	case p.outbox <- data:
		return nil
	case <-p.closed:
		return errClosedPipe
	}
}

func (p *pipeConn) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
		close(p.inbox)
	}
	return nil
}

type closedPipeError struct{}

func (closedPipeError) Error() string { return "pipe closed" }

var errClosedPipe = closedPipeError{}

// runFakeServer reads every frame off its Conn and reacts per a supplied
// handler, letting tests script server behavior precisely.
func runFakeServer(t *testing.T, conn *pipeConn, handle func(f Frame, send func(Frame))) {
	t.Helper()
	go func() {
		for {
			raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			handle(f, func(resp Frame) {
				b, _ := json.Marshal(resp)
				conn.WriteMessage(b)
			})
		}
	}()
}

func TestBinding_InvokeReceivesResult(t *testing.T) {
	client, server := newPipePair()
	runFakeServer(t, server, func(f Frame, send func(Frame)) {
		if f.Type == FrameInvoke {
			send(Frame{Type: FrameResult, ID: f.ID, Value: json.RawMessage(`{"answer":42}`)})
		}
	})

	b := New(client)
	defer b.Close()

	resp, err := b.Invoke(context.Background(), transport.Request{Capability: "ask"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(resp.Body) != `{"answer":42}` {
		t.Fatalf("body = %q", resp.Body)
	}
}

func TestBinding_InvokeReceivesErrorFrame(t *testing.T) {
	client, server := newPipePair()
	runFakeServer(t, server, func(f Frame, send func(Frame)) {
		if f.Type == FrameInvoke {
			send(Frame{Type: FrameError, ID: f.ID, Problem: &problemDetailStub})
		}
	})

	b := New(client)
	defer b.Close()

	_, err := b.Invoke(context.Background(), transport.Request{Capability: "ask"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestBinding_StreamReceivesChunksThenResult(t *testing.T) {
	client, server := newPipePair()
	runFakeServer(t, server, func(f Frame, send func(Frame)) {
		if f.Type != FrameInvoke {
			return
		}
		send(Frame{Type: FrameChunk, ID: f.ID, Value: json.RawMessage(`"a"`)})
		send(Frame{Type: FrameChunk, ID: f.ID, Value: json.RawMessage(`"b"`)})
		send(Frame{Type: FrameResult, ID: f.ID, Value: json.RawMessage(`"done"`)})
	})

	b := New(client)
	defer b.Close()

	sr, err := b.Stream(context.Background(), transport.Request{Capability: "tell-story"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer sr.Close()

	var parts []string
	for {
		c, ok, err := sr.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		if c.Final {
			parts = append(parts, string(c.Result))
			break
		}
		parts = append(parts, string(c.Data))
	}
	if len(parts) != 3 || parts[2] != `"done"` {
		t.Fatalf("parts = %v", parts)
	}
}

func TestBinding_StreamCancellationSendsCancelFrame(t *testing.T) {
	client, server := newPipePair()
	cancelSeen := make(chan string, 1)
	runFakeServer(t, server, func(f Frame, send func(Frame)) {
		switch f.Type {
		case FrameInvoke:
			send(Frame{Type: FrameChunk, ID: f.ID, Value: json.RawMessage(`"first"`)})
		case FrameCancel:
			cancelSeen <- f.ID
		}
	})

	b := New(client)
	defer b.Close()

	sr, err := b.Stream(context.Background(), transport.Request{Capability: "tell-story"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if _, _, err := sr.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := sr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-cancelSeen:
	case <-time.After(time.Second):
		t.Fatalf("expected a cancel frame to be sent")
	}
}

func TestBinding_CloseTransitionsToClosed(t *testing.T) {
	client, _ := newPipePair()
	b := New(client)
	if b.CurrentState() != StateOpen {
		t.Fatalf("expected OPEN after New, got %v", b.CurrentState())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Fatalf("expected CLOSED after Close, got %v", b.CurrentState())
	}
}

func TestBinding_ProtocolTag(t *testing.T) {
	client, _ := newPipePair()
	b := New(client)
	defer b.Close()
	if b.ProtocolTag() != "wss" {
		t.Fatalf("tag = %q", b.ProtocolTag())
	}
}

var problemDetailStub = problem.Detail{
	Type:   "https://agent-uri.dev/problems/UpstreamError",
	Title:  "failed",
	Status: 502,
	Detail: "capability handler raised",
}
