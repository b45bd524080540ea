package localbinding

import (
	"context"
	"testing"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

func TestBinding_InvokeCallsHandler(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterHandler("planner", func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200, Body: []byte(req.Capability)}, nil
	})

	b := New(reg, "planner")
	resp, err := b.Invoke(context.Background(), transport.Request{Capability: "gen-iti"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(resp.Body) != "gen-iti" {
		t.Fatalf("body = %q", resp.Body)
	}
	if b.ProtocolTag() != "local" {
		t.Fatalf("tag = %q", b.ProtocolTag())
	}
}

func TestBinding_InvokeUnregisteredAgent(t *testing.T) {
	reg := NewRegistry()
	b := New(reg, "nobody")

	_, err := b.Invoke(context.Background(), transport.Request{Capability: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.CapabilityNotFound {
		t.Fatalf("expected CapabilityNotFound, got %v", err)
	}
}

func TestBinding_RegisterAfterConstruction(t *testing.T) {
	reg := NewRegistry()
	b := New(reg, "late")

	reg.RegisterHandler("late", func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: 200}, nil
	})

	if _, err := b.Invoke(context.Background(), transport.Request{}); err != nil {
		t.Fatalf("expected the handler registered after New to still be visible: %v", err)
	}
}

func TestBinding_StreamUsesStreamHandler(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.RegisterStreamHandler("streamer", func(ctx context.Context, req transport.Request) (transport.StreamReader, error) {
		called = true
		return nil, nil
	})

	b := New(reg, "streamer")
	if _, err := b.Stream(context.Background(), transport.Request{}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !called {
		t.Fatalf("expected stream handler to be invoked")
	}
}
