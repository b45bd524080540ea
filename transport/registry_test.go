package transport

import (
	"context"
	"testing"

	"github.com/agent-uri/agentcore/problem"
)

type stubBinding struct{ tag string }

func (s *stubBinding) Invoke(ctx context.Context, req Request) (*Response, error) {
	return &Response{StatusCode: 200}, nil
}
func (s *stubBinding) Stream(ctx context.Context, req Request) (StreamReader, error) { return nil, nil }
func (s *stubBinding) Close() error                                                  { return nil }
func (s *stubBinding) ProtocolTag() string                                           { return s.tag }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("https", func() (Binding, error) { return &stubBinding{tag: "https"}, nil })

	b, err := r.Get("https")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.ProtocolTag() != "https" {
		t.Fatalf("tag = %q", b.ProtocolTag())
	}
}

func TestRegistry_UnknownTransport(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("carrier-pigeon")
	if err == nil {
		t.Fatalf("expected error")
	}
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.UnknownTransport {
		t.Fatalf("expected UnknownTransport, got %v", err)
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("local", func() (Binding, error) { return &stubBinding{tag: "local-v1"}, nil })
	r.Register("local", func() (Binding, error) { return &stubBinding{tag: "local-v2"}, nil })

	b, err := r.Get("local")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.ProtocolTag() != "local-v2" {
		t.Fatalf("expected replaced constructor, got %q", b.ProtocolTag())
	}
}

func TestRegistry_Tags(t *testing.T) {
	r := NewRegistry()
	r.Register("https", func() (Binding, error) { return &stubBinding{tag: "https"}, nil })
	r.Register("ws", func() (Binding, error) { return &stubBinding{tag: "ws"}, nil })

	tags := r.Tags()
	if len(tags) != 2 {
		t.Fatalf("tags = %v", tags)
	}
}
