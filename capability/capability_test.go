package capability

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

func echoHandler(ctx context.Context, input json.RawMessage, sess *Session) (json.RawMessage, error) {
	return input, nil
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Record{Name: "greet", Handler: echoHandler}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Record{Name: "farewell", Handler: echoHandler}); err != nil {
		t.Fatalf("register: %v", err)
	}

	list := r.List()
	if len(list) != 2 || list[0].Name != "greet" || list[1].Name != "farewell" {
		t.Fatalf("list order = %+v", list)
	}
}

func TestRegistry_RegisterDuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Record{Name: "greet", Handler: echoHandler}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(Record{Name: "greet", Handler: echoHandler})
	if err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.ValidationError {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistry_DeriveDescriptor(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{
		Name:            "translate",
		Description:     "translates text",
		IsDeterministic: true,
		Tags:            []string{"nlp"},
	})

	d := r.DeriveDescriptor(AgentMeta{Name: "polyglot", Version: "1.0.0"})
	if d.Name != "polyglot" || len(d.Capabilities) != 1 {
		t.Fatalf("descriptor = %+v", d)
	}
	c := d.Capabilities[0]
	if c.Name != "translate" || c.IsDeterministic == nil || !*c.IsDeterministic {
		t.Fatalf("capability = %+v", c)
	}
}

func TestDispatch_UnknownCapability(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), DispatchRequest{Capability: "nope"})
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.CapabilityNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatch_ValidatesInputSchema(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["city"],
		"properties": {"city": {"type": "string"}}
	}`)
	if err := r.Register(Record{Name: "weather", InputSchema: schema, Handler: echoHandler}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := r.Dispatch(context.Background(), DispatchRequest{
		Capability: "weather",
		Input:      json.RawMessage(`{}`),
	})
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.InvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}

	resp, err := r.Dispatch(context.Background(), DispatchRequest{
		Capability: "weather",
		Input:      json.RawMessage(`{"city":"nyc"}`),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(resp.Output) != `{"city":"nyc"}` {
		t.Fatalf("output = %s", resp.Output)
	}
}

func TestDispatch_RequiresAuthRejectsWithoutPolicy(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{Name: "admin-only", RequiresAuth: true, Handler: echoHandler})

	_, err := r.Dispatch(context.Background(), DispatchRequest{Capability: "admin-only", Input: json.RawMessage(`{}`)})
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.AuthenticationError {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatch_AuthPolicyEnforced(t *testing.T) {
	r := NewRegistry()
	var seenToken string
	r.AuthPolicy = func(ctx context.Context, rec *Record, req transport.Request) error {
		seenToken = req.Auth.BearerToken
		if req.Auth.BearerToken != "let-me-in" {
			return problem.New(problem.PermissionDenied, "bad token")
		}
		return nil
	}
	r.Register(Record{Name: "admin-only", RequiresAuth: true, Handler: echoHandler})

	_, err := r.Dispatch(context.Background(), DispatchRequest{
		Capability: "admin-only",
		Input:      json.RawMessage(`{}`),
		Auth:       transport.Auth{BearerToken: "let-me-in"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if seenToken != "let-me-in" {
		t.Fatalf("policy did not see auth, got %q", seenToken)
	}
}

func TestDispatch_SessionCorrelationAcrossCalls(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{
		Name:          "counter",
		MemoryEnabled: true,
		Handler: func(ctx context.Context, input json.RawMessage, sess *Session) (json.RawMessage, error) {
			n, _ := sess.Get("count").(int)
			n++
			sess.Set("count", n)
			return json.Marshal(map[string]int{"count": n})
		},
	})

	first, err := r.Dispatch(context.Background(), DispatchRequest{Capability: "counter", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first.SessionID == "" {
		t.Fatalf("expected a session id to be assigned")
	}

	second, err := r.Dispatch(context.Background(), DispatchRequest{
		Capability: "counter",
		Input:      json.RawMessage(`{}`),
		SessionID:  first.SessionID,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("session id changed: %s -> %s", first.SessionID, second.SessionID)
	}
	if string(second.Output) != `{"count":2}` {
		t.Fatalf("output = %s, want count to have incremented", second.Output)
	}
}

func TestDispatch_SessionIDFromHeader(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{
		Name:          "note",
		MemoryEnabled: true,
		Handler: func(ctx context.Context, input json.RawMessage, sess *Session) (json.RawMessage, error) {
			sess.Set("last", string(input))
			return input, nil
		},
	})

	_, err := r.Dispatch(context.Background(), DispatchRequest{
		Capability: "note",
		Input:      json.RawMessage(`"hi"`),
		Headers:    map[string]string{"X-Session-ID": "sess-abc"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	sess, ok := r.Sessions.Get("sess-abc")
	if !ok {
		t.Fatalf("expected session sess-abc to exist")
	}
	if sess.Get("last") != `"hi"` {
		t.Fatalf("last = %v", sess.Get("last"))
	}
}

func TestDispatch_SameSessionSerialized(t *testing.T) {
	r := NewRegistry()
	var active int32
	var maxActive int32
	r.Register(Record{
		Name:          "slow-counter",
		MemoryEnabled: true,
		Handler: func(ctx context.Context, input json.RawMessage, sess *Session) (json.RawMessage, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return json.RawMessage(`{}`), nil
		},
	})

	const sessionID = "shared-session"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Dispatch(context.Background(), DispatchRequest{
				Capability: "slow-counter",
				Input:      json.RawMessage(`{}`),
				SessionID:  sessionID,
			})
			if err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Fatalf("max concurrent handler invocations for one session = %d, want 1", got)
	}
}

func TestDispatch_DifferentSessionsRunConcurrently(t *testing.T) {
	r := NewRegistry()
	start := make(chan struct{})
	release := make(chan struct{})
	var entered int32
	r.Register(Record{
		Name:          "barrier",
		MemoryEnabled: true,
		Handler: func(ctx context.Context, input json.RawMessage, sess *Session) (json.RawMessage, error) {
			if atomic.AddInt32(&entered, 1) == 2 {
				close(start)
			}
			<-release
			return json.RawMessage(`{}`), nil
		},
	})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.Dispatch(context.Background(), DispatchRequest{
				Capability: "barrier",
				Input:      json.RawMessage(`{}`),
				SessionID:  id,
			})
			if err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}(id)
	}

	select {
	case <-start:
	case <-time.After(2 * time.Second):
		t.Fatal("distinct sessions did not run concurrently")
	}
	close(release)
	wg.Wait()
}

func TestDispatch_StreamingCapabilityRejectsDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(Record{Name: "tell-story", Streaming: true})
	_, err := r.Dispatch(context.Background(), DispatchRequest{Capability: "tell-story", Input: json.RawMessage(`{}`)})
	pe, ok := problem.Of(err)
	if !ok || pe.Kind != problem.InvalidInput {
		t.Fatalf("err = %v", err)
	}
}
