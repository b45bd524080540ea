package agentcore

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agent-uri/agentcore/capability"
	"github.com/agent-uri/agentcore/transport"
	"github.com/agent-uri/agentcore/transport/httpbinding"
)

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func tryGetBody(url string) (int, string, error) {
	client := http.Client{Timeout: 2 * time.Second}
	res, err := client.Get(url)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b), nil
}

func newEchoRegistry() *capability.Registry {
	r := capability.NewRegistry()
	r.Register(capability.Record{
		Name: "echo",
		Handler: func(ctx context.Context, input json.RawMessage, sess *capability.Session) (json.RawMessage, error) {
			return input, nil
		},
	})
	return r
}

func TestServer_DescriptorEndpoint(t *testing.T) {
	s := NewServer(capability.AgentMeta{Name: "echoer", Version: "1.0.0"}, newEchoRegistry())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	code, body, err := tryGetBody(srv.URL + "/.well-known/agent.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	var d map[string]any
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d["name"] != "echoer" {
		t.Fatalf("descriptor = %v", d)
	}
}

func TestServer_InvokeCapability(t *testing.T) {
	s := NewServer(capability.AgentMeta{Name: "echoer"}, newEchoRegistry())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	b := httpbinding.New()
	resp, err := b.Invoke(context.Background(), transport.Request{
		Endpoint:   srv.URL,
		Capability: "echo",
		Params:     map[string]any{"msg": "hi"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestServer_UnknownCapabilityReturnsProblem(t *testing.T) {
	s := NewServer(capability.AgentMeta{Name: "echoer"}, newEchoRegistry())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q", ct)
	}
}

func TestServer_HealthzReadinessFlip(t *testing.T) {
	s := NewServer(capability.AgentMeta{Name: "echoer"}, newEchoRegistry(),
		WithServerPreShutdownDelay(0), WithServerShutdownTimeout(200*time.Millisecond))

	ln := mustListen(t)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), Handler: s.Handler()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.ServeContext(ctx, srv, func() error { return srv.Serve(ln) })
	}()

	code, _, err := tryGetBody("http://" + ln.Addr().String() + "/healthz")
	if err != nil || code != http.StatusOK {
		t.Fatalf("health before shutdown = %d, err=%v", code, err)
	}

	cancel()
	time.Sleep(20 * time.Millisecond)

	code2, _, err2 := tryGetBody("http://" + ln.Addr().String() + "/healthz")
	if err2 == nil && code2 != http.StatusServiceUnavailable {
		t.Fatalf("health after shutdown = %d", code2)
	}

	wg.Wait()
}

func TestClient_InvokeExplicitTransport(t *testing.T) {
	srv := httptest.NewServer(NewServer(capability.AgentMeta{Name: "echoer"}, newEchoRegistry()).Handler())
	defer srv.Close()

	c := NewClient()
	c.Bindings().Register("http", func() (transport.Binding, error) { return httpbinding.New(), nil })

	resp, err := c.Invoke(context.Background(), "agent+http://"+srv.Listener.Addr().String(), "echo", map[string]any{"x": "1"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
