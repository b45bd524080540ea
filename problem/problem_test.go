package problem

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_FieldsFromRegistry(t *testing.T) {
	e := New(CapabilityNotFound, "no such capability: echo")
	if e.Kind != CapabilityNotFound {
		t.Fatalf("kind = %v", e.Kind)
	}
	if e.Detail.Status != 404 {
		t.Fatalf("status = %d, want 404", e.Detail.Status)
	}
	if e.Kind.Code() != 4004 {
		t.Fatalf("code = %d, want 4004", e.Kind.Code())
	}
	if e.Detail.Detail != "no such capability: echo" {
		t.Fatalf("detail = %q", e.Detail.Detail)
	}
}

func TestWithInstanceAndExtension(t *testing.T) {
	e := New(ValidationError, "bad descriptor").
		WithInstance("agent://acme.ai/planner").
		WithExtension("path", "/capabilities/0/name")

	if e.Detail.Instance != "agent://acme.ai/planner" {
		t.Fatalf("instance = %q", e.Detail.Instance)
	}
	if e.Detail.Extensions["path"] != "/capabilities/0/name" {
		t.Fatalf("extensions[path] = %v", e.Detail.Extensions["path"])
	}
}

func TestWrap_UnwrapAndChain(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := Wrap(NetworkError, "fetch failed", cause)

	if !errors.Is(e, e) {
		t.Fatalf("errors.Is(e, e) should hold")
	}
	if errors.Unwrap(e) != cause {
		t.Fatalf("unwrap mismatch")
	}
	if got := e.Error(); got == "" {
		t.Fatalf("empty error string")
	}
}

func TestWrap_NoDebugExtensionByDefault(t *testing.T) {
	// debugEnabled is cached process-wide via sync.OnceValue; in a normal
	// test run AGENT_URI_DEBUG is unset, so no "debug" extension appears.
	if debugEnabled() {
		t.Skip("AGENT_URI_DEBUG is set in this environment")
	}
	e := Wrap(NetworkError, "fetch failed", errors.New("boom"))
	if _, ok := e.Detail.Extensions["debug"]; ok {
		t.Fatalf("expected no debug extension when AGENT_URI_DEBUG is unset")
	}
}

func TestIs_MatchesOnKindOnly(t *testing.T) {
	a := New(TimeoutError, "slow")
	b := New(TimeoutError, "different message")
	c := New(NetworkError, "slow")

	if !a.Is(b) {
		t.Fatalf("expected same-kind errors to match")
	}
	if a.Is(c) {
		t.Fatalf("expected different-kind errors not to match")
	}
}

func TestOf_ExtractsWrappedError(t *testing.T) {
	inner := New(RateLimited, "slow down")
	wrapped := fmt.Errorf("invoke: %w", inner)

	got, ok := Of(wrapped)
	if !ok {
		t.Fatalf("expected Of to find wrapped *Error")
	}
	if got.Kind != RateLimited {
		t.Fatalf("kind = %v", got.Kind)
	}
}

func TestOf_FalseForPlainError(t *testing.T) {
	if _, ok := Of(errors.New("plain")); ok {
		t.Fatalf("expected ok=false for a plain error")
	}
}

func TestKind_FatalClassification(t *testing.T) {
	fatalCases := []Kind{ParseError, ValidationError, InvalidInput, CapabilityNotFound, AuthenticationError, PermissionDenied, UnknownTransport}
	for _, k := range fatalCases {
		if !k.Fatal() {
			t.Errorf("%v should be fatal", k)
		}
	}
	recoverable := []Kind{NetworkError, TimeoutError, UpstreamError, ResolutionError, RateLimited, InternalError}
	for _, k := range recoverable {
		if k.Fatal() {
			t.Errorf("%v should not be fatal", k)
		}
	}
}
