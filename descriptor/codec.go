package descriptor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/agent-uri/agentcore/problem"
)

// Format selects a serialization shape for Serialize.
type Format int

const (
	// Canonical is the plain agent.json shape.
	Canonical Format = iota
	// JSONLD injects an "@context" field derived from JSONLDContext.
	JSONLD
)

const defaultJSONLDContext = "https://agent-uri.dev/context/v1"

// ParseOptions configures Parse.
type ParseOptions struct {
	// Strict, when true, makes any validation error a parse
	// failure. When false (default), Parse still runs structural JSON
	// decoding strictly but tolerates descriptor-level validation
	// failures, returning them via Validate(d) to the caller instead.
	Strict bool
}

// Parse decodes bytes into an AgentDescriptor. Unknown JSON fields are
// ignored by the decoder; there is no generic "unknown field bag", so
// unrecognized descriptor extensions do not survive a Parse/Serialize round
// trip. No agents.json writer exists in this module either: the resolver
// only reads its "agents" mapping.
func Parse(data []byte, opts ParseOptions) (*AgentDescriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var d AgentDescriptor
	if err := dec.Decode(&d); err != nil {
		return nil, problem.Wrap(problem.ValidationError, "descriptor is not valid JSON", err)
	}
	if opts.Strict {
		res := Validate(&d)
		if !res.Valid {
			return nil, validationFailure(res)
		}
	}
	return &d, nil
}

func validationFailure(res ValidationResult) error {
	e := problem.New(problem.ValidationError, "descriptor failed validation")
	exts := make([]map[string]string, len(res.Errors))
	for i, issue := range res.Errors {
		exts[i] = map[string]string{"path": issue.Path, "code": issue.Code, "message": issue.Message}
	}
	return e.WithExtension("errors", exts)
}

// Serialize renders d per format. JSONLD injects "@context"; Canonical
// omits it even if JSONLDContext is set on d.
func Serialize(d *AgentDescriptor, format Format) ([]byte, error) {
	if format != JSONLD {
		return json.MarshalIndent(d, "", "  ")
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, problem.Wrap(problem.InternalError, "failed to marshal descriptor", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, problem.Wrap(problem.InternalError, "failed to re-decode descriptor", err)
	}
	ctx := d.JSONLDContext
	if ctx == nil {
		ctx = defaultJSONLDContext
	}
	m["@context"] = ctx
	return json.MarshalIndent(m, "", "  ")
}

// LoadFromSource loads an AgentDescriptor from a local file path or an
// "http(s)://" URL.
func LoadFromSource(ctx context.Context, source string, opts ParseOptions) (*AgentDescriptor, error) {
	data, err := readSource(ctx, source)
	if err != nil {
		return nil, err
	}
	return Parse(data, opts)
}

func readSource(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, problem.Wrap(problem.InternalError, "failed to build descriptor request", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, problem.Wrap(problem.NetworkError, "failed to fetch descriptor source", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, problem.New(problem.NetworkError, "descriptor source returned non-200").WithInstance(source)
		}
		return io.ReadAll(resp.Body)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, problem.Wrap(problem.InternalError, "failed to read descriptor source", err)
	}
	return data, nil
}
