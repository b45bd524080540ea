package httpbinding

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// Stream performs the request then decodes the body as a chunk sequence:
// server-sent events for text/event-stream, newline-delimited JSON for
// application/x-ndjson, a single whole-body chunk otherwise.
func (b *Binding) Stream(ctx context.Context, req transport.Request) (transport.StreamReader, error) {
	httpReq, _, err := buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, problem.Wrap(problem.NetworkError, "HTTP stream request failed", err).WithInstance(req.Endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, invocationError(resp.StatusCode, resp.Header, body)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		return newSSEReader(resp.Body), nil
	case strings.HasPrefix(contentType, "application/x-ndjson"):
		return newNDJSONReader(resp.Body), nil
	default:
		return newWholeBodyReader(resp.Body), nil
	}
}

// sseReader decodes a text/event-stream body into chunks, one per "data:"
// field accumulated across an event block (terminated by a blank line).
type sseReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	done    bool
}

func newSSEReader(body io.ReadCloser) *sseReader {
	return &sseReader{scanner: bufio.NewScanner(body), closer: body}
}

func (s *sseReader) Next(ctx context.Context) (transport.Chunk, bool, error) {
	if s.done {
		return transport.Chunk{}, false, nil
	}
	var data strings.Builder
	sawData := false
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if sawData {
				return transport.Chunk{Data: []byte(data.String())}, true, nil
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			if sawData {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(rest, " "))
			sawData = true
		}
		// id:/event:/retry: fields are recognized by the grammar but not
		// surfaced on transport.Chunk, which only carries payload bytes.
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return transport.Chunk{}, false, problem.Wrap(problem.NetworkError, "SSE stream read failed", err)
	}
	if sawData {
		return transport.Chunk{Data: []byte(data.String()), Final: true}, true, nil
	}
	return transport.Chunk{}, false, nil
}

func (s *sseReader) Close() error { return s.closer.Close() }

// ndjsonReader decodes an application/x-ndjson body, one JSON value per
// line, into one chunk per line.
type ndjsonReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

func newNDJSONReader(body io.ReadCloser) *ndjsonReader {
	return &ndjsonReader{scanner: bufio.NewScanner(body), closer: body}
}

func (n *ndjsonReader) Next(ctx context.Context) (transport.Chunk, bool, error) {
	for n.scanner.Scan() {
		line := n.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var probe json.RawMessage
		cp := append([]byte(nil), line...)
		if err := json.Unmarshal(cp, &probe); err != nil {
			return transport.Chunk{}, false, problem.Wrap(problem.NetworkError, "invalid NDJSON line", err)
		}
		return transport.Chunk{Data: cp}, true, nil
	}
	if err := n.scanner.Err(); err != nil {
		return transport.Chunk{}, false, problem.Wrap(problem.NetworkError, "NDJSON stream read failed", err)
	}
	return transport.Chunk{}, false, nil
}

func (n *ndjsonReader) Close() error { return n.closer.Close() }

// wholeBodyReader yields the entire body as a single chunk, for content
// types with no recognized streaming framing.
type wholeBodyReader struct {
	body   io.ReadCloser
	served bool
}

func newWholeBodyReader(body io.ReadCloser) *wholeBodyReader {
	return &wholeBodyReader{body: body}
}

func (w *wholeBodyReader) Next(ctx context.Context) (transport.Chunk, bool, error) {
	if w.served {
		return transport.Chunk{}, false, nil
	}
	w.served = true
	data, err := io.ReadAll(w.body)
	if err != nil {
		return transport.Chunk{}, false, problem.Wrap(problem.NetworkError, "failed to read response body", err)
	}
	return transport.Chunk{Data: data, Final: true}, true, nil
}

func (w *wholeBodyReader) Close() error { return w.body.Close() }
