// Package httpbinding implements the request/response transport binding
// over HTTP-compatible protocols: method selection, a pooled client,
// retry-with-backoff for idempotent requests, and SSE/NDJSON stream
// decoding.
package httpbinding

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// Options configures a Binding, following the functional-options/Options
// struct pattern used throughout this module.
type Options struct {
	Client          *http.Client
	Logger          *slog.Logger
	PoolPerOriginMax int           // pool_per_origin_max, default 10
	IdleTimeoutS    time.Duration // idle_timeout_s, default 60s
	RetriesMax      int           // retries_max, default 3
	Delay           time.Duration // base retry backoff, default 100ms
	MaxDelay        time.Duration // retry backoff ceiling, default 2s
	Multiplier      float64       // backoff multiplier, default 2.0
	FollowRedirects bool          // default true for B1
	TimeoutMS       int
}

// Option mutates an Options value.
type Option func(*Options)

func WithRetriesMax(n int) Option            { return func(o *Options) { o.RetriesMax = n } }
func WithPoolPerOriginMax(n int) Option      { return func(o *Options) { o.PoolPerOriginMax = n } }
func WithIdleTimeout(d time.Duration) Option { return func(o *Options) { o.IdleTimeoutS = d } }
func WithLogger(l *slog.Logger) Option       { return func(o *Options) { o.Logger = l } }
func WithFollowRedirects(f bool) Option      { return func(o *Options) { o.FollowRedirects = f } }

// Binding is the B1 request/response binding.
type Binding struct {
	client     *http.Client
	logger     *slog.Logger
	retriesMax int
	delay      time.Duration
	maxDelay   time.Duration
	multiplier float64
}

// New constructs a Binding from functional options.
func New(opts ...Option) *Binding {
	o := Options{
		PoolPerOriginMax: 10,
		IdleTimeoutS:     60 * time.Second,
		RetriesMax:       3,
		Delay:            100 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		Multiplier:       2.0,
		FollowRedirects:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return WithOptions(o)
}

// WithOptions constructs a Binding directly from an Options value.
func WithOptions(o Options) *Binding {
	if o.RetriesMax <= 0 {
		o.RetriesMax = 3
	}
	if o.Delay <= 0 {
		o.Delay = 100 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 2 * time.Second
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := o.Client
	if client == nil {
		poolMax := o.PoolPerOriginMax
		if poolMax <= 0 {
			poolMax = 10
		}
		idleTimeout := o.IdleTimeoutS
		if idleTimeout <= 0 {
			idleTimeout = 60 * time.Second
		}
		httpTransport := &http.Transport{
			MaxConnsPerHost:     poolMax,
			MaxIdleConnsPerHost: poolMax,
			IdleConnTimeout:     idleTimeout,
		}
		client = &http.Client{Transport: httpTransport}
		if !o.FollowRedirects {
			client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			}
		}
	}

	return &Binding{
		client:     client,
		logger:     logger,
		retriesMax: o.RetriesMax,
		delay:      o.Delay,
		maxDelay:   o.MaxDelay,
		multiplier: o.Multiplier,
	}
}

func (b *Binding) ProtocolTag() string { return "https" }
func (b *Binding) Close() error        { return nil }

// buildRequest chooses GET vs POST and the request body: GET when
// params is absent or safe for URI query encoding, POST otherwise.
func buildRequest(ctx context.Context, req transport.Request) (*http.Request, bool, error) {
	base, err := url.Parse(req.Endpoint)
	if err != nil {
		return nil, false, problem.Wrap(problem.ParseError, "invalid endpoint URL", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/" + req.Capability

	idempotent := true
	var httpReq *http.Request
	if isQuerySafe(req.Params) {
		q := base.Query()
		for k, v := range req.Params {
			q.Set(k, stringifyParam(v))
		}
		base.RawQuery = q.Encode()
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	} else {
		idempotent = false
		body, merr := json.Marshal(req.Params)
		if merr != nil {
			return nil, false, problem.Wrap(problem.InvalidInput, "failed to encode request params", merr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, false, problem.Wrap(problem.InternalError, "failed to build HTTP request", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	applyAuth(httpReq, req.Auth)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, idempotent, nil
}

// isQuerySafe reports whether params is small/flat enough to ride in a URI
// query string (absent, empty, or every value a scalar).
func isQuerySafe(params map[string]any) bool {
	if len(params) == 0 {
		return true
	}
	for _, v := range params {
		switch v.(type) {
		case string, bool, int, int64, float64, json.Number:
		default:
			return false
		}
	}
	return true
}

func stringifyParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func applyAuth(req *http.Request, auth transport.Auth) {
	if auth.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+auth.BearerToken)
	}
	if auth.APIKey != "" {
		req.Header.Set("X-API-Key", auth.APIKey)
	}
}

// Invoke performs a single request/response invocation, retrying idempotent
// (GET) requests up to retriesMax times with exponential backoff on
// transient failures.
func (b *Binding) Invoke(ctx context.Context, req transport.Request) (*transport.Response, error) {
	httpReq, idempotent, err := buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	delay := b.delay
	attempts := 1
	if idempotent {
		attempts = b.retriesMax + 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			b.logger.DebugContext(ctx, "httpbinding: retrying invocation", "attempt", attempt, "capability", req.Capability)
			select {
			case <-ctx.Done():
				return nil, problem.Wrap(problem.TimeoutError, "context canceled during retry backoff", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * b.multiplier)
			if delay > b.maxDelay {
				delay = b.maxDelay
			}
			httpReq = httpReq.Clone(ctx)
		}

		resp, respErr := b.client.Do(httpReq)
		if respErr != nil {
			lastErr = problem.Wrap(problem.NetworkError, "HTTP request failed", respErr).WithInstance(req.Endpoint)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = problem.Wrap(problem.NetworkError, "failed to read HTTP response body", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &transport.Response{StatusCode: resp.StatusCode, Body: body, Headers: flattenHeaders(resp.Header)}, nil
		}

		if isRetryableStatus(resp.StatusCode) && idempotent && attempt < attempts-1 {
			lastErr = invocationError(resp.StatusCode, resp.Header, body)
			continue
		}
		return nil, invocationError(resp.StatusCode, resp.Header, body)
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func invocationError(status int, header http.Header, body []byte) error {
	if header.Get("Content-Type") == "application/problem+json" {
		var detail problem.Detail
		if err := json.Unmarshal(body, &detail); err == nil {
			kind := kindForStatus(status)
			e := problem.New(kind, detail.Detail)
			e.Detail = detail
			return e
		}
	}
	kind := kindForStatus(status)
	return problem.New(kind, "request failed with status "+strconv.Itoa(status)).
		WithExtension("status", status).
		WithExtension("body", string(body))
}

func kindForStatus(status int) problem.Kind {
	switch {
	case status == http.StatusUnauthorized:
		return problem.AuthenticationError
	case status == http.StatusForbidden:
		return problem.PermissionDenied
	case status == http.StatusNotFound:
		return problem.CapabilityNotFound
	case status == http.StatusTooManyRequests:
		return problem.RateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return problem.InvalidInput
	case status >= 500:
		return problem.UpstreamError
	default:
		return problem.UpstreamError
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

var _ transport.Binding = (*Binding)(nil)
