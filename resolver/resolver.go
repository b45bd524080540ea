// Package resolver turns an AgentURI into an endpoint and, where available,
// an AgentDescriptor, implementing the seven-step resolution order, HTTP
// caching, and a typed failure taxonomy.
package resolver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/agent-uri/agentcore/descriptor"
	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/uri"
)

// Method names the strategy that produced a ResolutionResult.
type Method string

const (
	Explicit           Method = "explicit"
	SubdomainWellKnown Method = "subdomain-well-known"
	MultiAgentRegistry Method = "multi-agent-registry"
	SingleAgentWellKnown Method = "single-agent-well-known"
	PathBased          Method = "path-based"
	DirectFallback     Method = "direct-fallback"
)

// CacheMetadata reports the cache provenance of a ResolutionResult.
type CacheMetadata struct {
	ETag         string
	LastModified string
	ExpiresAt    time.Time
	FromCache    bool
}

// ResolutionResult is the outcome of a successful Resolve call.
type ResolutionResult struct {
	Descriptor    *descriptor.AgentDescriptor // nil for direct-fallback and explicit-without-descriptor
	Endpoint      string
	TransportTag  string
	Method        Method
	CacheMetadata CacheMetadata
}

// ResolveOptions customizes a single Resolve call.
type ResolveOptions struct {
	// WantDescriptor, when the URI carries an explicit transport, asks the
	// resolver to still attempt the well-known chain before settling for
	// direct-fallback.
	WantDescriptor bool
	// AgentHost marks the host as an agent host regardless of the label-
	// count heuristic.
	AgentHost bool
}

// transportSchemeTable is the fixed endpoint-synthesis table.
var transportSchemeTable = map[string]string{
	"https":  "https",
	"wss":    "wss",
	"ws":     "ws",
	"http":   "http",
	"local":  "local",
	"unix":   "unix",
	"matrix": "matrix",
	"grpc":   "grpc",
}

// Options configures a Resolver, following the functional-options/Options
// struct pattern used throughout this module.
type Options struct {
	Fetcher           Fetcher
	Cache             CacheStore
	Logger            *slog.Logger
	CacheTTLDefault   time.Duration // cache_ttl_default_s, default 300s
	CacheMaxEntries   int           // cache_max_entries, default 1000
	Timeout           time.Duration // timeout_ms, default 10s
	StrictMode        bool
	FollowRedirects   bool // descriptor fetches default to false
}

// Option mutates an Options value.
type Option func(*Options)

func WithFetcher(f Fetcher) Option        { return func(o *Options) { o.Fetcher = f } }
func WithCache(c CacheStore) Option       { return func(o *Options) { o.Cache = c } }
func WithLogger(l *slog.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithCacheTTLDefault(d time.Duration) Option { return func(o *Options) { o.CacheTTLDefault = d } }
func WithCacheMaxEntries(n int) Option    { return func(o *Options) { o.CacheMaxEntries = n } }
func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithStrictMode(strict bool) Option   { return func(o *Options) { o.StrictMode = strict } }

// Resolver implements the resolution order and owns the shared cache of
// well-known fetches.
type Resolver struct {
	fetcher    Fetcher
	cache      CacheStore
	logger     *slog.Logger
	ttlDefault time.Duration
	strict     bool
	group      singleflight.Group
}

// New constructs a Resolver from functional options.
func New(opts ...Option) *Resolver {
	o := Options{
		CacheTTLDefault: 300 * time.Second,
		CacheMaxEntries: 1000,
		Timeout:         10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return WithOptions(o)
}

// WithOptions constructs a Resolver directly from an Options value,
// filling in any defaults left zero.
func WithOptions(o Options) *Resolver {
	if o.CacheTTLDefault <= 0 {
		o.CacheTTLDefault = 300 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Fetcher == nil {
		o.Fetcher = newHTTPFetcher(o.Timeout, o.FollowRedirects)
	}
	if o.Cache == nil {
		maxEntries := o.CacheMaxEntries
		if maxEntries <= 0 {
			maxEntries = 1000
		}
		o.Cache = NewMemoryCache(maxEntries)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		fetcher:    o.Fetcher,
		cache:      o.Cache,
		logger:     logger,
		ttlDefault: o.CacheTTLDefault,
		strict:     o.StrictMode,
	}
}

// ClearCache drops every cached entry.
func (r *Resolver) ClearCache() { r.cache.Clear() }

// ClearCacheFor drops the cached entry for one URL, if present.
func (r *Resolver) ClearCacheFor(url string) { r.cache.Delete(url) }

// Resolve implements the seven-step resolution order.
func (r *Resolver) Resolve(ctx context.Context, u *uri.AgentURI, opts ResolveOptions) (*ResolutionResult, error) {
	if u.IsExplicitTransport() {
		endpoint, err := synthesizeEndpoint(u, nil)
		if err != nil {
			return nil, err
		}
		if !opts.WantDescriptor {
			return &ResolutionResult{Endpoint: endpoint, TransportTag: u.Transport, Method: Explicit}, nil
		}
		if res, ok := r.tryWellKnownChain(ctx, u, opts); ok {
			return res, nil
		}
		r.logger.DebugContext(ctx, "resolver: explicit transport requested descriptor, none found, falling back",
			"host", u.Host, "transport", u.Transport)
		return &ResolutionResult{Endpoint: endpoint, TransportTag: u.Transport, Method: DirectFallback}, nil
	}

	if res, ok := r.tryWellKnownChain(ctx, u, opts); ok {
		return res, nil
	}

	return nil, problem.New(problem.ResolutionError, "no resolution strategy produced a descriptor").
		WithInstance(uri.Serialize(u)).
		WithExtension("reason", "not-found")
}

// tryWellKnownChain runs steps 2-5 of the resolution order in sequence,
// returning the first successful ResolutionResult.
func (r *Resolver) tryWellKnownChain(ctx context.Context, u *uri.AgentURI, opts ResolveOptions) (*ResolutionResult, bool) {
	host := u.Host

	// Step 2: subdomain-well-known.
	if looksLikeAgentSubdomain(host, opts.AgentHost) {
		url := "https://" + host + "/.well-known/agent.json"
		if d, cm, err := r.fetchDescriptor(ctx, url); err == nil {
			return r.buildResult(d, cm, u, SubdomainWellKnown), true
		}
	}

	// Step 3: multi-agent-registry.
	if res, ok := r.tryMultiAgentRegistry(ctx, u); ok {
		return res, true
	}

	// Step 4: single-agent-well-known.
	url := "https://" + host + "/.well-known/agent.json"
	if d, cm, err := r.fetchDescriptor(ctx, url); err == nil {
		return r.buildResult(d, cm, u, SingleAgentWellKnown), true
	}

	// Step 5: path-based.
	if len(u.PathSegments) > 0 {
		pathURL := "https://" + host + "/" + u.PathSegments[0] + "/agent.json"
		if d, cm, err := r.fetchDescriptor(ctx, pathURL); err == nil {
			return r.buildResult(d, cm, u, PathBased), true
		}
	}

	return nil, false
}

type agentsRegistry struct {
	Agents map[string]string `json:"agents"`
}

func (r *Resolver) tryMultiAgentRegistry(ctx context.Context, u *uri.AgentURI) (*ResolutionResult, bool) {
	registryURL := "https://" + u.Host + "/.well-known/agents.json"
	body, cm, err := r.fetchRaw(ctx, registryURL)
	if err != nil {
		return nil, false
	}
	var reg agentsRegistry
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, false
	}

	key := ""
	if len(u.PathSegments) > 0 {
		key = u.PathSegments[0]
	}
	descURL, ok := reg.Agents[key]
	if !ok && key != "" {
		// Fall back to the empty-key entry if the path-derived key is absent.
		descURL, ok = reg.Agents[""]
	}
	if !ok {
		return nil, false
	}

	d, descCM, err := r.fetchDescriptor(ctx, descURL)
	if err != nil {
		return nil, false
	}
	_ = cm // the registry document itself is not cached as a descriptor
	return r.buildResult(d, descCM, u, MultiAgentRegistry), true
}

func (r *Resolver) buildResult(d *descriptor.AgentDescriptor, cm CacheMetadata, u *uri.AgentURI, method Method) *ResolutionResult {
	tag := u.Transport
	if tag == "" {
		tag = "https"
	}
	endpoint, err := synthesizeEndpoint(u.WithTransport(tag), d)
	if err != nil {
		endpoint = "https://" + u.Host
	}
	return &ResolutionResult{
		Descriptor:    d,
		Endpoint:      endpoint,
		TransportTag:  tag,
		Method:        method,
		CacheMetadata: cm,
	}
}

// synthesizeEndpoint implements the endpoint synthesis rule: the fixed
// transport→scheme table, overridable by an absolute entry in
// descriptor.Endpoints[tag] when d is non-nil.
func synthesizeEndpoint(u *uri.AgentURI, d *descriptor.AgentDescriptor) (string, error) {
	if d != nil {
		if override, ok := d.Endpoints[u.Transport]; ok && override != "" {
			return override, nil
		}
	}

	scheme, ok := transportSchemeTable[u.Transport]
	if !ok {
		return "", problem.New(problem.ResolutionError, "unknown transport tag: "+u.Transport).
			WithExtension("reason", "unknown-transport").
			WithExtension("transport", u.Transport)
	}

	authority := u.Host
	if u.Port != uri.NoPort {
		authority += ":" + strconv.Itoa(u.Port)
	}

	var path strings.Builder
	for _, seg := range u.PathSegments {
		path.WriteByte('/')
		path.WriteString(seg)
	}

	return scheme + "://" + authority + path.String(), nil
}

// looksLikeAgentSubdomain implements the refined step-2 heuristic: at least
// three labels, OR a registrable domain (eTLD+1) that differs from the full
// host, OR the caller explicitly marking the host as an agent host. Unless
// marked, a bracketed IP literal or a "did:" host is never treated as an
// agent subdomain, whatever its label count.
func looksLikeAgentSubdomain(host string, markedAgentHost bool) bool {
	if markedAgentHost {
		return true
	}
	if strings.HasPrefix(host, "[") || (len(host) >= 4 && strings.EqualFold(host[:4], "did:")) {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) >= 3 {
		return true
	}
	etldPlusOne, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	return etldPlusOne != host
}
