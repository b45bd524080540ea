// Package agentcore is the root facade tying the uri, descriptor, resolver,
// transport, and capability packages into a client SDK and a server SDK,
// each specified only through the interfaces it consumes. Client and Server
// are both configured through functional options; only Server has a
// readiness flag and graceful shutdown.
package agentcore

import (
	"context"
	"log/slog"

	"github.com/agent-uri/agentcore/resolver"
	"github.com/agent-uri/agentcore/transport"
	"github.com/agent-uri/agentcore/uri"
)

// Client resolves agent:// URIs and invokes capabilities on the resulting
// endpoint, picking the transport binding by the resolved protocol tag.
type Client struct {
	resolver *resolver.Resolver
	bindings *transport.Registry
	log      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithResolver overrides the default resolver.
func WithResolver(r *resolver.Resolver) ClientOption {
	return func(c *Client) { c.resolver = r }
}

// WithBindings overrides the default transport registry.
func WithBindings(reg *transport.Registry) ClientOption {
	return func(c *Client) { c.bindings = reg }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient constructs a Client with a default Resolver and an empty
// transport Registry; callers register the bindings they need (httpbinding,
// wsbinding, localbinding) before invoking.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		resolver: resolver.New(),
		bindings: transport.NewRegistry(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Bindings exposes the registry so callers can Register concrete bindings.
func (c *Client) Bindings() *transport.Registry { return c.bindings }

// Invoke resolves rawURI and invokes capability on the resolved endpoint,
// passing params through to the transport binding.
func (c *Client) Invoke(ctx context.Context, rawURI string, capabilityName string, params map[string]any) (*transport.Response, error) {
	binding, res, err := c.resolve(ctx, rawURI)
	if err != nil {
		return nil, err
	}
	return binding.Invoke(ctx, transport.Request{
		Endpoint:   res.Endpoint,
		Capability: capabilityName,
		Params:     params,
	})
}

// Stream is Invoke's streaming counterpart.
func (c *Client) Stream(ctx context.Context, rawURI string, capabilityName string, params map[string]any) (transport.StreamReader, error) {
	binding, res, err := c.resolve(ctx, rawURI)
	if err != nil {
		return nil, err
	}
	return binding.Stream(ctx, transport.Request{
		Endpoint:   res.Endpoint,
		Capability: capabilityName,
		Params:     params,
	})
}

func (c *Client) resolve(ctx context.Context, rawURI string) (transport.Binding, *resolver.ResolutionResult, error) {
	u, err := uri.Parse(rawURI)
	if err != nil {
		return nil, nil, err
	}
	res, err := c.resolver.Resolve(ctx, u, resolver.ResolveOptions{})
	if err != nil {
		return nil, nil, err
	}
	binding, err := c.bindings.Get(res.TransportTag)
	if err != nil {
		return nil, nil, err
	}
	return binding, res, nil
}

// Describe resolves rawURI and fetches its AgentDescriptor.
func (c *Client) Describe(ctx context.Context, rawURI string) (*resolver.ResolutionResult, error) {
	u, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	return c.resolver.Resolve(ctx, u, resolver.ResolveOptions{WantDescriptor: true})
}
