// Package uri implements the agent-uri grammar: tokenizing, parsing,
// validating, normalizing, and serializing "agent://" and
// "agent+<transport>://" URIs.
package uri

import (
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// NoPort is the sentinel Port value meaning "no port was given".
const NoPort = -1

// AgentURI is an immutable parsed agent URI. Values are produced by Parse
// or the With* builders and are never mutated in place; every builder
// returns a new value.
type AgentURI struct {
	Transport string // optional short tag after "agent+"; "" if absent
	UserInfo  string // optional; "" if absent
	Host      string // mandatory; DNS name, "[ip-literal]", or "did:...:..."
	Port      int    // NoPort if absent, else 1..65535

	PathSegments []string // decoded segments; nil for no path and for a bare "/" (see HasPath)
	HasPath      bool     // true if a path component (even just "/") was present
	TrailingSlash bool    // true if the path ended in "/" with no following segment

	Query    Query
	HasQuery bool // true if "?" was present at all, even with zero pairs

	Fragment    string
	HasFragment bool // true if "#" was present at all, even empty
}

// Scheme is always the literal "agent".
func (u *AgentURI) Scheme() string { return "agent" }

// IsExplicitTransport reports whether the URI named a transport tag
// ("agent+wss://...").
func (u *AgentURI) IsExplicitTransport() bool { return u.Transport != "" }

// IsDID reports whether Host is an opaque "did:" identifier
func (u *AgentURI) IsDID() bool {
	return len(u.Host) >= 4 && strings.EqualFold(u.Host[:4], "did:")
}

// IsIPLiteral reports whether Host is a bracketed IP literal such as
// "[::1]".
func (u *AgentURI) IsIPLiteral() bool {
	return strings.HasPrefix(u.Host, "[") && strings.HasSuffix(u.Host, "]")
}

// Clone returns a deep copy of u.
func (u *AgentURI) Clone() *AgentURI {
	c := *u
	c.PathSegments = append([]string(nil), u.PathSegments...)
	c.Query = append(Query(nil), u.Query...)
	return &c
}

// WithTransport returns a copy of u with Transport replaced.
func (u *AgentURI) WithTransport(transport string) *AgentURI {
	c := u.Clone()
	c.Transport = transport
	return c
}

// WithPort returns a copy of u with Port replaced (use NoPort to clear it).
func (u *AgentURI) WithPort(port int) *AgentURI {
	c := u.Clone()
	c.Port = port
	return c
}

// WithPath returns a copy of u whose path is exactly the given segments.
// An empty segments slice means "no path".
func (u *AgentURI) WithPath(segments ...string) *AgentURI {
	c := u.Clone()
	c.PathSegments = append([]string(nil), segments...)
	c.HasPath = len(segments) > 0
	c.TrailingSlash = false
	return c
}

// WithQueryParam returns a copy of u with an additional key=value query
// pair appended.
func (u *AgentURI) WithQueryParam(key, value string) *AgentURI {
	c := u.Clone()
	c.Query = c.Query.With(key, value)
	c.HasQuery = true
	return c
}

// WithBareQueryParam returns a copy of u with an additional bare
// (no "=") query key appended.
func (u *AgentURI) WithBareQueryParam(key string) *AgentURI {
	c := u.Clone()
	c.Query = c.Query.WithBare(key)
	c.HasQuery = true
	return c
}

// WithoutQueryParam returns a copy of u with every pair matching key
// removed.
func (u *AgentURI) WithoutQueryParam(key string) *AgentURI {
	c := u.Clone()
	c.Query = c.Query.Without(key)
	return c
}

// WithFragment returns a copy of u with Fragment replaced.
func (u *AgentURI) WithFragment(fragment string) *AgentURI {
	c := u.Clone()
	c.Fragment = fragment
	c.HasFragment = fragment != ""
	return c
}

// defaultPorts maps a transport tag to the default port of the URL scheme
// it synthesizes to (see resolver's endpoint-synthesis table); normalize
// drops an explicit port matching this default.
var defaultPorts = map[string]int{
	"https":  443,
	"wss":    443,
	"http":   80,
	"ws":     80,
	"grpc":   443,
	"matrix": 443,
}

// Normalize returns the normalized form of u: Equal(Normalize(Normalize(u)),
// Normalize(u)) always holds (P2).
func Normalize(u *AgentURI) *AgentURI {
	c := u.Clone()

	c.Transport = strings.ToLower(c.Transport)
	c.Host = normalizeHost(c.Host)

	if dp, ok := defaultPorts[c.Transport]; ok && c.Port == dp {
		c.Port = NoPort
	}

	if c.HasFragment && c.Fragment == "" {
		c.HasFragment = false
	}

	if len(c.PathSegments) == 0 {
		if c.TrailingSlash && !c.HasQuery && !c.HasFragment {
			c.HasPath = false
			c.TrailingSlash = false
		}
	} else {
		c.TrailingSlash = false
	}

	return c
}

func normalizeHost(host string) string {
	switch {
	case len(host) >= 4 && strings.EqualFold(host[:4], "did:"):
		parts := strings.SplitN(host, ":", 3)
		parts[0] = strings.ToLower(parts[0])
		if len(parts) > 1 {
			parts[1] = strings.ToLower(parts[1])
		}
		return strings.Join(parts, ":")

	case strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]"):
		inner := host[1 : len(host)-1]
		if ip := net.ParseIP(inner); ip != nil {
			return "[" + ip.String() + "]"
		}
		return "[" + strings.ToLower(inner) + "]"

	default:
		lower := strings.ToLower(host)
		if u, err := idna.Lookup.ToUnicode(lower); err == nil {
			return u
		}
		return lower
	}
}

// Equal reports whether a and b are structurally identical. It does not
// normalize either argument first.
func Equal(a, b *AgentURI) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Transport != b.Transport || a.UserInfo != b.UserInfo || a.Host != b.Host || a.Port != b.Port {
		return false
	}
	if a.HasPath != b.HasPath || a.TrailingSlash != b.TrailingSlash || len(a.PathSegments) != len(b.PathSegments) {
		return false
	}
	for i := range a.PathSegments {
		if a.PathSegments[i] != b.PathSegments[i] {
			return false
		}
	}
	if a.HasQuery != b.HasQuery || len(a.Query) != len(b.Query) {
		return false
	}
	for i := range a.Query {
		if a.Query[i] != b.Query[i] {
			return false
		}
	}
	return a.HasFragment == b.HasFragment && a.Fragment == b.Fragment
}

// Serialize renders u back to its wire string form. It is the exact
// inverse of Parse for any value produced by Normalize (P1).
func Serialize(u *AgentURI) string {
	var b strings.Builder
	b.WriteString("agent")
	if u.Transport != "" {
		b.WriteByte('+')
		b.WriteString(u.Transport)
	}
	b.WriteString("://")

	if u.UserInfo != "" {
		b.WriteString(pctEncode(u.UserInfo, userinfoSafe))
		b.WriteByte('@')
	}

	b.WriteString(serializeHost(u.Host))

	if u.Port != NoPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.Port))
	}

	if u.HasPath {
		for _, seg := range u.PathSegments {
			b.WriteByte('/')
			b.WriteString(pctEncode(seg, pathSafe))
		}
		if len(u.PathSegments) == 0 || u.TrailingSlash {
			b.WriteByte('/')
		}
	}

	if u.HasQuery {
		b.WriteByte('?')
		b.WriteString(u.Query.encode())
	}

	if u.HasFragment {
		b.WriteByte('#')
		b.WriteString(pctEncode(u.Fragment, fragmentSafe))
	}

	return b.String()
}

func serializeHost(host string) string {
	if strings.HasPrefix(host, "[") {
		return host
	}
	if len(host) >= 4 && strings.EqualFold(host[:4], "did:") {
		return host
	}
	return host
}

// String implements fmt.Stringer by serializing u as-is (no implicit
// normalization).
func (u *AgentURI) String() string { return Serialize(u) }
