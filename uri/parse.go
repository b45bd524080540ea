package uri

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agent-uri/agentcore/problem"
)

// SyntaxError is the structured cause carried by a *problem.Error of kind
// problem.ParseError, pinpointing the offending byte offset in the
// original input.
type SyntaxError struct {
	Position int
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("agent-uri: %s at byte %d", e.Reason, e.Position)
}

func fail(pos int, reason string) error {
	se := &SyntaxError{Position: pos, Reason: reason}
	return problem.Wrap(problem.ParseError, se.Error(), se).WithExtension("position", pos)
}

// Parse parses s as an agent-uri. On success it returns an AgentURI whose
// fields reflect exactly what was written (decoded, but not normalized).
// On failure it returns a *problem.Error of Kind ParseError wrapping a
// *SyntaxError with the byte offset of the first bad byte.
func Parse(s string) (*AgentURI, error) {
	idx := strings.Index(s, "://")
	if idx == -1 {
		return nil, fail(len(s), "missing \"://\"")
	}
	schemePart, rest := s[:idx], s[idx+3:]

	scheme := schemePart
	transport := ""
	if plus := strings.IndexByte(schemePart, '+'); plus != -1 {
		scheme, transport = schemePart[:plus], schemePart[plus+1:]
	}
	if !strings.EqualFold(scheme, "agent") {
		return nil, fail(0, fmt.Sprintf("scheme must be \"agent\", got %q", scheme))
	}
	if transport != "" {
		for i := 0; i < len(transport); i++ {
			if !isTransportChar(transport[i]) {
				return nil, fail(len(scheme)+1+i, "transport tag contains invalid character")
			}
		}
	}

	authEnd := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' || rest[i] == '?' || rest[i] == '#' {
			authEnd = i
			break
		}
	}
	authority := rest[:authEnd]
	remainder := rest[authEnd:]
	authBase := idx + 3

	userinfo, hostport := "", authority
	if at := strings.IndexByte(authority, '@'); at != -1 {
		userinfo, hostport = authority[:at], authority[at+1:]
		var err error
		userinfo, err = pctDecode(userinfo, authBase)
		if err != nil {
			return nil, err
		}
	}
	hostBase := authBase + (len(authority) - len(hostport))

	host, port, err := parseHostPort(hostport, hostBase)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, fail(hostBase, "empty host")
	}

	u := &AgentURI{
		Transport: transport,
		UserInfo:  userinfo,
		Host:      host,
		Port:      port,
	}

	remBase := authBase + authEnd
	pathPart, queryPart, fragPart, hasQuery, hasFragment := splitPQF(remainder)

	if pathPart != "" {
		segs, trailingSlash, err := parsePath(pathPart, remBase)
		if err != nil {
			return nil, err
		}
		u.HasPath = true
		u.PathSegments = segs
		u.TrailingSlash = trailingSlash
	}

	if hasQuery {
		qBase := remBase + strings.Index(remainder, "?") + 1
		q, err := parseQuery(queryPart, qBase)
		if err != nil {
			return nil, err
		}
		u.HasQuery = true
		u.Query = q
	}

	if hasFragment {
		fBase := remBase + strings.Index(remainder, "#") + 1
		frag, err := pctDecode(fragPart, fBase)
		if err != nil {
			return nil, err
		}
		u.HasFragment = true
		u.Fragment = frag
	}

	return u, nil
}

// IsValid reports whether s parses successfully. It never fails.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func isTransportChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-'
}

// parseHostPort splits "host[:port]" honoring the bracketed IP-literal and
// "did:" host special cases: a "did:" host disables port parsing and
// consumes the whole remainder up to the next delimiter.
func parseHostPort(hostport string, base int) (string, int, error) {
	if len(hostport) >= 4 && strings.EqualFold(hostport[:4], "did:") {
		host, err := pctDecode(hostport, base)
		return host, NoPort, err
	}

	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end == -1 {
			return "", NoPort, fail(base, "unterminated IP-literal")
		}
		host := hostport[:end+1]
		rest := hostport[end+1:]
		if rest == "" {
			return host, NoPort, nil
		}
		if rest[0] != ':' {
			return "", NoPort, fail(base+end+1, "unexpected character after IP-literal")
		}
		port, err := parsePortDigits(rest[1:], base+end+2)
		return host, port, err
	}

	if colon := strings.LastIndexByte(hostport, ':'); colon != -1 {
		host, err := pctDecode(hostport[:colon], base)
		if err != nil {
			return "", NoPort, err
		}
		port, err := parsePortDigits(hostport[colon+1:], base+colon+1)
		return host, port, err
	}

	host, err := pctDecode(hostport, base)
	return host, NoPort, err
}

func parsePortDigits(s string, base int) (int, error) {
	if s == "" {
		return NoPort, fail(base, "empty port")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return NoPort, fail(base, "port out of range 1..65535")
	}
	return n, nil
}

// splitPQF splits the "/path?query#fragment" remainder (which may start
// with any of those three delimiters, or be empty).
func splitPQF(remainder string) (pathPart, queryPart, fragPart string, hasQuery, hasFragment bool) {
	rest := remainder
	if len(rest) > 0 && rest[0] == '/' {
		end := len(rest)
		for i := 0; i < len(rest); i++ {
			if rest[i] == '?' || rest[i] == '#' {
				end = i
				break
			}
		}
		pathPart, rest = rest[:end], rest[end:]
	}
	if len(rest) > 0 && rest[0] == '?' {
		end := len(rest)
		for i := 1; i < len(rest); i++ {
			if rest[i] == '#' {
				end = i
				break
			}
		}
		queryPart, rest = rest[1:end], rest[end:]
		hasQuery = true
	}
	if len(rest) > 0 && rest[0] == '#' {
		fragPart = rest[1:]
		hasFragment = true
	}
	return
}

func parsePath(pathPart string, base int) ([]string, bool, error) {
	trimmed := strings.TrimPrefix(pathPart, "/")
	if trimmed == "" {
		return nil, true, nil // bare "/"
	}
	raw := strings.Split(trimmed, "/")
	trailingSlash := false
	if raw[len(raw)-1] == "" {
		trailingSlash = true
		raw = raw[:len(raw)-1]
	}
	segs := make([]string, len(raw))
	offset := base + 1 // past the leading "/"
	for i, seg := range raw {
		if seg == "" {
			return nil, false, fail(offset, "empty path segment")
		}
		decoded, err := pctDecode(seg, offset)
		if err != nil {
			return nil, false, err
		}
		segs[i] = decoded
		offset += len(seg) + 1
	}
	return segs, trailingSlash, nil
}
