// Package problem implements the cross-transport structured error envelope,
// modeled on RFC 7807.
package problem

import (
	"fmt"
	"os"
	"sync"
)

// debugEnabled reports whether AGENT_URI_DEBUG is set, read once and cached
// for the process lifetime (the env var is never polled, per its
// "read once" configuration contract).
var debugEnabled = sync.OnceValue(func() bool {
	return os.Getenv("AGENT_URI_DEBUG") != ""
})

// Kind is a stable error category. Every Kind carries a fixed numeric code
// and HTTP-compatible status, independent of the transport that surfaces it.
type Kind string

const (
	ParseError          Kind = "ParseError"
	ValidationError     Kind = "ValidationError"
	UnknownTransport    Kind = "UnknownTransport"
	CapabilityNotFound  Kind = "CapabilityNotFound"
	AuthenticationError Kind = "AuthenticationFailed"
	PermissionDenied    Kind = "PermissionDenied"
	InvalidInput        Kind = "InvalidInput"
	RateLimited         Kind = "RateLimited"
	NetworkError        Kind = "NetworkError"
	TimeoutError        Kind = "TimeoutError"
	UpstreamError       Kind = "UpstreamError"
	ResolutionError     Kind = "ResolutionError"
	InternalError       Kind = "InternalError"
)

type kindInfo struct {
	code   int
	status int
	title  string
}

var registry = map[Kind]kindInfo{
	ParseError:          {4001, 400, "URI does not conform to the agent-uri grammar"},
	ValidationError:     {4002, 422, "Descriptor failed validation"},
	UnknownTransport:    {4003, 400, "No binding registered for transport tag"},
	CapabilityNotFound:  {4004, 404, "Capability not found"},
	AuthenticationError: {4005, 401, "Authentication failed"},
	PermissionDenied:    {4006, 403, "Permission denied"},
	InvalidInput:        {4007, 400, "Input does not match capability schema"},
	RateLimited:         {4029, 429, "Rate limited"},
	NetworkError:        {5001, 502, "Transport-level network failure"},
	TimeoutError:        {5002, 504, "Deadline exceeded"},
	UpstreamError:       {5003, 502, "Upstream returned a failure payload"},
	ResolutionError:     {5004, 502, "All resolution strategies failed"},
	InternalError:       {5005, 500, "Uncategorized implementation fault"},
}

// Code returns the stable 4-digit family code for k, or 0 if k is unknown.
func (k Kind) Code() int { return registry[k].code }

// Status returns the HTTP-compatible status mirrored by k on any transport.
func (k Kind) Status() int {
	if info, ok := registry[k]; ok {
		return info.status
	}
	return 500
}

// Fatal reports whether an error of this kind should abort a retry loop
// rather than being treated as transient.
func (k Kind) Fatal() bool {
	switch k {
	case ParseError, ValidationError, InvalidInput, CapabilityNotFound,
		AuthenticationError, PermissionDenied, UnknownTransport:
		return true
	default:
		return false
	}
}

// Detail is the RFC 7807-shaped payload carried by every Error. Type is a
// stable URI identifying the Kind; Instance optionally names the failing
// resource (a URI, a capability name, an endpoint). Extensions are not part
// of Detail's JSON encoding (the field is tagged json:"-").
type Detail struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"-"`
}

// Error is the single typed-failure implementation used across every
// package in this module. It wraps an optional cause and exposes a Detail
// suitable for inclusion in an application/problem+json response or a
// transport-native error frame.
type Error struct {
	Kind   Kind
	Detail Detail
	Cause  error
}

// New constructs an Error of the given kind with a human-readable detail
// message. The Detail.Type, Title and Status are derived from Kind.
func New(kind Kind, detail string) *Error {
	info := registry[kind]
	return &Error{
		Kind: kind,
		Detail: Detail{
			Type:   "https://agent-uri.dev/problems/" + string(kind),
			Title:  info.title,
			Status: info.status,
			Detail: detail,
		},
	}
}

// Wrap attaches cause to a new Error of the given kind. When AGENT_URI_DEBUG
// is set, the cause's full chain is also copied into
// Detail.Extensions["debug"]; like every extension it stays in memory and
// is not written when the Detail is JSON-encoded.
func Wrap(kind Kind, detail string, cause error) *Error {
	e := New(kind, detail)
	e.Cause = cause
	if cause != nil && debugEnabled() {
		e.WithExtension("debug", fmt.Sprintf("%+v", cause))
	}
	return e
}

// WithInstance sets Detail.Instance and returns e for chaining.
func (e *Error) WithInstance(instance string) *Error {
	e.Detail.Instance = instance
	return e
}

// WithExtension attaches an extension field and returns e for chaining.
func (e *Error) WithExtension(key string, value any) *Error {
	if e.Detail.Extensions == nil {
		e.Detail.Extensions = make(map[string]any)
	}
	e.Detail.Extensions[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, problem.New(problem.ResolutionError, "")) style checks
// against a zero-value sentinel, or more idiomatically switch on As+Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Of extracts the first *Error in err's Unwrap chain, reporting ok=false if
// err is not (or does not wrap) a *Error.
func Of(err error) (*Error, bool) {
	var e *Error
	if as(err, &e) {
		return e, true
	}
	return nil, false
}

// as walks err's single-error Unwrap chain looking for a *Error. Unlike
// errors.As it does not follow Unwrap() []error or call As methods.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
