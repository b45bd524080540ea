package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agent-uri/agentcore/capability"
	"github.com/agent-uri/agentcore/descriptor"
	"github.com/agent-uri/agentcore/problem"
	"github.com/agent-uri/agentcore/transport"
)

// Server hosts one agent over HTTP: its derived descriptor at
// /.well-known/agent.json and its capabilities at /<name>, dispatched
// through a capability.Registry. It owns the HTTP server lifecycle: readiness
// flip, optional pre-shutdown delay, structured logs, graceful drain on
// SIGINT/SIGTERM.
type Server struct {
	meta     capability.AgentMeta
	registry *capability.Registry

	preShutdownDelay time.Duration
	shutdownTimeout  time.Duration

	shuttingDown atomic.Bool
	log          *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger. If nil, slog.Default is used.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithServerPreShutdownDelay sets the delay after flipping readiness and
// before Shutdown, giving load balancers time to notice.
func WithServerPreShutdownDelay(d time.Duration) ServerOption {
	return func(s *Server) {
		if d >= 0 {
			s.preShutdownDelay = d
		}
	}
}

// WithServerShutdownTimeout sets the maximum duration for http.Server.Shutdown.
func WithServerShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer constructs a Server hosting the capabilities in registry under
// the agent metadata in meta.
func NewServer(meta capability.AgentMeta, registry *capability.Registry, opts ...ServerOption) *Server {
	s := &Server{
		meta:             meta,
		registry:         registry,
		preShutdownDelay: 1 * time.Second,
		shutdownTimeout:  15 * time.Second,
		log:              slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.log }

// Descriptor derives the current AgentDescriptor from the registry.
func (s *Server) Descriptor() *descriptor.AgentDescriptor {
	return s.registry.DeriveDescriptor(s.meta)
}

// HealthzHandler reports 200 while serving and 503 after shutdown begins.
func (s *Server) HealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if s.shuttingDown.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
}

// Handler returns the HTTP handler serving the well-known descriptor
// endpoint and one path per registered capability.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", s.handleDescriptor)
	mux.Handle("/healthz", s.HealthzHandler())
	mux.HandleFunc("/", s.handleInvoke)
	return mux
}

func (s *Server) handleDescriptor(w http.ResponseWriter, r *http.Request) {
	body, err := descriptor.Serialize(s.Descriptor(), descriptor.Canonical)
	if err != nil {
		writeProblem(w, problem.Wrap(problem.InternalError, "failed to serialize descriptor", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	input, err := inputFromRequest(r)
	if err != nil {
		writeProblem(w, err)
		return
	}

	req := capability.DispatchRequest{
		Capability: name,
		Input:      input,
		Headers:    flattenHeader(r.Header),
		Auth:       authFromHeader(r.Header),
	}

	result, err := s.registry.Dispatch(r.Context(), req)
	if err != nil {
		writeProblem(w, err)
		return
	}

	if result.SessionID != "" {
		w.Header().Set("X-Session-ID", result.SessionID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(result.Output)
}

// inputFromRequest builds the capability input payload: GET and DELETE
// requests encode their query parameters as a flat JSON object (the query-safe path
// httpbinding also takes), other methods pass the body through verbatim.
func inputFromRequest(r *http.Request) (json.RawMessage, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		return queryToJSON(r.URL.Query())
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, problem.Wrap(problem.InvalidInput, "failed to read request body", err)
	}
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(body), nil
}

func queryToJSON(q url.Values) (json.RawMessage, error) {
	m := make(map[string]any, len(q))
	for k, v := range q {
		if len(v) == 1 {
			m[k] = v[0]
		} else {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func authFromHeader(h http.Header) (a transport.Auth) {
	if tok, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer "); ok {
		a.BearerToken = tok
	}
	if key := h.Get("X-API-Key"); key != "" {
		a.APIKey = key
	}
	return a
}

func writeProblem(w http.ResponseWriter, err error) {
	pe, ok := problem.Of(err)
	if !ok {
		pe = problem.Wrap(problem.InternalError, err.Error(), err)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(pe.Detail.Status)
	json.NewEncoder(w).Encode(pe.Detail)
}

// Listen starts an HTTP server at addr and handles SIGINT and SIGTERM.
func (s *Server) Listen(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	return s.serveWithSignals(srv, func() error { return srv.ListenAndServe() })
}

// ListenTLS starts an HTTPS server and handles SIGINT and SIGTERM.
func (s *Server) ListenTLS(addr, certFile, keyFile string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	return s.serveWithSignals(srv, func() error { return srv.ListenAndServeTLS(certFile, keyFile) })
}

// Serve serves on a custom listener and handles SIGINT and SIGTERM.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{Addr: l.Addr().String(), Handler: s.Handler()}
	return s.serveWithSignals(srv, func() error { return srv.Serve(l) })
}

// ServeContext runs srv until ctx is canceled, then performs a graceful drain.
func (s *Server) ServeContext(ctx context.Context, srv *http.Server, serveFn func() error) error {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv.BaseContext = func(net.Listener) context.Context { return baseCtx }

	log := s.Logger().With(slog.String("addr", srv.Addr), slog.Int("pid", os.Getpid()))
	log.Info("agent server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := serveFn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server start failed", slog.Any("error", err))
		}
		return err

	case <-ctx.Done():
		start := time.Now()
		s.shuttingDown.Store(true)
		log.Info("shutdown initiated")

		if s.preShutdownDelay > 0 {
			time.Sleep(s.preShutdownDelay)
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("graceful shutdown incomplete", slog.Any("error", err))
			_ = srv.Close()
			cancelBase()
		} else {
			cancelBase()
		}

		if err := <-errCh; err != nil {
			log.Error("server exit error after shutdown", slog.Any("error", err))
			return err
		}

		log.Info("server stopped gracefully", slog.Duration("duration", time.Since(start)))
		return nil
	}
}

func (s *Server) serveWithSignals(srv *http.Server, serveFn func() error) error {
	parent, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.ServeContext(parent, srv, serveFn)
}
