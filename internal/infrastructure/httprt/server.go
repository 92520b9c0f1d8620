// Package httprt implements the serving runtime the whiteboard binds to:
// an HTTP listener with a dynamic mount table. Handlers attach and detach
// at URL prefixes while the server runs; dispatch picks the longest
// matching prefix.
package httprt

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/flow"
)

// Runtime is the attach surface dispatch units consume.
type Runtime interface {
	Attach(prefix string, h http.Handler) (flow.Handle, error)
	Endpoints() []string
}

// Config holds listener settings.
type Config struct {
	Host string
	Port string
}

type mount struct {
	prefix  string
	handler http.Handler
}

// Server is the concrete serving runtime: one listener, a mutable
// prefix-routed mount table, and an advertised endpoint list.
type Server struct {
	log *zap.Logger
	cfg Config

	mu     sync.RWMutex
	mounts []*mount

	srv *http.Server
	ln  net.Listener
}

// NewServer creates a stopped runtime.
func NewServer(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, cfg: cfg}
}

// Attach mounts h at prefix. The empty prefix is the root mount. Requests
// are dispatched to the longest matching prefix with the prefix stripped,
// so mounted handlers route relative paths.
func (s *Server) Attach(prefix string, h http.Handler) (flow.Handle, error) {
	if prefix != "" && (!strings.HasPrefix(prefix, "/") || strings.HasSuffix(prefix, "/")) {
		return nil, fmt.Errorf("mount prefix %q: must start with '/' and not end with one", prefix)
	}

	wrapped := h
	if prefix != "" {
		wrapped = http.StripPrefix(prefix, h)
	}
	m := &mount{prefix: prefix, handler: wrapped}

	s.mu.Lock()
	for _, existing := range s.mounts {
		if existing.prefix == prefix {
			s.mu.Unlock()
			return nil, fmt.Errorf("mount prefix %q already attached", prefix)
		}
	}
	s.mounts = append(s.mounts, m)
	// Longest prefix first so dispatch is a linear scan.
	sort.SliceStable(s.mounts, func(i, j int) bool {
		return len(s.mounts[i].prefix) > len(s.mounts[j].prefix)
	})
	s.mu.Unlock()

	s.log.Debug("attached handler", zap.String("prefix", prefix))
	return flow.HandleFunc(func() { s.detach(m) }), nil
}

func (s *Server) detach(m *mount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.mounts {
		if existing == m {
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			s.log.Debug("detached handler", zap.String("prefix", m.prefix))
			return
		}
	}
}

// Endpoints returns the externally reachable base addresses.
func (s *Server) Endpoints() []string {
	host := s.cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return []string{fmt.Sprintf("http://%s:%s", host, s.cfg.Port)}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	s.mu.RLock()
	var target http.Handler
	for _, m := range s.mounts {
		if m.prefix == "" {
			target = m.handler
			break
		}
		if path == m.prefix || strings.HasPrefix(path, m.prefix+"/") {
			target = m.handler
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		http.NotFound(w, r)
		return
	}
	target.ServeHTTP(w, r)
}

// Start begins listening. Non-blocking; Stop shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("http runtime failed", zap.Error(err))
		}
	}()

	s.log.Info("http runtime listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
