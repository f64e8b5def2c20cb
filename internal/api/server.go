package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mpak-dev/mpak-registry/internal/log"
)

// Server wraps the HTTP server for the registry API.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
}

// NewServer creates an API server listening on the given address. The
// listener is opened immediately so the bound port is known before
// Start is called (addr may use port 0).
func NewServer(addr string, handler *Handler) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		handler:  handler,
		server:   server,
		listener: listener,
	}, nil
}

// Port returns the actual port the server is listening on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the listener's address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving requests. Blocks until the server stops.
func (s *Server) Start() error {
	log.Info(log.CatHTTP, "API server listening", "addr", s.Addr())
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatHTTP, "Stopping API server")
	return s.server.Shutdown(ctx)
}
