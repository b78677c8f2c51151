package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/yegors/co-scribe/pkg/logger"
	"golang.org/x/net/netutil"
)

// Server is the HTTP server with a cap on concurrent connections
type Server struct {
	httpServer     *http.Server
	maxConnections int
	logger         *logger.Logger
}

// NewServer creates a server for handler. maxConnections <= 0 means no cap.
func NewServer(addr string, handler http.Handler, maxConnections int, readHeaderTimeout time.Duration, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		maxConnections: maxConnections,
		logger:         log.Named("api-server"),
	}
}

// ListenAndServe listens on the configured address and serves until
// Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln
func (s *Server) Serve(ln net.Listener) error {
	if s.maxConnections > 0 {
		ln = netutil.LimitListener(ln, s.maxConnections)
	}

	s.logger.Info("HTTP server listening",
		logger.String("addr", ln.Addr().String()),
		logger.Int("max_connections", s.maxConnections))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RegisterOnShutdown registers f to run when Shutdown starts. Handlers that
// hijack connections use it to close them.
func (s *Server) RegisterOnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
