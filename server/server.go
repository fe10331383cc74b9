package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cod31nvictus/eterny/server/auth"
)

// Server binds the schedule API behind Basic authentication.
type Server struct {
	handler         http.Handler
	logger          *slog.Logger
	httpSrv         *http.Server
	shutdownTimeout time.Duration
}

// Options configures New.
type Options struct {
	Addr   string
	Realm  string
	Logger *slog.Logger
	// ShutdownTimeout bounds graceful shutdown once the context passed to
	// Serve is cancelled.
	ShutdownTimeout time.Duration
}

// New creates a server serving scheduler to principals accepted by
// authenticator.
func New(scheduler Scheduler, authenticator auth.Authenticator, opts Options) (*Server, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	h := NewHandler(scheduler, WithLogger(opts.Logger))
	s := &Server{
		handler:         auth.Middleware(authenticator, opts.Realm)(h),
		logger:          h.logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	return s.Serve(ctx, ln)
}
