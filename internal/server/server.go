// Package server exposes the dispatcher to drivers over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/config"
	"github.com/xkilldash9x/extbridge/internal/dispatcher"
)

// Dispatcher produces the response for a request. ok is false when no
// response should be sent.
type Dispatcher interface {
	Dispatch(ctx context.Context, req schemas.Request) (resp schemas.Response, ok bool)
	// DispatchAsync delivers at most one response, then closes the channel.
	DispatchAsync(ctx context.Context, req schemas.Request) <-chan schemas.Response
}

var _ Dispatcher = (*dispatcher.Dispatcher)(nil)

// Server hosts the command endpoints.
type Server struct {
	cfg        config.ServerConfig
	dispatcher Dispatcher
	logger     *zap.Logger
	limiter    *rate.Limiter
	router     chi.Router
}

// New creates a Server. A zero cfg.RateLimit disables rate limiting.
func New(cfg config.ServerConfig, d Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger.Named("server"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Long-lived streams are kept out of the request logger.
	r.With(s.rateLimit).Get("/ws/v1/commands", s.handleCommandStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Get("/healthz", s.handleHealthCheck)
		r.Route("/api/v1", func(r chi.Router) {
			r.With(s.rateLimit).Post("/command", s.handleCommand)
		})
	})
	return r
}

// Handler returns the server's routes, for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.ListenAddr and serves until ctx ends, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Bridge server listening.", zap.String("address", ln.Addr().String()))
		serveErr <- httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down bridge server.")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		<-serveErr
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	<-serveErr
	s.logger.Info("Bridge server stopped.")
	return nil
}

// corsMiddleware lets extension pages and local tooling call the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrRateLimited is the failure reported for requests over the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

func (s *Server) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow() {
			s.logger.Warn("Rejecting request over rate limit.", zap.String("path", r.URL.Path))
			s.respond(w, http.StatusTooManyRequests, schemas.Fail(ErrRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}
