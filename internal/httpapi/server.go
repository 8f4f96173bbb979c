// Package httpapi serves the proving facade over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/poam/internal/metrics"
	"github.com/roach88/poam/internal/service"
)

// Options configures a Server.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// RequestTimeout bounds every request's context. Zero disables it.
	RequestTimeout time.Duration
}

// Server routes HTTP requests to a service.Service.
type Server struct {
	svc     *service.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	router  *gin.Engine
}

// New builds the router. Call gin.SetMode before New to change the mode.
func New(svc *service.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		svc:     svc,
		metrics: opts.Metrics,
		logger:  logger,
		timeout: opts.RequestTimeout,
		router:  router,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	// Logging and metrics
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		s.logger.Info("http request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", duration.Milliseconds(),
		)
		s.metrics.ObserveHTTP(c.Request.Method, route, status, duration)
	})

	// Timeout
	if s.timeout > 0 {
		s.router.Use(func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
			defer cancel()

			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/v1")
	{
		v1.POST("/prove", s.handleProve)
		v1.POST("/compose", s.handleCompose)
		v1.POST("/verify", s.handleVerify)
		v1.GET("/guests", s.handleGuests)

		chains := v1.Group("/chains")
		{
			chains.GET("/:id", s.handleChain)
			chains.GET("/:id/replay", s.handleReplay)
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
