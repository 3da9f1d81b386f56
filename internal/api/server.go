package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/client"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/comfy"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/engine"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/ledger"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second

	// backendStatusTTL matches the status widget's refresh cadence; it is much
	// shorter than the job feed TTL.
	backendStatusTTL = 10 * time.Second
)

// Submitter accepts new jobs and exposes their lifecycle event stream.
// *engine.Engine satisfies it.
type Submitter interface {
	Submit(ctx context.Context, kind string, params map[string]any) (*model.Job, error)
	Broker() *engine.EventBroker
}

// BackendGateway is the slice of the compute backend the API surface needs:
// health probes and input media uploads. *comfy.Client satisfies it.
type BackendGateway interface {
	Status(ctx context.Context) (*comfy.BackendStatus, error)
	UploadMedia(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	ledger    ledger.Ledger
	submitter Submitter
	backend   BackendGateway
	cache     *client.Cache
	feedTTL   time.Duration
	logger    *slog.Logger
	addr      string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, led ledger.Ledger, submitter Submitter, backend BackendGateway, cache *client.Cache, feedTTL time.Duration, logger *slog.Logger) *Server {
	if feedTTL <= 0 {
		feedTTL = client.DefaultTTL
	}
	srv := &Server{
		router:    chi.NewRouter(),
		ledger:    led,
		submitter: submitter,
		backend:   backend,
		cache:     cache,
		feedTTL:   feedTTL,
		logger:    logger,
		addr:      addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/backend/status", s.handleBackendStatus)
	s.router.Post("/v1/uploads", s.handleUpload)

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/events", s.handleStreamEvents)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
