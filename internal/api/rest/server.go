package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/cache"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
	"github.com/wikiguard/pii-scan-backend/internal/metrics"
)

// Server owns the HTTP listener, routing and the middleware chain.
type Server struct {
	cfg        *config.Config
	handler    *Handler
	health     *HealthService
	limiter    cache.RateLimiter
	metrics    *metrics.Registry
	logger     *zap.Logger
	httpServer *http.Server
}

func NewServer(
	cfg *config.Config,
	handler *Handler,
	health *HealthService,
	limiter cache.RateLimiter,
	registry *metrics.Registry,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		health:  health,
		limiter: limiter,
		metrics: registry,
		logger:  logger,
	}

	root := Chain(s.routes(),
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
		corsMiddleware(nil),
		rateLimitMiddleware(limiter, 50),
	)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     root,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays zero so SSE and websocket streams are not cut.
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.health.livenessHandler)
	mux.HandleFunc("GET /health", s.health.readinessHandler)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.metrics.Prometheus(), promhttp.HandlerOpts{}))
	}

	h := s.handler
	s.handle(mux, "POST /api/v1/scans/purge", h.handlePurge)
	s.handle(mux, "GET /api/v1/scans/stream", h.handleStartStream)
	s.handle(mux, "GET /api/v1/scans/{scanID}/stream", h.handleAttachStream)
	s.handle(mux, "GET /api/v1/scans/{scanID}/ws", h.handleWebSocket)
	s.handle(mux, "POST /api/v1/scans/{scanID}/pause", h.handlePause)
	s.handle(mux, "POST /api/v1/scans/{scanID}/resume", h.handleResume)
	s.handle(mux, "GET /api/v1/scans/last", h.handleLastScan)
	s.handle(mux, "GET /api/v1/scans/last/spaces", h.handleLastScanSpaces)
	s.handle(mux, "GET /api/v1/scans/dashboard/spaces-summary", h.handleSpacesSummary)

	s.handle(mux, "POST /api/v1/pii/reveal-page", h.handleRevealPage)
	s.handle(mux, "GET /api/v1/pii/audit/{scanID}", h.handleAuditTrail)
	s.handle(mux, "GET /api/v1/pii-detection/config", h.handleGetDetectionConfig)
	s.handle(mux, "PUT /api/v1/pii-detection/config", h.handlePutDetectionConfig)
	s.handle(mux, "GET /api/v1/pii-detection/pii-types", h.handleListTypeConfigs)
	s.handle(mux, "PUT /api/v1/pii-detection/pii-types", h.handlePutTypeConfigs)
	s.handle(mux, "GET /api/v1/pii-detection/pii-types/{detector}/{piiType}", h.handleGetTypeConfig)
	s.handle(mux, "PUT /api/v1/pii-detection/pii-types/{detector}/{piiType}", h.handlePutTypeConfig)

	return mux
}

// handle registers a route with per-route duration metrics.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	if s.metrics != nil {
		h = s.instrument(pattern, h)
	}
	mux.HandleFunc(pattern, h)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("http server listening",
		zap.String("addr", s.httpServer.Addr),
		zap.String("environment", s.cfg.Environment))
	if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
