// Package api serves downloads, stored trades, candles and exports over HTTP.
//
// The handlers live in handler.go, middleware in middleware.go and request
// parsing in validator.go; this file holds the dependencies, routing and
// server lifecycle.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/johnayoung/go-trade-backfill/internal/export"
	"github.com/johnayoung/go-trade-backfill/internal/metrics"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultInterval        = "1h"
	DefaultShutdownTimeout = 10 * time.Second
	ServiceName            = "trade-backfill"
	RequestIDContextKey    = "request_id"
	RequestIDHeaderKey     = "X-Request-ID"
)

// Service is the download and query surface the handlers need.
type Service interface {
	StartDownload(ctx context.Context, pair string, start, end time.Time) (*models.Download, error)
	GetDownload(id string) (*models.Download, bool)
	Downloads() []*models.Download
	Trades(ctx context.Context, pair string, start, end time.Time) ([]models.Trade, error)
	Charts(ctx context.Context, pair string, start, end time.Time, interval time.Duration) ([]models.Candle, error)
	Pairs(ctx context.Context) ([]string, error)
	LocalPairs(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
}

// Exporter writes Parquet exports. It is optional; without it the export
// route is not registered.
type Exporter interface {
	ExportTrades(ctx context.Context, pair string, start, end time.Time) (*export.Result, error)
	ExportCandles(ctx context.Context, pair string, start, end time.Time, interval time.Duration) (*export.Result, error)
}

// APIHandler handles HTTP requests using Gin framework
type APIHandler struct {
	service   Service
	exporter  Exporter
	metrics   *metrics.MetricsCollector
	validator *Validator
	logger    *slog.Logger
	version   string

	// baseCtx outlives requests; background downloads run under it.
	baseCtx context.Context
}

// Options carries the optional dependencies of an APIHandler.
type Options struct {
	Exporter Exporter
	Metrics  *metrics.MetricsCollector
	Logger   *slog.Logger
	Version  string
	// BaseContext bounds background downloads. Defaults to context.Background.
	BaseContext context.Context
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(service Service, opts Options) *APIHandler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	return &APIHandler{
		service:   service,
		exporter:  opts.Exporter,
		metrics:   opts.Metrics,
		validator: GetValidator(),
		logger:    opts.Logger,
		version:   opts.Version,
		baseCtx:   opts.BaseContext,
	}
}

// SetupRoutes configures all API routes
func (h *APIHandler) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", h.GetMetrics)
	router.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(h.metrics.PrometheusRegistry(), promhttp.HandlerOpts{})))

	router.GET("/pairs", h.GetPairs)
	router.GET("/pairs/local", h.GetLocalPairs)
	router.GET("/trades/:pair", h.GetTrades)
	router.GET("/charts/:pair", h.GetCharts)

	router.POST("/downloads", h.CreateDownload)
	router.GET("/downloads", h.ListDownloads)
	router.GET("/downloads/:id", h.GetDownload)

	if h.exporter != nil {
		router.POST("/exports", h.CreateExport)
	}

	return router
}

// Server runs the API until its context is canceled.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewServer creates a server for the handler's routes on addr.
func NewServer(addr string, h *APIHandler, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           h.SetupRoutes(),
			ReadHeaderTimeout: 15 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          h.logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
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

	s.logger.Info("api server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
