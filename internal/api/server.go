// Package api serves the discovery results as JSON over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dexterity/internal/metrics"
	"dexterity/internal/model"
)

// Discovery is the read-only query surface behind the routes.
type Discovery interface {
	Tokens(ctx context.Context) ([]*string, error)
	Swaps(ctx context.Context) (int, error)
	Pools(ctx context.Context) ([]model.Pool, error)
	TokenMetadata(ctx context.Context) ([]model.TokenMeta, error)
	Ready(ctx context.Context) error
}

type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	ReadyTimeout    time.Duration
}

type Server struct {
	cfg        Config
	discovery  Discovery
	logger     *zap.Logger
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	router     *mux.Router
	httpServer *http.Server
}

// NewServer wires the routes. gatherer backs /metrics; nil leaves the route out.
func NewServer(cfg Config, discovery Discovery, logger *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		discovery: discovery,
		logger:    logger,
		metrics:   m,
		gatherer:  gatherer,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done, then
// shuts down gracefully. A listen failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	}
	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metricsMiddleware, s.recoverMiddleware)

	router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
	router.HandleFunc("/tokens", s.tokensHandler).Methods(http.MethodGet)
	router.HandleFunc("/tokens/metadata", s.tokenMetadataHandler).Methods(http.MethodGet)
	router.HandleFunc("/swaps", s.swapsHandler).Methods(http.MethodGet)
	router.HandleFunc("/pools", s.poolsHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}
