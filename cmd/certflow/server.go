package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/certflow/certflow"
	"github.com/certflow/certflow/config"
	"github.com/certflow/certflow/internal/server"
	"github.com/certflow/certflow/internal/telemetry"
)

// Server assembles the engine, the demo workforce and the HTTP surface for
// the serve subcommand.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	providers *telemetry.Providers

	engine       *certflow.Engine
	promRegistry *prometheus.Registry
	httpManager  *server.Manager

	rateLimiterCancel context.CancelFunc
	monitorCancel     context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{cfg: cfg, logger: logger, providers: providers}
}

// Start builds the engine, registers the demo certification workforce and
// brings the HTTP listener up. The call does not block.
func (s *Server) Start() error {
	s.promRegistry = prometheus.NewRegistry()

	engine, err := certflow.New(
		certflow.WithConfig(s.cfg),
		certflow.WithLogger(s.logger),
		certflow.WithPrometheus(s.promRegistry),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	s.engine = engine

	if err := registerDemoWorkforce(engine); err != nil {
		return fmt.Errorf("register demo agents: %w", err)
	}
	if err := registerDemoWorkflow(engine); err != nil {
		return fmt.Errorf("register demo workflow: %w", err)
	}

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	s.monitorCancel = monitorCancel
	engine.Registry().StartMonitor(monitorCtx)

	api := server.NewAPI(engine, s.logger,
		server.WithMetrics(engine.Metrics()),
		server.WithGatherer(s.promRegistry),
		server.WithVersion(Version),
		server.WithWSOrigins(s.cfg.Server.CORSOrigins),
		server.WithMetricsRoute(s.cfg.Metrics),
	)

	rlCtx, rlCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rlCancel
	handler := server.Chain(api.Routes(),
		server.Recovery(s.logger),
		server.RequestID(),
		server.RequestLogger(s.logger),
		server.MetricsMiddleware(engine.Metrics()),
		server.CORS(s.cfg.Server.CORSOrigins),
		server.RateLimiter(rlCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.FromServerConfig(s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	s.logger.Info("server started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Int("workflows", len(engine.Workflows())),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled))
	return nil
}

// WaitForShutdown blocks until a signal or a server error, then tears the
// stack down in reverse start order.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops HTTP, the engine and telemetry. Every component shuts
// down idempotently, so calling this after WaitForShutdown is safe.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.monitorCancel != nil {
		s.monitorCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(context.Background()); err != nil {
			s.logger.Error("http shutdown error", zap.Error(err))
		}
	}
	if s.engine != nil {
		s.engine.Close()
	}
	if s.providers != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.providers.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown complete")
}
