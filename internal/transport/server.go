package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/genesis-framework/genesis/internal/observability"
)

// Server wraps the gRPC server hosting the Bus service with observability,
// generalizing the teacher's AgentHubServer.
type Server struct {
	GRPC           *grpc.Server
	Listener       net.Listener
	Broker         *Broker
	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger
	Config         *Config
}

// NewServer builds a Server bound to config.ListenAddr, ready to have the
// Bus service registered and Start called.
func NewServer(config *Config) (*Server, error) {
	obsConfig := observability.DefaultConfig(config.ComponentID)
	obs, err := observability.NewObservability(obsConfig)
	if err != nil {
		return nil, fmt.Errorf("transport: initialize observability: %w", err)
	}

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("transport: initialize metrics manager: %w", err)
	}

	traceManager := observability.NewTraceManager(obsConfig.ServiceName)
	healthServer := observability.NewHealthServer(config.HealthPort, obsConfig.ServiceName, obsConfig.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))

	lis, err := net.Listen("tcp", config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", config.ListenAddr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)

	broker := NewBroker(obs.Logger, traceManager, metricsManager)
	RegisterBusServer(grpcServer, broker)

	return &Server{
		GRPC:           grpcServer,
		Listener:       lis,
		Broker:         broker,
		Observability:  obs,
		TraceManager:   traceManager,
		MetricsManager: metricsManager,
		HealthServer:   healthServer,
		Logger:         obs.Logger,
		Config:         config,
	}, nil
}

// Start runs the health server, the lease reaper, and the gRPC server. It
// blocks until the listener errors or the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.Logger.Info("starting health server", slog.String("port", s.Config.HealthPort))
		if err := s.HealthServer.Start(ctx); err != nil {
			s.Logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	go s.Broker.Run(ctx)

	s.Logger.Info("genesis bus listening",
		slog.String("address", s.Listener.Addr().String()),
		slog.String("component", s.Config.ComponentID),
		slog.Int("domain_id", s.Config.DomainID),
	)

	return s.GRPC.Serve(s.Listener)
}

// Shutdown gracefully stops the gRPC server, health server, and
// observability pipeline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "shutting down genesis bus")
	s.GRPC.GracefulStop()

	if err := s.HealthServer.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "error shutting down health server", slog.Any("error", err))
	}

	if err := s.Observability.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "observability shutdown failed", slog.Any("error", err))
		return err
	}
	return nil
}
