package transport

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/genesis-framework/genesis/internal/observability"
	"github.com/genesis-framework/genesis/internal/wire"
)

// Client is the handle every Participant uses to publish and subscribe to
// the bus, generalizing the teacher's AgentHubClient.
type Client struct {
	Bus            BusClient
	Connection     *grpc.ClientConn
	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger
	Config         *Config
}

// NewClient dials config.BusAddr and wires up observability.
func NewClient(config *Config) (*Client, error) {
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

	conn, err := grpc.NewClient(config.BusAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connect to bus at %s: %w", config.BusAddr, err)
	}

	healthServer.AddChecker("bus_connection", observability.NewGRPCHealthChecker("bus_connection", config.BusAddr))

	return &Client{
		Bus:            NewBusClient(conn),
		Connection:     conn,
		Observability:  obs,
		TraceManager:   traceManager,
		MetricsManager: metricsManager,
		HealthServer:   healthServer,
		Logger:         obs.Logger,
		Config:         config,
	}, nil
}

// Start starts the client's health server.
func (c *Client) Start(ctx context.Context) error {
	go func() {
		c.Logger.Info("starting health server", slog.String("port", c.Config.HealthPort))
		if err := c.HealthServer.Start(ctx); err != nil {
			c.Logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	c.Logger.InfoContext(ctx, "genesis client started",
		slog.String("bus_addr", c.Config.BusAddr),
		slog.String("component", c.Config.ComponentID),
	)
	return nil
}

// Shutdown closes the connection and observability pipeline.
func (c *Client) Shutdown(ctx context.Context) error {
	c.Logger.InfoContext(ctx, "shutting down genesis client")
	if err := c.Connection.Close(); err != nil {
		c.Logger.ErrorContext(ctx, "error closing bus connection", slog.Any("error", err))
	}
	if err := c.HealthServer.Shutdown(ctx); err != nil {
		c.Logger.ErrorContext(ctx, "error shutting down health server", slog.Any("error", err))
	}
	if err := c.Observability.Shutdown(ctx); err != nil {
		c.Logger.ErrorContext(ctx, "observability shutdown failed", slog.Any("error", err))
		return err
	}
	return nil
}

// Publish packs env and sends it through Publish.
func (c *Client) Publish(ctx context.Context, env *wire.Envelope) error {
	s, err := env.ToStruct()
	if err != nil {
		return err
	}
	_, err = c.Bus.Publish(ctx, s)
	if err != nil {
		return fmt.Errorf("transport: publish to topic %q: %w", env.Topic, err)
	}
	return nil
}

// Subscription is a live handle to a Subscribe stream, yielding decoded
// envelopes from Next() until the context is cancelled.
type Subscription struct {
	stream BusSubscribeClient
}

// Subscribe opens a Subscribe stream for topic, optionally filtered by
// selector (attribute equality match).
func (c *Client) Subscribe(ctx context.Context, topic string, selector map[string]string) (*Subscription, error) {
	fields := map[string]any{"topic": topic}
	if len(selector) > 0 {
		sel := make(map[string]any, len(selector))
		for k, v := range selector {
			sel[k] = v
		}
		fields["selector"] = sel
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("transport: build subscribe request for topic %q: %w", topic, err)
	}
	stream, err := c.Bus.Subscribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe to topic %q: %w", topic, err)
	}
	return &Subscription{stream: stream}, nil
}

// Next blocks for the next envelope on the subscription, returning the
// stream's Recv error unwrapped (io.EOF when the stream ends).
func (s *Subscription) Next() (*wire.Envelope, error) {
	st, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return wire.EnvelopeFromStruct(st)
}
