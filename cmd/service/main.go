// Command service runs the reference arithmetic Service used by the seed
// end-to-end scenarios (§8): add, multiply, and divide, each validated
// against a number-pair parameter_schema.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/genesis-framework/genesis/internal/svc"
	"github.com/genesis-framework/genesis/internal/transport"
)

const transportShutdownTimeout = 10 * time.Second

const numberPairSchema = `{
	"type": "object",
	"required": ["x", "y"],
	"properties": {
		"x": {"type": "number"},
		"y": {"type": "number"}
	}
}`

type numberPair struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func main() {
	var serviceName string
	var strict bool

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run the GENESIS reference arithmetic service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(serviceName, strict)
		},
	}
	cmd.Flags().StringVar(&serviceName, "service-name", "arithmetic", "RPC channel identifier this service advertises under")
	cmd.Flags().BoolVar(&strict, "strict-schema", true, "validate parameters against parameter_schema before dispatch")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(serviceName string, strict bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transportCfg := transport.NewConfig(serviceName)
	s, err := svc.New(transportCfg, svc.Config{
		ServiceName:            serviceName,
		StrictSchemaValidation: strict,
	})
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}

	if _, err := s.RegisterFunction("add", "adds two numbers", numberPairSchema, []string{"arithmetic"}, "pure", func(ctx context.Context, params json.RawMessage, meta svc.RequestMeta) (any, error) {
		var p numberPair
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return p.X + p.Y, nil
	}); err != nil {
		return err
	}

	if _, err := s.RegisterFunction("multiply", "multiplies two numbers", numberPairSchema, []string{"arithmetic"}, "pure", func(ctx context.Context, params json.RawMessage, meta svc.RequestMeta) (any, error) {
		var p numberPair
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return p.X * p.Y, nil
	}); err != nil {
		return err
	}

	if _, err := s.RegisterFunction("divide", "divides x by y", numberPairSchema, []string{"arithmetic"}, "pure", func(ctx context.Context, params json.RawMessage, meta svc.RequestMeta) (any, error) {
		var p numberPair
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if p.Y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return p.X / p.Y, nil
	}); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), transportShutdownTimeout)
		defer shutdownCancel()
		if err := s.Close(shutdownCtx); err != nil {
			s.Logger().Error("service: shutdown error", "error", err)
		}
	}()

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}
