// Command agent runs the reference Agent: it classifies against whatever
// capabilities the Capability Registry currently holds and drives the
// arithmetic demo executor's classify/execute/RPC loop (§4.5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/genesis-framework/genesis/internal/agent"
	"github.com/genesis-framework/genesis/internal/agent/llm"
	"github.com/genesis-framework/genesis/internal/transport"
)

func main() {
	var serviceName, preferredName string
	var defaultCapable bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the GENESIS reference agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(serviceName, preferredName, defaultCapable)
		},
	}
	cmd.Flags().StringVar(&serviceName, "service-name", "assistant", "RPC channel identifier this agent advertises under")
	cmd.Flags().StringVar(&preferredName, "preferred-name", "Assistant", "human-facing name advertised on the registration topic")
	cmd.Flags().BoolVar(&defaultCapable, "default-capable", true, "mark this agent as a reasonable default for Interfaces that haven't chosen one")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(serviceName, preferredName string, defaultCapable bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transportCfg := transport.NewConfig(serviceName)
	a, err := agent.New(transportCfg, agent.Config{
		ServiceName:    serviceName,
		PreferredName:  preferredName,
		DefaultCapable: defaultCapable,
	}, llm.NewMockClassifier(), NewArithmeticExecutor())
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := a.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "agent: shutdown error: %v\n", err)
		}
	}()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}
