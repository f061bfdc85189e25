// Command interface runs the reference Interface Base: a line-oriented CLI
// that discovers agents via registration callbacks, connects to one, and
// relays stdin lines to it as AgentRequests (§4.6).
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/genesis-framework/genesis/internal/iface"
	"github.com/genesis-framework/genesis/internal/transport"
	"github.com/genesis-framework/genesis/internal/wire"
)

func main() {
	var connectTimeout, rpcTimeout int

	cmd := &cobra.Command{
		Use:   "interface [agent-service-name]",
		Short: "Run the GENESIS reference CLI interface",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			return run(target, connectTimeout, rpcTimeout)
		},
	}
	cmd.Flags().IntVar(&connectTimeout, "connect-timeout-seconds", 30, "how long to wait for a matching agent registration")
	cmd.Flags().IntVar(&rpcTimeout, "rpc-timeout-seconds", 30, "how long to wait for each agent reply")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(target string, connectTimeout, rpcTimeout int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transportCfg := transport.NewConfig("interface_cli")

	var defaultTarget string
	onAdded := func(reg wire.AgentRegistration) {
		if reg.DefaultCapable && defaultTarget == "" {
			defaultTarget = reg.ServiceName
		}
		fmt.Printf("\n[discovered agent] %s (%s)\n", reg.PreferredName, reg.ServiceName)
	}
	onRemoved := func(reg wire.AgentRegistration) {
		fmt.Printf("\n[agent offline] %s (%s)\n", reg.PreferredName, reg.ServiceName)
	}

	ifc, err := iface.New(transportCfg, iface.Config{
		InstanceID:            "interface_cli",
		ConnectTimeoutSeconds: connectTimeout,
		RPCTimeoutSeconds:     rpcTimeout,
	}, onAdded, onRemoved)
	if err != nil {
		return fmt.Errorf("interface: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := ifc.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "interface: shutdown error: %v\n", err)
		}
	}()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- ifc.Run(ctx) }()

	if target == "" {
		// Give the registration listener a moment to observe a
		// default-capable agent before giving up with an error.
		time.Sleep(500 * time.Millisecond)
		target = defaultTarget
	}
	if target == "" {
		return fmt.Errorf("interface: no agent-service-name argument given and no default-capable agent discovered yet")
	}

	fmt.Printf("Connecting to agent %q...\n", target)
	handle, err := ifc.ConnectToAgent(ctx, target)
	if err != nil {
		cancel()
		return fmt.Errorf("interface: %w", err)
	}
	fmt.Printf("Connected. Type your messages, or 'quit'/'exit' to leave.\n> ")

	scanner := bufio.NewScanner(os.Stdin)
	exitCode := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			fmt.Print("> ")
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}

		reply, err := handle.Send(ctx, text)
		if err != nil {
			fmt.Printf("error: %v\n> ", err)
			exitCode = 1
			continue
		}
		fmt.Printf("%s\n> ", reply)
	}

	cancel()
	<-runErrCh
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
