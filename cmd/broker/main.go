// Command broker runs the GENESIS bus: the single gRPC process every
// Participant connects to for publish/subscribe, discovery retention, and
// liveliness leasing (§4.1).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genesis-framework/genesis/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := transport.NewConfig("broker")
	server, err := transport.NewServer(cfg)
	if err != nil {
		os.Stderr.WriteString("broker: " + err.Error() + "\n")
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Logger.Error("broker: shutdown error", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		server.Logger.Error("broker: serve error", "error", err)
		os.Exit(1)
	}
}
