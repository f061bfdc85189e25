package iface

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-framework/genesis/internal/agent"
	"github.com/genesis-framework/genesis/internal/agent/llm"
	"github.com/genesis-framework/genesis/internal/transport"
	"github.com/genesis-framework/genesis/internal/wire"
)

func startTestBroker(t *testing.T) string {
	t.Helper()
	server, err := transport.NewServer(&transport.Config{
		ListenAddr:  "127.0.0.1:0",
		HealthPort:  "0",
		ComponentID: "test-broker",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = server.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return server.Listener.Addr().String()
}

func startTestAgent(t *testing.T, busAddr, serviceName string) {
	t.Helper()
	ag, err := agent.New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: serviceName,
	}, agent.Config{ServiceName: serviceName, LeaseSeconds: 10},
		llm.NewMockClassifier(),
		llm.NewMockExecutor(),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ag.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestInterface_DiscoversAgentWithoutPolling(t *testing.T) {
	busAddr := startTestBroker(t)

	var mu sync.Mutex
	var added []wire.AgentRegistration

	ifc, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "cli",
	}, Config{InstanceID: "cli"}, func(reg wire.AgentRegistration) {
		mu.Lock()
		added = append(added, reg)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ifc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	startTestAgent(t, busAddr, "assistant")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(added) == 1 && added[0].ServiceName == "assistant"
	}, 3*time.Second, 20*time.Millisecond, "the registration callback must fire from the subscriber delivery path, never a poll loop")
}

func TestInterface_ConnectToAgentThenSend(t *testing.T) {
	busAddr := startTestBroker(t)
	startTestAgent(t, busAddr, "assistant2")

	ifc, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "cli2",
	}, Config{InstanceID: "cli2", ConnectTimeoutSeconds: 5}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ifc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	handle, err := ifc.ConnectToAgent(context.Background(), "assistant2")
	require.NoError(t, err)

	reply, err := handle.Send(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Contains(t, reply, "hello there")
}

func TestInterface_ConnectToAgentTimesOutWhenAbsent(t *testing.T) {
	busAddr := startTestBroker(t)

	ifc, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "cli3",
	}, Config{InstanceID: "cli3", ConnectTimeoutSeconds: 1}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ifc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	_, err = ifc.ConnectToAgent(context.Background(), "never-registers")
	assert.ErrorIs(t, err, ErrConnectTimeout)
}
