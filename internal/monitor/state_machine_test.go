package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-framework/genesis/internal/participant"
	"github.com/genesis-framework/genesis/internal/transport"
	"github.com/genesis-framework/genesis/internal/wire"
)

// startTestBroker brings up a real Bus server on an OS-assigned loopback
// port so state machine transitions can be exercised against a live
// Participant instead of a mock.
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

func newTestParticipant(t *testing.T, busAddr, componentID string) *participant.Participant {
	t.Helper()
	p, err := participant.New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: componentID,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close(context.Background())
	})
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestStateMachine_HappyPath(t *testing.T) {
	busAddr := startTestBroker(t)
	p := newTestParticipant(t, busAddr, "test-component")
	sm := NewStateMachine(New(p, "test-component", "service"))
	ctx := context.Background()

	assert.Equal(t, wire.StateJoining, sm.Current())

	require.NoError(t, sm.Transition(ctx, wire.StateDiscovering, wire.CategoryAgentInit, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateReady, wire.CategoryAgentReady, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateBusy, wire.CategoryStateChange, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateDegraded, wire.CategoryStateChange, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateOffline, wire.CategoryAgentShutdown, nil))
	assert.Equal(t, wire.StateOffline, sm.Current())
}

func TestStateMachine_RejectsOutOfOrderTransition(t *testing.T) {
	busAddr := startTestBroker(t)
	p := newTestParticipant(t, busAddr, "test-component")
	sm := NewStateMachine(New(p, "test-component", "service"))
	ctx := context.Background()

	// JOINING can only go to DISCOVERING; jumping straight to READY or BUSY
	// must be rejected rather than silently accepted (§4.7, §8).
	err := sm.Transition(ctx, wire.StateReady, wire.CategoryAgentReady, nil)
	require.Error(t, err)
	assert.Equal(t, wire.StateJoining, sm.Current(), "current state must not change on a rejected transition")

	err = sm.Transition(ctx, wire.StateBusy, wire.CategoryStateChange, nil)
	require.Error(t, err)
}

func TestStateMachine_OfflineIsTerminal(t *testing.T) {
	busAddr := startTestBroker(t)
	p := newTestParticipant(t, busAddr, "test-component")
	sm := NewStateMachine(New(p, "test-component", "service"))
	ctx := context.Background()

	require.NoError(t, sm.Transition(ctx, wire.StateDiscovering, wire.CategoryAgentInit, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateReady, wire.CategoryAgentReady, nil))
	require.NoError(t, sm.Transition(ctx, wire.StateOffline, wire.CategoryAgentShutdown, nil))

	assert.Error(t, sm.Transition(ctx, wire.StateReady, wire.CategoryAgentReady, nil))
	assert.Error(t, sm.Transition(ctx, wire.StateDiscovering, wire.CategoryAgentInit, nil))
}
