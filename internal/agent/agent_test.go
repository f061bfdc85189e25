package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-framework/genesis/internal/agent/llm"
	"github.com/genesis-framework/genesis/internal/participant"
	"github.com/genesis-framework/genesis/internal/registry"
	"github.com/genesis-framework/genesis/internal/svc"
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

const addParamSchema = `{
	"type": "object",
	"required": ["x", "y"],
	"properties": {
		"x": {"type": "number"},
		"y": {"type": "number"}
	}
}`

func startTestService(t *testing.T, busAddr, serviceName string) {
	t.Helper()
	s, err := svc.New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: serviceName,
	}, svc.Config{ServiceName: serviceName, LeaseSeconds: 10})
	require.NoError(t, err)

	_, err = s.RegisterFunction("add", "adds two numbers", addParamSchema, nil, "query", func(ctx context.Context, params json.RawMessage, meta svc.RequestMeta) (any, error) {
		var args struct{ X, Y float64 }
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return args.X + args.Y, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// startArithmeticService registers both add and multiply under one
// service_name, for tests that need a multi-step tool-calling pipeline.
func startArithmeticService(t *testing.T, busAddr, serviceName string) {
	t.Helper()
	s, err := svc.New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: serviceName,
	}, svc.Config{ServiceName: serviceName, LeaseSeconds: 10})
	require.NoError(t, err)

	_, err = s.RegisterFunction("add", "adds two numbers", addParamSchema, nil, "query", func(ctx context.Context, params json.RawMessage, meta svc.RequestMeta) (any, error) {
		var args struct{ X, Y float64 }
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return args.X + args.Y, nil
	})
	require.NoError(t, err)

	_, err = s.RegisterFunction("multiply", "multiplies two numbers", addParamSchema, nil, "query", func(ctx context.Context, params json.RawMessage, meta svc.RequestMeta) (any, error) {
		var args struct{ X, Y float64 }
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		return args.X * args.Y, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitForCapability blocks until name is present in reg, deterministically
// driven by the registry's own change feed rather than a fixed sleep.
func waitForCapability(t *testing.T, reg *registry.Registry, name string) {
	t.Helper()
	if len(reg.GetByName(name)) > 0 {
		return
	}
	ch, unsubscribe := reg.Subscribe()
	defer unsubscribe()
	if len(reg.GetByName(name)) > 0 {
		return
	}
	for {
		select {
		case change := <-ch:
			if change.Kind == registry.Added && change.Capability.Name == name {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for capability %q to be discovered", name)
		}
	}
}

func TestAgent_ProcessInvokesServiceAndReturnsFinalText(t *testing.T) {
	busAddr := startTestBroker(t)
	startTestService(t, busAddr, "arithmetic")

	ag, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "assistant",
	}, Config{ServiceName: "assistant", LeaseSeconds: 10},
		llm.KeywordClassifier(),
		llm.SingleToolExecutor("add", []byte(`{"x":2,"y":3}`)),
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

	waitForCapability(t, ag.Registry(), "add")

	reply, err := ag.Process(context.Background(), "please add 2 and 3", "ctx-1", "tester")
	require.NoError(t, err)
	assert.Equal(t, "Result: 5", reply)
}

func TestAgent_UnknownToolNameSurfacesAsToolError(t *testing.T) {
	busAddr := startTestBroker(t)

	ag, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "assistant2",
	}, Config{ServiceName: "assistant2", LeaseSeconds: 10},
		llm.KeywordClassifier(),
		llm.SingleToolExecutor("subtract", []byte(`{"x":1,"y":1}`)),
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

	reply, err := ag.Process(context.Background(), "subtract 1 from 1", "ctx-1", "tester")
	require.NoError(t, err, "an unresolvable tool name is reported back as a tool result, not a pipeline error")
	assert.Contains(t, reply, "unknown")
}

func TestAgent_SessionHistoryAccumulatesAcrossCalls(t *testing.T) {
	busAddr := startTestBroker(t)
	startTestService(t, busAddr, "arithmetic2")

	ag, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "assistant3",
	}, Config{ServiceName: "assistant3", LeaseSeconds: 10},
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

	waitForCapability(t, ag.Registry(), "add")

	_, err = ag.Process(context.Background(), "hello", "ctx-a", "tester")
	require.NoError(t, err)
	_, err = ag.Process(context.Background(), "hello again", "ctx-a", "tester")
	require.NoError(t, err)

	history, err := ag.sessions.Get("ctx-a")
	require.NoError(t, err)
	// Two user turns plus two agent replies.
	assert.Len(t, history.Messages, 4)
}

// TestAgent_MultiStepToolCallsShareOneChainID covers scenario 2's
// "(3+4)*5" pipeline: add is invoked in turn 0 and multiply in turn 1,
// driven by two separate Execute calls, but both must carry the same
// chain_id while getting distinct call_ids.
func TestAgent_MultiStepToolCallsShareOneChainID(t *testing.T) {
	busAddr := startTestBroker(t)
	startArithmeticService(t, busAddr, "arithmetic3")

	turn := 0
	executor := &llm.MockExecutor{
		ExecuteFunc: func(ctx context.Context, in llm.ExecutorInput) (*llm.ExecutorOutput, error) {
			defer func() { turn++ }()
			switch turn {
			case 0:
				return &llm.ExecutorOutput{ToolCalls: []llm.ToolCall{{Name: "add", Params: []byte(`{"x":3,"y":4}`)}}}, nil
			case 1:
				return &llm.ExecutorOutput{ToolCalls: []llm.ToolCall{{Name: "multiply", Params: []byte(`{"x":7,"y":5}`)}}}, nil
			default:
				return &llm.ExecutorOutput{FinalText: "Result: 35"}, nil
			}
		},
	}

	ag, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "assistant4",
	}, Config{ServiceName: "assistant4", LeaseSeconds: 10}, llm.KeywordClassifier(), executor)
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
	waitForCapability(t, ag.Registry(), "add")
	waitForCapability(t, ag.Registry(), "multiply")

	observer := newTestCaller(t, busAddr, "observer")
	sub, err := observer.Client.Subscribe(context.Background(), participant.TopicChainEvent, nil)
	require.NoError(t, err)

	reply, err := ag.Process(context.Background(), "add 3 and 4 then multiply by 5", "ctx-chain", "tester")
	require.NoError(t, err)
	assert.Equal(t, "Result: 35", reply)

	// Both the Agent (before the RPC) and the Service (on receipt) publish a
	// CALL_START for the same invocation, so filter down to the Agent's own
	// publications — one per distinct tool call — rather than counting every
	// echo of the same call twice.
	var starts []wire.ChainEvent
	seenTargets := make(map[string]bool)
	for len(starts) < 2 {
		env, err := sub.Next()
		require.NoError(t, err)
		var ev wire.ChainEvent
		require.NoError(t, env.Unpack(&ev))
		if ev.EventType != wire.CallStart || ev.SourceID != "assistant4" || seenTargets[ev.TargetID] {
			continue
		}
		seenTargets[ev.TargetID] = true
		starts = append(starts, ev)
	}

	require.Len(t, starts, 2)
	assert.Equal(t, starts[0].ChainID, starts[1].ChainID, "one end-user request must keep one chain_id across every tool-call turn")
	assert.NotEqual(t, starts[0].CallID, starts[1].CallID, "each tool invocation still gets its own call_id")
}

func newTestCaller(t *testing.T, busAddr, componentID string) *participant.Participant {
	t.Helper()
	p, err := participant.New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: componentID,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}
