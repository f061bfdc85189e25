package svc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-framework/genesis/internal/participant"
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

const addParamSchema = `{
	"type": "object",
	"required": ["x", "y"],
	"properties": {
		"x": {"type": "number"},
		"y": {"type": "number"}
	}
}`

func newRunningTestService(t *testing.T, busAddr, serviceName string) *Service {
	t.Helper()
	svc, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: serviceName,
	}, Config{ServiceName: serviceName, LeaseSeconds: 10})
	require.NoError(t, err)

	_, err = svc.RegisterFunction("add", "adds two numbers", addParamSchema, nil, "query", func(ctx context.Context, params json.RawMessage, meta RequestMeta) (any, error) {
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
		_ = svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the service a moment to advertise before the caller dials out.
	time.Sleep(100 * time.Millisecond)
	return svc
}

// call publishes a FunctionRequest directly against serviceName's request
// topic and waits for the correlated FunctionReply, the same pattern the
// Agent's Requester half uses.
func call(t *testing.T, caller *participant.Participant, serviceName, functionID, paramsJSON string) wire.FunctionReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	requestID := fmt.Sprintf("req-%s", functionID)
	replyTopic := participant.ReplyTopic(serviceName)
	sub, err := caller.Client.Subscribe(ctx, replyTopic, map[string]string{"instance_key": requestID})
	require.NoError(t, err)

	req := wire.FunctionRequest{RequestID: requestID, FunctionID: functionID, ParametersJSON: paramsJSON}
	env, err := wire.Pack(participant.RequestTopic(serviceName), req, map[string]string{"instance_key": requestID})
	require.NoError(t, err)
	require.NoError(t, caller.Client.Publish(ctx, env))

	replyEnv, err := sub.Next()
	require.NoError(t, err)

	var reply wire.FunctionReply
	require.NoError(t, replyEnv.Unpack(&reply))
	return reply
}

func TestService_CallRoundTrip(t *testing.T) {
	busAddr := startTestBroker(t)
	svc := newRunningTestService(t, busAddr, "arithmetic")

	svc.mu.RLock()
	var functionID string
	for id := range svc.functions {
		functionID = id
	}
	svc.mu.RUnlock()
	require.NotEmpty(t, functionID)

	caller := newTestCaller(t, busAddr, "caller")
	reply := call(t, caller, "arithmetic", functionID, `{"x": 2, "y": 3}`)

	assert.True(t, reply.Success)
	assert.Equal(t, "5", reply.ResultJSON)
}

func TestService_RejectsSchemaViolation(t *testing.T) {
	busAddr := startTestBroker(t)
	svc := newRunningTestService(t, busAddr, "arithmetic2")

	svc.mu.RLock()
	var functionID string
	for id := range svc.functions {
		functionID = id
	}
	svc.mu.RUnlock()

	caller := newTestCaller(t, busAddr, "caller")
	reply := call(t, caller, "arithmetic2", functionID, `{"x": "not-a-number"}`)

	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.ErrorMessage)
}

func TestService_UnknownFunctionIDFails(t *testing.T) {
	busAddr := startTestBroker(t)
	_ = newRunningTestService(t, busAddr, "arithmetic3")

	caller := newTestCaller(t, busAddr, "caller")
	reply := call(t, caller, "arithmetic3", "does-not-exist", `{"x": 1, "y": 1}`)

	assert.False(t, reply.Success)
	assert.Contains(t, reply.ErrorMessage, "unknown function")
}

func TestService_ImplementationErrorSurfacesAsFailureReply(t *testing.T) {
	busAddr := startTestBroker(t)
	svc, err := New(&transport.Config{
		BusAddr:     busAddr,
		HealthPort:  "0",
		ComponentID: "divider",
	}, Config{ServiceName: "divider", LeaseSeconds: 10})
	require.NoError(t, err)

	functionID, err := svc.RegisterFunction("divide", "divides two numbers", addParamSchema, nil, "query", func(ctx context.Context, params json.RawMessage, meta RequestMeta) (any, error) {
		var args struct{ X, Y float64 }
		require.NoError(t, json.Unmarshal(params, &args))
		if args.Y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return args.X / args.Y, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	caller := newTestCaller(t, busAddr, "caller")
	reply := call(t, caller, "divider", functionID, `{"x": 1, "y": 0}`)

	assert.False(t, reply.Success)
	assert.Contains(t, reply.ErrorMessage, "division by zero")

	// A failed call must leave the state machine back at READY, not stuck
	// DEGRADED (§4.7).
	assert.Eventually(t, func() bool {
		return svc.sm.Current() == wire.StateReady
	}, time.Second, 10*time.Millisecond)
}

// TestService_PoolFanOutServesEachRequestExactlyOnce covers scenario 6: two
// instances of the same service_name both advertise add (sharing one
// function_id, since neither sets InstanceID and it defaults to
// ServiceName); fifty sequential requests must each be served by exactly one
// instance, never both.
func TestService_PoolFanOutServesEachRequestExactlyOnce(t *testing.T) {
	busAddr := startTestBroker(t)

	var servedA, servedB int64
	newPoolMember := func(componentID string, counter *int64) *Service {
		s, err := New(&transport.Config{
			BusAddr:     busAddr,
			HealthPort:  "0",
			ComponentID: componentID,
		}, Config{ServiceName: "pool-arithmetic", LeaseSeconds: 10})
		require.NoError(t, err)

		_, err = s.RegisterFunction("add", "adds two numbers", addParamSchema, nil, "query", func(ctx context.Context, params json.RawMessage, meta RequestMeta) (any, error) {
			atomic.AddInt64(counter, 1)
			var args struct{ X, Y float64 }
			if err := json.Unmarshal(params, &args); err != nil {
				return nil, err
			}
			return args.X + args.Y, nil
		})
		require.NoError(t, err)
		return s
	}

	a := newPoolMember("pool-a", &servedA)
	b := newPoolMember("pool-b", &servedB)

	require.Equal(t, poolFunctionID(t, a), poolFunctionID(t, b), "both instances must derive the same function_id for the same instance identity")
	functionID := poolFunctionID(t, a)

	for _, s := range []*Service{a, b} {
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
	time.Sleep(150 * time.Millisecond)

	caller := newTestCaller(t, busAddr, "pool-caller")
	for i := 0; i < 50; i++ {
		requestID := fmt.Sprintf("pool-req-%d", i)
		reply := callWithRequestID(t, caller, "pool-arithmetic", requestID, functionID, `{"x": 1, "y": 1}`)
		require.True(t, reply.Success)
	}

	total := atomic.LoadInt64(&servedA) + atomic.LoadInt64(&servedB)
	assert.Equal(t, int64(50), total, "every request must be served by exactly one pool member")
	assert.Greater(t, atomic.LoadInt64(&servedA), int64(0), "round-robin anycast should use both pool members")
	assert.Greater(t, atomic.LoadInt64(&servedB), int64(0), "round-robin anycast should use both pool members")
}

func poolFunctionID(t *testing.T, s *Service) string {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.functions {
		return id
	}
	t.Fatal("service has no registered functions")
	return ""
}

func callWithRequestID(t *testing.T, caller *participant.Participant, serviceName, requestID, functionID, paramsJSON string) wire.FunctionReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	replyTopic := participant.ReplyTopic(serviceName)
	sub, err := caller.Client.Subscribe(ctx, replyTopic, map[string]string{"instance_key": requestID})
	require.NoError(t, err)

	req := wire.FunctionRequest{RequestID: requestID, FunctionID: functionID, ParametersJSON: paramsJSON}
	env, err := wire.Pack(participant.RequestTopic(serviceName), req, map[string]string{"instance_key": requestID})
	require.NoError(t, err)
	require.NoError(t, caller.Client.Publish(ctx, env))

	replyEnv, err := sub.Next()
	require.NoError(t, err)

	var reply wire.FunctionReply
	require.NoError(t, replyEnv.Unpack(&reply))
	return reply
}
