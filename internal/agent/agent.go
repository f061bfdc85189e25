// Package agent implements the Agent Base: announces itself on the
// registration topic, stands up a Replier for agent-to-agent RPC, maintains
// a Requester to call Services, and runs the two-stage classify/execute
// function-calling pipeline (§4.5).
package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genesis-framework/genesis/internal/agent/llm"
	"github.com/genesis-framework/genesis/internal/agent/session"
	"github.com/genesis-framework/genesis/internal/monitor"
	"github.com/genesis-framework/genesis/internal/participant"
	"github.com/genesis-framework/genesis/internal/registry"
	"github.com/genesis-framework/genesis/internal/transport"
	"github.com/genesis-framework/genesis/internal/wire"
)

// Agent is one running Agent Base instance.
type Agent struct {
	participant *participant.Participant
	monitor     *monitor.Publisher
	sm          *monitor.StateMachine
	registry    *registry.Registry
	sessions    session.Manager
	classifier  llm.Classifier
	executor    llm.Executor
	cfg         Config

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds an Agent bound to transportConfig.
func New(transportConfig *transport.Config, cfg Config, classifier llm.Classifier, executor llm.Executor) (*Agent, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, ErrMissingClassifier
	}
	if executor == nil {
		return nil, ErrMissingExecutor
	}

	p, err := participant.New(transportConfig)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	return &Agent{
		participant: p,
		monitor:     monitor.New(p, cfg.InstanceID, "agent"),
		sm:          monitor.NewStateMachine(monitor.New(p, cfg.InstanceID, "agent")),
		registry:    registry.New(p.Logger),
		sessions:    session.NewInMemoryManager(),
		classifier:  classifier,
		executor:    executor,
		cfg:         cfg,
	}, nil
}

// Run advertises the agent, starts the capability-registry feed and
// agent-to-agent Replier, and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.runMu.Unlock()

	if err := a.participant.Start(ctx); err != nil {
		return fmt.Errorf("agent: start participant: %w", err)
	}

	if err := a.sm.Transition(ctx, wire.StateDiscovering, wire.CategoryAgentInit, nil); err != nil {
		return err
	}

	if err := a.feedRegistry(ctx); err != nil {
		return fmt.Errorf("agent: subscribe FunctionCapability: %w", err)
	}

	if err := a.advertise(ctx); err != nil {
		return fmt.Errorf("agent: advertise: %w", err)
	}

	if err := a.sm.Transition(ctx, wire.StateReady, wire.CategoryAgentReady, nil); err != nil {
		return err
	}

	go a.heartbeatLoop(ctx)

	return a.serve(ctx)
}

// feedRegistry subscribes to FunctionCapability and mutates the registry
// cache from the delivery goroutine, never on a user-level await (§5).
func (a *Agent) feedRegistry(ctx context.Context) error {
	sub, err := a.participant.Client.Subscribe(ctx, participant.TopicFunctionCapability, nil)
	if err != nil {
		return err
	}
	go func() {
		for {
			env, err := sub.Next()
			if err != nil {
				return
			}
			a.registry.OnEnvelope(env)
		}
	}()
	return nil
}

func (a *Agent) advertise(ctx context.Context) error {
	reg := wire.AgentRegistration{
		AgentID:        a.cfg.InstanceID,
		PreferredName:  a.cfg.PreferredName,
		ServiceName:    a.cfg.ServiceName,
		DefaultCapable: a.cfg.DefaultCapable,
		Alive:          true,
	}
	env, err := wire.Pack(participant.TopicRegistration, reg, map[string]string{
		"durability":    "transient_local",
		"instance_key":  a.cfg.InstanceID,
		"lease_seconds": strconv.Itoa(a.cfg.LeaseSeconds),
	})
	if err != nil {
		return err
	}
	return a.participant.Client.Publish(ctx, env)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.LeaseSeconds) * time.Second / 2
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.advertise(ctx); err != nil {
				a.participant.Logger.WarnContext(ctx, "registration heartbeat failed", "agent_id", a.cfg.InstanceID, "error", err)
			}
		}
	}
}

// serve runs the agent-to-agent Replier loop, translating each AgentRequest
// into a process() call and publishing the AgentReply.
func (a *Agent) serve(ctx context.Context) error {
	reqTopic := participant.RequestTopic(a.cfg.ServiceName)
	sub, err := a.participant.Client.Subscribe(ctx, reqTopic, nil)
	if err != nil {
		return fmt.Errorf("agent: subscribe to %s: %w", reqTopic, err)
	}

	for {
		env, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("agent: receive request: %w", err)
		}
		// Handled in-line, not in a spawned goroutine: the shared
		// StateMachine only models one in-flight request at a time (§5's
		// single-threaded cooperative serving), so concurrent requests would
		// race each other's READY->BUSY->READY transitions.
		a.handleAgentRequest(ctx, env)
	}
}

func (a *Agent) handleAgentRequest(ctx context.Context, env *wire.Envelope) {
	var req wire.AgentRequest
	if err := env.Unpack(&req); err != nil {
		a.participant.Logger.WarnContext(ctx, "agent: skipping malformed request envelope", "error", err)
		return
	}

	replyText, err := a.Process(ctx, req.Text, req.ContextID, req.CallerID)
	reply := wire.AgentReply{RequestID: req.RequestID, Text: replyText, Success: err == nil}
	if err != nil {
		reply.Error = err.Error()
	}

	replyTopic := participant.ReplyTopic(a.cfg.ServiceName)
	out, packErr := wire.Pack(replyTopic, reply, map[string]string{"instance_key": req.RequestID})
	if packErr != nil {
		a.participant.Logger.ErrorContext(ctx, "agent: failed to pack reply", "request_id", req.RequestID, "error", packErr)
		return
	}
	if err := a.participant.Client.Publish(ctx, out); err != nil {
		a.participant.Logger.ErrorContext(ctx, "agent: failed to publish reply", "request_id", req.RequestID, "error", err)
	}
}

// Process is the heart of the pipeline (§4.5): classify relevant
// capabilities, run the executor loop, and return its final text.
func (a *Agent) Process(ctx context.Context, requestText, contextID, callerID string) (string, error) {
	if err := a.sm.Transition(ctx, wire.StateBusy, wire.CategoryStateChange, map[string]string{"context_id": contextID}); err != nil {
		a.participant.Logger.WarnContext(ctx, "lifecycle transition failed", "error", err)
	}

	var history []session.Message
	if err := a.sessions.WithLock(contextID, func(s *session.ConversationState) error {
		s.Messages = append(s.Messages, session.Message{Role: session.RoleUser, Text: requestText})
		history = append(history, s.Messages...)
		return nil
	}); err != nil {
		_ = a.sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, nil)
		return "", fmt.Errorf("agent: load session %q: %w", contextID, err)
	}

	replyText, procErr := a.runPipeline(ctx, requestText, contextID, callerID, history)

	if procErr != nil {
		_ = a.sm.Transition(ctx, wire.StateDegraded, wire.CategoryStateChange, map[string]string{"error": procErr.Error()})
		_ = a.sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, nil)
		return "", procErr
	}

	_ = a.sessions.WithLock(contextID, func(s *session.ConversationState) error {
		s.Messages = append(s.Messages, session.Message{Role: session.RoleAgent, Text: replyText})
		return nil
	})

	if err := a.sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, nil); err != nil {
		a.participant.Logger.WarnContext(ctx, "lifecycle transition failed", "error", err)
	}
	return replyText, nil
}

func (a *Agent) runPipeline(ctx context.Context, requestText, contextID, callerID string, history []session.Message) (string, error) {
	capabilities := a.registry.GetAll()

	names, err := a.classify(ctx, requestText, history, capabilities)
	if err != nil {
		a.participant.Logger.WarnContext(ctx, "classifier failed, falling back to full function list", "error", err)
		names = nil
		for _, c := range capabilities {
			names = append(names, c.Name)
		}
	}

	selected := selectByName(capabilities, names)
	tools := make([]llm.ToolDefinition, 0, len(selected))
	for _, c := range selected {
		tools = append(tools, llm.ToolDefinition{Name: c.Name, Description: c.Description, ParameterSchema: c.ParameterSchema})
	}

	// One end-user request is one chain: chain_id must stay identical across
	// every tool-call turn this pipeline run makes, even when those turns
	// invoke different functions (§3, §8 scenario 2).
	chainID := uuid.New().String()

	var toolResults []llm.ToolResult
	for turn := 0; turn < a.cfg.MaxToolTurns; turn++ {
		out, err := a.executor.Execute(ctx, llm.ExecutorInput{
			RequestText: requestText,
			History:     history,
			Tools:       tools,
			ToolResults: toolResults,
		})
		if err != nil {
			return "", fmt.Errorf("agent: executor: %w", err)
		}
		if out.Done() {
			return out.FinalText, nil
		}
		if len(out.ToolCalls) == 0 {
			return out.FinalText, nil
		}

		toolResults = nil
		for _, call := range out.ToolCalls {
			result := a.invokeTool(ctx, call, selected, contextID, callerID, chainID)
			toolResults = append(toolResults, result)
		}
	}

	return "", fmt.Errorf("agent: exceeded max tool turns (%d)", a.cfg.MaxToolTurns)
}

func (a *Agent) classify(ctx context.Context, requestText string, history []session.Message, capabilities []wire.FunctionCapability) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, time.Duration(a.cfg.ClassifierTimeoutSeconds)*time.Second)
	defer cancel()
	return a.classifier.Classify(cctx, requestText, history, capabilities)
}

func selectByName(capabilities []wire.FunctionCapability, names []string) []wire.FunctionCapability {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	seen := make(map[string]bool)
	var out []wire.FunctionCapability
	for _, c := range capabilities {
		if wanted[c.Name] && !seen[c.FunctionID] {
			out = append(out, c)
			seen[c.FunctionID] = true
		}
	}
	return out
}

// invokeTool resolves call.Name to a capability, sends a FunctionRequest,
// and waits (with timeout) for the correlated FunctionReply, surfacing a
// synthetic failure tool-result rather than ever returning an error up the
// pipeline (§4.5 edge cases).
func (a *Agent) invokeTool(ctx context.Context, call llm.ToolCall, capabilities []wire.FunctionCapability, contextID, callerID, chainID string) llm.ToolResult {
	var target *wire.FunctionCapability
	for i := range capabilities {
		if capabilities[i].Name == call.Name {
			target = &capabilities[i]
			break
		}
	}
	if target == nil {
		return llm.ToolResult{Name: call.Name, Error: fmt.Sprintf("%s: %s", ErrUnknownToolName, call.Name)}
	}

	requestID := uuid.New().String()
	callID := uuid.New().String()

	_ = a.monitor.PublishChainEvent(ctx, chainID, callID, a.cfg.InstanceID, target.FunctionID, wire.CallStart, "started")

	result, success, errMsg, err := a.callFunction(ctx, target.ServiceName, wire.FunctionRequest{
		RequestID:      requestID,
		FunctionID:     target.FunctionID,
		ParametersJSON: string(call.Params),
		CallerID:       callerID,
		ChainID:        chainID,
		CallID:         callID,
	})

	if err != nil {
		_ = a.monitor.PublishChainEvent(ctx, chainID, callID, a.cfg.InstanceID, target.FunctionID, wire.CallError, "error")
		return llm.ToolResult{Name: call.Name, Error: err.Error()}
	}
	if !success {
		_ = a.monitor.PublishChainEvent(ctx, chainID, callID, a.cfg.InstanceID, target.FunctionID, wire.CallError, "error")
		return llm.ToolResult{Name: call.Name, Error: errMsg}
	}

	_ = a.monitor.PublishChainEvent(ctx, chainID, callID, a.cfg.InstanceID, target.FunctionID, wire.CallComplete, "completed")
	return llm.ToolResult{Name: call.Name, Result: result}
}

// callFunction is the Requester half of the RPC pattern: publish a
// FunctionRequest on serviceName's request topic, then wait on its reply
// topic filtered by request_id until the correlated FunctionReply arrives
// or rpc_timeout_seconds elapses (§4.3, §4.5, §5).
func (a *Agent) callFunction(ctx context.Context, serviceName string, req wire.FunctionRequest) (result string, success bool, errMsg string, err error) {
	timeout := time.Duration(a.cfg.RPCTimeoutSeconds) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replyTopic := participant.ReplyTopic(serviceName)
	sub, err := a.participant.Client.Subscribe(cctx, replyTopic, map[string]string{"instance_key": req.RequestID})
	if err != nil {
		return "", false, "", fmt.Errorf("agent: subscribe to %s: %w", replyTopic, err)
	}

	env, err := wire.Pack(participant.RequestTopic(serviceName), req, map[string]string{"instance_key": req.RequestID})
	if err != nil {
		return "", false, "", err
	}
	if err := a.participant.Client.Publish(cctx, env); err != nil {
		return "", false, "", fmt.Errorf("agent: publish function request: %w", err)
	}

	replyEnv, err := sub.Next()
	if err != nil {
		if cctx.Err() != nil {
			return "", false, "", fmt.Errorf("%w: function %s on %s", ErrRPCTimeout, req.FunctionID, serviceName)
		}
		return "", false, "", fmt.Errorf("agent: receive function reply: %w", err)
	}

	var reply wire.FunctionReply
	if err := replyEnv.Unpack(&reply); err != nil {
		return "", false, "", fmt.Errorf("agent: unpack function reply: %w", err)
	}
	return reply.ResultJSON, reply.Success, reply.ErrorMessage, nil
}

// Close disposes the registration advertisement, stops the serve loop, and
// tears down the Participant.
func (a *Agent) Close(ctx context.Context) error {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return ErrNotRunning
	}
	a.running = false
	cancel := a.cancel
	a.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	dispose := wire.PackDispose(participant.TopicRegistration, map[string]string{
		"durability":   "transient_local",
		"instance_key": a.cfg.InstanceID,
	})
	if err := a.participant.Client.Publish(ctx, dispose); err != nil {
		a.participant.Logger.WarnContext(ctx, "failed to dispose registration", "error", err)
	}

	_ = a.sm.Transition(ctx, wire.StateOffline, wire.CategoryAgentShutdown, nil)
	return a.participant.Close(ctx)
}

// Registry exposes the agent's capability cache for tests and introspection.
func (a *Agent) Registry() *registry.Registry { return a.registry }
