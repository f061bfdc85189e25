// Package svc implements the Service Base: hosts a set of locally
// implemented functions, advertises them as FunctionCapability, serves RPC
// calls, and emits lifecycle/chain monitoring events (§4.3).
//
// A Service never subscribes to the FunctionCapability topic (§4.4): it
// only ever calls Participant.Client.Publish, never Participant.Client.Subscribe
// on that topic, so the "no reader on FunctionCapability" property holds by
// construction — there is simply no code path in this package that opens
// one.
package svc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genesis-framework/genesis/internal/monitor"
	"github.com/genesis-framework/genesis/internal/participant"
	"github.com/genesis-framework/genesis/internal/schema"
	"github.com/genesis-framework/genesis/internal/transport"
	"github.com/genesis-framework/genesis/internal/wire"
)

// functionNamespace scopes the deterministic (UUIDv5) function_id derivation
// so function_id stays stable across restarts of the same service instance
// identity (§3: "FunctionCapability ... created when owning Service
// advertises ... the same function republishes with the same id").
var functionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("genesis.function"))

// Service hosts and serves a set of registered functions.
type Service struct {
	participant *participant.Participant
	monitor     *monitor.Publisher
	sm          *monitor.StateMachine
	cfg         Config

	mu        sync.RWMutex
	functions map[string]*RegisteredFunction

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds a Service bound to transportConfig, joining the bus via a
// fresh Participant.
func New(transportConfig *transport.Config, cfg Config) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := participant.New(transportConfig)
	if err != nil {
		return nil, fmt.Errorf("svc: %w", err)
	}

	return &Service{
		participant: p,
		monitor:     monitor.New(p, cfg.InstanceID, "service"),
		sm:          monitor.NewStateMachine(monitor.New(p, cfg.InstanceID, "service")),
		cfg:         cfg,
		functions:   make(map[string]*RegisteredFunction),
	}, nil
}

// RegisterFunction validates the schema and binds impl under a stable
// function_id derived from the service instance identity and name.
func (s *Service) RegisterFunction(name, description, paramSchema string, capabilities []string, operationType string, impl Implementation) (string, error) {
	if _, err := schema.Parse(paramSchema); err != nil {
		return "", fmt.Errorf("svc: register function %q: %w", name, err)
	}

	functionID := uuid.NewSHA1(functionNamespace, []byte(s.cfg.InstanceID+":"+name)).String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.functions[functionID]; exists {
		return "", fmt.Errorf("svc: register function %q: %w", name, ErrDuplicateFunction)
	}
	s.functions[functionID] = &RegisteredFunction{
		FunctionID:    functionID,
		Name:          name,
		Description:   description,
		ParamSchema:   paramSchema,
		Capabilities:  capabilities,
		OperationType: operationType,
		Impl:          impl,
	}
	return functionID, nil
}

// Run advertises every registered function, then blocks serving
// FunctionRequest samples until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return ErrAlreadyRunning
	}
	s.mu.RLock()
	hasFunctions := len(s.functions) > 0
	s.mu.RUnlock()
	if !hasFunctions {
		s.runMu.Unlock()
		return ErrNoFunctions
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.runMu.Unlock()

	if err := s.participant.Start(ctx); err != nil {
		return fmt.Errorf("svc: start participant: %w", err)
	}

	if err := s.advertiseAll(ctx); err != nil {
		return fmt.Errorf("svc: advertise: %w", err)
	}

	go s.heartbeatLoop(ctx)

	return s.serve(ctx)
}

func (s *Service) advertiseAll(ctx context.Context) error {
	if err := s.sm.Transition(ctx, wire.StateDiscovering, wire.CategoryAgentInit, nil); err != nil {
		return err
	}

	s.mu.RLock()
	functions := make([]*RegisteredFunction, 0, len(s.functions))
	for _, f := range s.functions {
		functions = append(functions, f)
	}
	s.mu.RUnlock()

	for _, f := range functions {
		if err := s.publishCapability(ctx, f); err != nil {
			return err
		}
		state := s.sm.Current()
		if err := s.monitor.PublishLifecycle(ctx, state, state, wire.CategoryNodeDiscovery, map[string]string{
			"function_id": f.FunctionID, "name": f.Name,
		}); err != nil {
			s.participant.Logger.WarnContext(ctx, "failed to publish node discovery event", "error", err)
		}
		if err := s.monitor.PublishLifecycle(ctx, state, state, wire.CategoryEdgeDiscovery, map[string]string{
			"service_guid": s.participant.GUID, "function_id": f.FunctionID,
		}); err != nil {
			s.participant.Logger.WarnContext(ctx, "failed to publish edge discovery event", "error", err)
		}
	}

	return s.sm.Transition(ctx, wire.StateReady, wire.CategoryAgentReady, nil)
}

func (s *Service) publishCapability(ctx context.Context, f *RegisteredFunction) error {
	cap := wire.FunctionCapability{
		FunctionID:      f.FunctionID,
		Name:            f.Name,
		Description:     f.Description,
		ProviderGUID:    s.participant.GUID,
		ParameterSchema: f.ParamSchema,
		Capabilities:    f.Capabilities,
		ServiceName:     s.cfg.ServiceName,
		LastSeen:        time.Now(),
		Alive:           true,
	}
	env, err := wire.Pack(participant.TopicFunctionCapability, cap, map[string]string{
		"durability":    "transient_local",
		"instance_key":  f.FunctionID,
		"lease_seconds": strconv.Itoa(s.cfg.LeaseSeconds),
	})
	if err != nil {
		return err
	}
	return s.participant.Client.Publish(ctx, env)
}

// heartbeatLoop republishes every capability before its lease expires,
// the Go analogue of a DDS writer asserting liveliness.
func (s *Service) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.LeaseSeconds) * time.Second / 2
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
			s.mu.RLock()
			functions := make([]*RegisteredFunction, 0, len(s.functions))
			for _, f := range s.functions {
				functions = append(functions, f)
			}
			s.mu.RUnlock()
			for _, f := range functions {
				if err := s.publishCapability(ctx, f); err != nil {
					s.participant.Logger.WarnContext(ctx, "heartbeat republish failed", "function_id", f.FunctionID, "error", err)
				}
			}
		}
	}
}

func (s *Service) serve(ctx context.Context) error {
	reqTopic := participant.RequestTopic(s.cfg.ServiceName)
	sub, err := s.participant.Client.Subscribe(ctx, reqTopic, nil)
	if err != nil {
		return fmt.Errorf("svc: subscribe to %s: %w", reqTopic, err)
	}

	for {
		env, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("svc: receive request: %w", err)
		}
		// Handled in-line rather than in a spawned goroutine: the shared
		// StateMachine only models one in-flight call at a time (§5's
		// single-threaded cooperative serving), so concurrent requests would
		// race each other's READY->BUSY->READY transitions.
		s.handleRequest(ctx, env)
	}
}

func (s *Service) handleRequest(ctx context.Context, env *wire.Envelope) {
	var req wire.FunctionRequest
	if err := env.Unpack(&req); err != nil {
		s.participant.Logger.WarnContext(ctx, "svc: skipping malformed request envelope", "error", err)
		return
	}

	s.mu.RLock()
	fn, known := s.functions[req.FunctionID]
	s.mu.RUnlock()

	if !known {
		s.reply(ctx, req, false, "", fmt.Sprintf("unknown function: %s", req.FunctionID))
		return
	}

	if s.cfg.StrictSchemaValidation && fn.ParamSchema != "" {
		if err := schema.ValidateJSON(fn.ParamSchema, req.ParametersJSON); err != nil {
			s.reply(ctx, req, false, "", err.Error())
			return
		}
	}

	if err := s.monitor.PublishChainEvent(ctx, req.ChainID, req.CallID, req.CallerID, fn.FunctionID, wire.CallStart, "started"); err != nil {
		s.participant.Logger.WarnContext(ctx, "failed to publish chain start event", "error", err)
	}
	if err := s.sm.Transition(ctx, wire.StateBusy, wire.CategoryStateChange, map[string]string{"function_id": fn.FunctionID}); err != nil {
		s.participant.Logger.WarnContext(ctx, "lifecycle transition failed", "error", err)
	}

	result, invokeErr := fn.Impl(ctx, json.RawMessage(req.ParametersJSON), RequestMeta{
		RequestID: req.RequestID,
		CallerID:  req.CallerID,
		ChainID:   req.ChainID,
		CallID:    req.CallID,
	})

	if invokeErr != nil {
		_ = s.monitor.PublishChainEvent(ctx, req.ChainID, req.CallID, req.CallerID, fn.FunctionID, wire.CallError, "error")
		_ = s.sm.Transition(ctx, wire.StateDegraded, wire.CategoryStateChange, map[string]string{"function_id": fn.FunctionID, "error": invokeErr.Error()})
		_ = s.sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, map[string]string{"function_id": fn.FunctionID})
		s.reply(ctx, req, false, "", invokeErr.Error())
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		_ = s.monitor.PublishChainEvent(ctx, req.ChainID, req.CallID, req.CallerID, fn.FunctionID, wire.CallError, "error")
		_ = s.sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, map[string]string{"function_id": fn.FunctionID})
		s.reply(ctx, req, false, "", fmt.Sprintf("serialize result: %v", err))
		return
	}

	s.reply(ctx, req, true, string(resultJSON), "")
	_ = s.monitor.PublishChainEvent(ctx, req.ChainID, req.CallID, req.CallerID, fn.FunctionID, wire.CallComplete, "completed")
	if err := s.sm.Transition(ctx, wire.StateReady, wire.CategoryStateChange, map[string]string{"function_id": fn.FunctionID}); err != nil {
		s.participant.Logger.WarnContext(ctx, "lifecycle transition failed", "error", err)
	}
}

func (s *Service) reply(ctx context.Context, req wire.FunctionRequest, success bool, resultJSON, errMsg string) {
	reply := wire.FunctionReply{
		RequestID:    req.RequestID,
		ResultJSON:   resultJSON,
		Success:      success,
		ErrorMessage: errMsg,
	}
	replyTopic := participant.ReplyTopic(s.cfg.ServiceName)
	env, err := wire.Pack(replyTopic, reply, map[string]string{
		"instance_key": req.RequestID,
	})
	if err != nil {
		s.participant.Logger.ErrorContext(ctx, "failed to pack reply", "request_id", req.RequestID, "error", err)
		return
	}
	if err := s.participant.Client.Publish(ctx, env); err != nil {
		// Transport failures in reply() are logged and not retried; the
		// requester's own timeout will elapse (§4.3).
		s.participant.Logger.ErrorContext(ctx, "failed to publish reply", "request_id", req.RequestID, "error", err)
	}
}

// Close disposes every capability advertisement, stops the serve loop, and
// tears down the Participant.
func (s *Service) Close(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.mu.RLock()
	functions := make([]*RegisteredFunction, 0, len(s.functions))
	for _, f := range s.functions {
		functions = append(functions, f)
	}
	s.mu.RUnlock()

	for _, f := range functions {
		env := wire.PackDispose(participant.TopicFunctionCapability, map[string]string{
			"durability":   "transient_local",
			"instance_key": f.FunctionID,
		})
		if err := s.participant.Client.Publish(ctx, env); err != nil {
			s.participant.Logger.WarnContext(ctx, "failed to dispose capability", "function_id", f.FunctionID, "error", err)
		}
	}

	_ = s.sm.Transition(ctx, wire.StateOffline, wire.CategoryAgentShutdown, nil)
	return s.participant.Close(ctx)
}

// Logger exposes the service's logger for reference implementations that
// want to log outside the package (e.g. cmd/service).
func (s *Service) Logger() *slog.Logger { return s.participant.Logger }
