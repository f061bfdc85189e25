// Package iface implements the Interface Base: discovers Agents via the
// registration topic using a subscriber callback (never polling), connects a
// Requester to a chosen Agent, and translates between an outward-facing
// surface (CLI, bridge, ...) and AgentRequest/AgentReply (§4.6).
package iface

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genesis-framework/genesis/internal/participant"
	"github.com/genesis-framework/genesis/internal/transport"
	"github.com/genesis-framework/genesis/internal/wire"
)

// AddedFunc is invoked from the registration listener's delivery goroutine
// whenever a new agent registration is observed; it must not suspend on a
// user-level await (§5).
type AddedFunc func(wire.AgentRegistration)

// RemovedFunc is invoked when a previously observed registration disposes.
type RemovedFunc func(wire.AgentRegistration)

// Interface is one running Interface Base instance.
type Interface struct {
	participant *participant.Participant
	cfg         Config

	mu     sync.RWMutex
	agents map[string]wire.AgentRegistration // keyed by service_name

	onAdded   AddedFunc
	onRemoved RemovedFunc

	discoveryMu sync.Mutex
	discoveryCh chan struct{} // closed and replaced on every registration add
}

// New builds an Interface bound to transportConfig. onAdded/onRemoved may be
// nil.
func New(transportConfig *transport.Config, cfg Config, onAdded AddedFunc, onRemoved RemovedFunc) (*Interface, error) {
	cfg = cfg.WithDefaults()

	p, err := participant.New(transportConfig)
	if err != nil {
		return nil, fmt.Errorf("iface: %w", err)
	}

	i := &Interface{
		participant: p,
		cfg:         cfg,
		agents:      make(map[string]wire.AgentRegistration),
		onAdded:     onAdded,
		onRemoved:   onRemoved,
		discoveryCh: make(chan struct{}),
	}
	return i, nil
}

// Run starts the transport and the registration listener, and blocks until
// ctx is cancelled.
func (i *Interface) Run(ctx context.Context) error {
	if err := i.participant.Start(ctx); err != nil {
		return fmt.Errorf("iface: start participant: %w", err)
	}

	sub, err := i.participant.Client.Subscribe(ctx, participant.TopicRegistration, nil)
	if err != nil {
		return fmt.Errorf("iface: subscribe to %s: %w", participant.TopicRegistration, err)
	}

	for {
		env, err := sub.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("iface: receive registration: %w", err)
		}
		i.onRegistrationEnvelope(env)
	}
}

func (i *Interface) onRegistrationEnvelope(env *wire.Envelope) {
	if !env.Alive {
		serviceName := env.Attributes["instance_key"]
		i.mu.Lock()
		reg, existed := i.agents[serviceName]
		delete(i.agents, serviceName)
		i.mu.Unlock()
		if existed && i.onRemoved != nil {
			i.onRemoved(reg)
		}
		return
	}

	var reg wire.AgentRegistration
	if err := env.Unpack(&reg); err != nil {
		i.participant.Logger.Warn("iface: skipping malformed registration sample", "error", err)
		return
	}

	i.mu.Lock()
	_, known := i.agents[reg.ServiceName]
	i.agents[reg.ServiceName] = reg
	i.mu.Unlock()

	i.discoveryMu.Lock()
	close(i.discoveryCh)
	i.discoveryCh = make(chan struct{})
	i.discoveryMu.Unlock()

	if !known && i.onAdded != nil {
		i.onAdded(reg)
	}
}

// AgentHandle is a connected Requester aimed at one agent's service_name.
type AgentHandle struct {
	iface       *Interface
	serviceName string
	contextID   string
}

// ConnectToAgent blocks (with timeout) until at least one matching
// registration exists, then returns a handle a Send can be issued through
// (§4.6).
func (i *Interface) ConnectToAgent(ctx context.Context, targetServiceName string) (*AgentHandle, error) {
	deadline := time.Now().Add(time.Duration(i.cfg.ConnectTimeoutSeconds) * time.Second)

	for {
		i.mu.RLock()
		_, ok := i.agents[targetServiceName]
		i.mu.RUnlock()
		if ok {
			return &AgentHandle{iface: i, serviceName: targetServiceName, contextID: uuid.New().String()}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, targetServiceName)
		}

		i.discoveryMu.Lock()
		waitCh := i.discoveryCh
		i.discoveryMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(remaining):
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, targetServiceName)
		case <-waitCh:
		}
	}
}

// Send issues one AgentRequest and waits (with timeout) for the correlated
// AgentReply.
func (h *AgentHandle) Send(ctx context.Context, text string) (string, error) {
	timeout := time.Duration(h.iface.cfg.RPCTimeoutSeconds) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	requestID := uuid.New().String()
	replyTopic := participant.ReplyTopic(h.serviceName)
	sub, err := h.iface.participant.Client.Subscribe(cctx, replyTopic, map[string]string{"instance_key": requestID})
	if err != nil {
		return "", fmt.Errorf("iface: subscribe to %s: %w", replyTopic, err)
	}

	req := wire.AgentRequest{
		RequestID: requestID,
		Text:      text,
		ContextID: h.contextID,
		CallerID:  h.iface.cfg.InstanceID,
	}
	env, err := wire.Pack(participant.RequestTopic(h.serviceName), req, map[string]string{"instance_key": requestID})
	if err != nil {
		return "", err
	}
	if err := h.iface.participant.Client.Publish(cctx, env); err != nil {
		return "", fmt.Errorf("iface: publish agent request: %w", err)
	}

	replyEnv, err := sub.Next()
	if err != nil {
		if cctx.Err() != nil {
			return "", fmt.Errorf("%w: agent %s", ErrReplyTimeout, h.serviceName)
		}
		return "", fmt.Errorf("iface: receive agent reply: %w", err)
	}

	var reply wire.AgentReply
	if err := replyEnv.Unpack(&reply); err != nil {
		return "", fmt.Errorf("iface: unpack agent reply: %w", err)
	}
	if !reply.Success {
		return "", fmt.Errorf("iface: agent error: %s", reply.Error)
	}
	return reply.Text, nil
}

// Agents returns a snapshot of every currently registered agent.
func (i *Interface) Agents() []wire.AgentRegistration {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]wire.AgentRegistration, 0, len(i.agents))
	for _, r := range i.agents {
		out = append(out, r)
	}
	return out
}

// Close tears down the Interface's Participant.
func (i *Interface) Close(ctx context.Context) error {
	return i.participant.Close(ctx)
}
