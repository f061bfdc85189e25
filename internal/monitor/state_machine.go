package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/genesis-framework/genesis/internal/wire"
)

// StateMachine tracks and enforces the component lifecycle of §4.7:
//
//	JOINING -> DISCOVERING -> READY <-> BUSY
//	                            v
//	                         DEGRADED
//	                            v
//	                         OFFLINE
//
// Every transition is published on the ComponentLifecycle topic through the
// owning Publisher.
type StateMachine struct {
	mu        sync.Mutex
	current   wire.ComponentState
	publisher *Publisher
}

// NewStateMachine starts a component in JOINING, per construction semantics.
func NewStateMachine(publisher *Publisher) *StateMachine {
	return &StateMachine{current: wire.StateJoining, publisher: publisher}
}

// Current returns the current state.
func (sm *StateMachine) Current() wire.ComponentState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

var validTransitions = map[wire.ComponentState]map[wire.ComponentState]bool{
	wire.StateJoining:     {wire.StateDiscovering: true},
	wire.StateDiscovering: {wire.StateReady: true},
	wire.StateReady:       {wire.StateBusy: true, wire.StateDegraded: true, wire.StateOffline: true},
	wire.StateBusy:        {wire.StateReady: true, wire.StateDegraded: true},
	wire.StateDegraded:    {wire.StateReady: true, wire.StateOffline: true},
}

// Transition moves the component to next, publishing a LifecycleEvent.
// Moving to a state not reachable from the current one is a programming
// error (it would violate the monotonicity property of §8) and returns an
// error instead of publishing a malformed transition.
func (sm *StateMachine) Transition(ctx context.Context, next wire.ComponentState, category wire.LifecycleCategory, attrs map[string]string) error {
	sm.mu.Lock()
	prev := sm.current
	if !validTransitions[prev][next] {
		sm.mu.Unlock()
		return fmt.Errorf("monitor: invalid lifecycle transition %s -> %s", prev, next)
	}
	sm.current = next
	sm.mu.Unlock()

	return sm.publisher.PublishLifecycle(ctx, prev, next, category, attrs)
}
