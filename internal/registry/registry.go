// Package registry implements the Capability Registry: an event-driven,
// thread-safe cache of every FunctionCapability currently advertised on the
// bus, keyed by function_id. It is populated exclusively by a transport
// listener and never initiates writes of its own, mirroring the teacher's
// state.InMemoryStateManager ownership model (mutate under lock, hand
// readers a copy) applied to a discovery cache instead of conversation
// state.
package registry

import (
	"log/slog"
	"sync"

	"github.com/genesis-framework/genesis/internal/wire"
)

// ChangeKind classifies a Registry change-notification delta.
type ChangeKind string

const (
	Added   ChangeKind = "ADDED"
	Updated ChangeKind = "UPDATED"
	Removed ChangeKind = "REMOVED"
)

// Change is one delta emitted on the optional notification channel.
type Change struct {
	Kind       ChangeKind
	Capability wire.FunctionCapability
}

// Registry is the in-process cache of live FunctionCapability advertisements.
// All mutation happens through OnEnvelope, called from the subscriber's
// delivery goroutine; GetByFunctionID/GetByName/GetAll hand callers a deep copy so they
// never observe a partially constructed entry.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]wire.FunctionCapability
	byKey map[string]string // instance_key -> function_id, for dispose correlation

	logger *slog.Logger

	notifyMu sync.Mutex
	notify   []chan Change
}

// New builds an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]wire.FunctionCapability),
		byKey:  make(map[string]string),
		logger: logger,
	}
}

// OnEnvelope applies one FunctionCapability envelope to the cache. Malformed
// samples are logged once and skipped rather than aborting the listener,
// per the Registry's "skip malformed samples" contract.
func (r *Registry) OnEnvelope(env *wire.Envelope) {
	if env == nil {
		r.logger.Warn("registry: received nil envelope, skipping")
		return
	}

	instanceKey := env.Attributes["instance_key"]

	if !env.Alive {
		r.mu.Lock()
		functionID := instanceKey
		if fid, ok := r.byKey[instanceKey]; ok {
			functionID = fid
		} else if functionID == "" {
			functionID = env.Attributes["function_id"]
		}
		cap, existed := r.byID[functionID]
		delete(r.byID, functionID)
		delete(r.byKey, instanceKey)
		r.mu.Unlock()
		if existed {
			r.emit(Change{Kind: Removed, Capability: cap})
		}
		return
	}

	var cap wire.FunctionCapability
	if err := env.Unpack(&cap); err != nil {
		r.logger.Warn("registry: skipping malformed FunctionCapability sample", "error", err)
		return
	}
	if cap.FunctionID == "" {
		r.logger.Warn("registry: skipping FunctionCapability sample with empty function_id")
		return
	}

	r.mu.Lock()
	_, existed := r.byID[cap.FunctionID]
	r.byID[cap.FunctionID] = cap
	if instanceKey != "" {
		r.byKey[instanceKey] = cap.FunctionID
	}
	r.mu.Unlock()

	kind := Added
	if existed {
		kind = Updated
	}
	r.emit(Change{Kind: kind, Capability: cap})
}

// GetAll returns a point-in-time snapshot of every live capability.
func (r *Registry) GetAll() []wire.FunctionCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.FunctionCapability, 0, len(r.byID))
	for _, c := range r.byID {
		c.Capabilities = append([]string(nil), c.Capabilities...)
		out = append(out, c)
	}
	return out
}

// GetByName returns every currently advertised function whose name matches.
func (r *Registry) GetByName(name string) []wire.FunctionCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []wire.FunctionCapability
	for _, c := range r.byID {
		if c.Name == name {
			c.Capabilities = append([]string(nil), c.Capabilities...)
			out = append(out, c)
		}
	}
	return out
}

// GetByFunctionID looks up one capability by its function_id.
func (r *Registry) GetByFunctionID(functionID string) (wire.FunctionCapability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[functionID]
	c.Capabilities = append([]string(nil), c.Capabilities...)
	return c, ok
}

// Subscribe returns a channel of Change deltas. The returned unsubscribe
// func must be called to release the channel; callers must drain it
// promptly since emit is non-blocking for slow subscribers.
func (r *Registry) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 32)
	r.notifyMu.Lock()
	r.notify = append(r.notify, ch)
	r.notifyMu.Unlock()

	unsubscribe := func() {
		r.notifyMu.Lock()
		defer r.notifyMu.Unlock()
		for i, c := range r.notify {
			if c == ch {
				r.notify = append(r.notify[:i], r.notify[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

func (r *Registry) emit(c Change) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	for _, ch := range r.notify {
		select {
		case ch <- c:
		default:
			r.logger.Warn("registry: dropping change notification, subscriber channel full")
		}
	}
}
