// Package monitor implements the Monitoring Publisher: a thin helper that
// serializes lifecycle, chain, liveliness, and log events onto four
// dedicated topics (§4.7).
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/genesis-framework/genesis/internal/observability"
	"github.com/genesis-framework/genesis/internal/participant"
	"github.com/genesis-framework/genesis/internal/wire"
)

// Publisher publishes monitoring events for one component.
type Publisher struct {
	p             *participant.Participant
	componentID   string
	componentType string
}

// New builds a Publisher for one component. componentType is one of
// "service", "agent", "interface", "broker".
func New(p *participant.Participant, componentID, componentType string) *Publisher {
	return &Publisher{p: p, componentID: componentID, componentType: componentType}
}

// PublishLifecycle emits a ComponentLifecycle event. Lifecycle events carry
// RELIABLE + TRANSIENT_LOCAL durability so late-joining dashboards see the
// current component graph.
func (m *Publisher) PublishLifecycle(ctx context.Context, prev, next wire.ComponentState, category wire.LifecycleCategory, attrs map[string]string) error {
	ev := wire.LifecycleEvent{
		ComponentID:   m.componentID,
		ComponentType: m.componentType,
		PrevState:     prev,
		NextState:     next,
		Category:      category,
		Timestamp:     time.Now(),
		Attributes:    attrs,
	}
	env, err := wire.Pack(participant.TopicComponentLifecycle, ev, map[string]string{
		"durability":   "transient_local",
		"instance_key": m.componentID,
	})
	if err != nil {
		return err
	}
	if err := m.p.Client.Publish(ctx, env); err != nil {
		return fmt.Errorf("monitor: publish lifecycle event: %w", err)
	}
	return nil
}

// PublishChainEvent emits a ChainEvent. Chain events are RELIABLE + VOLATILE
// (no replay to late subscribers).
func (m *Publisher) PublishChainEvent(ctx context.Context, chainID, callID, sourceID, targetID string, eventType wire.ChainEventType, status string) error {
	ev := wire.ChainEvent{
		ChainID:   chainID,
		CallID:    callID,
		SourceID:  sourceID,
		TargetID:  targetID,
		EventType: eventType,
		Status:    status,
		Timestamp: time.Now(),
	}
	env, err := wire.Pack(participant.TopicChainEvent, ev, nil)
	if err != nil {
		return err
	}
	if err := m.p.Client.Publish(ctx, env); err != nil {
		return fmt.Errorf("monitor: publish chain event: %w", err)
	}
	return nil
}

// PublishLiveliness emits a LivelinessUpdate for a provider_guid.
func (m *Publisher) PublishLiveliness(ctx context.Context, providerGUID string, alive bool) error {
	ev := wire.LivelinessUpdate{ProviderGUID: providerGUID, Alive: alive, Timestamp: time.Now()}
	env, err := wire.Pack(participant.TopicLivelinessUpdate, ev, nil)
	if err != nil {
		return err
	}
	if err := m.p.Client.Publish(ctx, env); err != nil {
		return fmt.Errorf("monitor: publish liveliness update: %w", err)
	}
	return nil
}

// PublishLog emits a LogMessage, best-effort: failures are swallowed since
// log delivery must never perturb the caller's control flow.
func (m *Publisher) PublishLog(ctx context.Context, level, message string, attrs map[string]string) {
	ev := wire.LogMessage{
		ComponentID: m.componentID,
		Level:       level,
		Message:     message,
		Attributes:  attrs,
		Timestamp:   time.Now(),
	}
	env, err := wire.Pack(participant.TopicLogMessage, ev, nil)
	if err != nil {
		return
	}
	_ = m.p.Client.Publish(ctx, env)
}

// AttachLogPoster wires the process's slog ObservabilityHandler so every
// structured log line is mirrored onto the LogMessage topic, generalizing
// the teacher's ObservabilityHandler.SetEventPoster hook from posting to an
// external event sink into posting onto this component's own bus
// connection.
func (m *Publisher) AttachLogPoster(ctx context.Context, handler *observability.ObservabilityHandler) {
	if handler == nil {
		return
	}
	handler.SetEventPoster(func(event observability.EventData) error {
		attrs := map[string]string{"event_id": event.ID, "event_type": event.Type}
		if event.TraceID != "" {
			attrs["trace_id"] = event.TraceID
		}
		m.PublishLog(ctx, "INFO", event.Subject, attrs)
		return nil
	})
}
