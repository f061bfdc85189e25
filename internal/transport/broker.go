package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/genesis-framework/genesis/internal/observability"
)

// requestTopicPrefix identifies FunctionRequest/AgentRequest RPC topics
// (participant.RequestTopic derives every one of them from this exact
// literal). Topics under this prefix get anycast delivery — exactly one
// matched subscriber per sample (§3/§3.3: "at-most-once invocation per
// request", "the transport delivers each request to one matched replier")
// — instead of the broadcast fan-out every other topic gets. Kept as a
// literal rather than importing internal/participant, which itself imports
// this package.
const requestTopicPrefix = "FunctionExecutionRequest:"

// subscriber is one Subscribe stream's delivery channel, generalizing the
// teacher's per-subject subscriber channel into one shape shared by every
// topic instead of three parallel maps (taskSubscribers, taskResultSubscribers,
// taskProgressSubscribers).
type subscriber struct {
	ch       chan *structpb.Struct
	selector map[string]string
}

// leaseEntry tracks a publisher's self-asserted liveliness for one retained
// instance, the Go analogue of a DDS writer's liveliness lease.
type leaseEntry struct {
	topic       string
	instanceKey string
	expiresAt   time.Time
}

// Broker is the GENESIS discovery and data bus: every Participant connects
// to exactly one Broker (directly, or via a deployed broker process) to
// publish and subscribe to topics. It generalizes the teacher's
// EventBusService from three copy-pasted task/result/progress maps into one
// topic-keyed fan-out map, adds a retained (transient-local) cache so late
// subscribers see the current instance set without replaying history, and a
// lease reaper that turns publisher silence into synthetic not-alive samples.
type Broker struct {
	UnimplementedBusServer

	mu   sync.RWMutex
	subs map[string][]*subscriber

	retainedMu sync.RWMutex
	retained   map[string]map[string]*structpb.Struct

	leaseMu sync.Mutex
	leases  map[string]*leaseEntry

	rrMu    sync.Mutex
	rrIndex map[string]uint64

	logger         *slog.Logger
	traceManager   *observability.TraceManager
	metricsManager *observability.MetricsManager

	reaperInterval time.Duration
}

// NewBroker builds a Broker. logger/traceManager/metricsManager follow the
// teacher's EventBusService.Server dependency shape.
func NewBroker(logger *slog.Logger, tm *observability.TraceManager, mm *observability.MetricsManager) *Broker {
	return &Broker{
		subs:           make(map[string][]*subscriber),
		retained:       make(map[string]map[string]*structpb.Struct),
		leases:         make(map[string]*leaseEntry),
		rrIndex:        make(map[string]uint64),
		logger:         logger,
		traceManager:   tm,
		metricsManager: mm,
		reaperInterval: time.Second,
	}
}

// Run starts the lease reaper; it returns when ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reapExpiredLeases(ctx)
		}
	}
}

// RegisterLease asserts liveliness for instanceKey on topic until ttl
// elapses, refreshing any prior lease. Participants call this on every
// capability/registration re-announcement (heartbeat).
func (b *Broker) RegisterLease(topic, instanceKey string, ttl time.Duration) {
	b.leaseMu.Lock()
	defer b.leaseMu.Unlock()
	b.leases[topic+"\x00"+instanceKey] = &leaseEntry{
		topic:       topic,
		instanceKey: instanceKey,
		expiresAt:   time.Now().Add(ttl),
	}
}

func (b *Broker) reapExpiredLeases(ctx context.Context) {
	now := time.Now()
	var expired []*leaseEntry
	b.leaseMu.Lock()
	for k, l := range b.leases {
		if now.After(l.expiresAt) {
			expired = append(expired, l)
			delete(b.leases, k)
		}
	}
	b.leaseMu.Unlock()

	for _, l := range expired {
		b.retainedMu.Lock()
		if byKey, ok := b.retained[l.topic]; ok {
			delete(byKey, l.instanceKey)
		}
		b.retainedMu.Unlock()

		dispose, err := structpb.NewStruct(map[string]any{
			"topic": l.topic,
			"alive": false,
			"attributes": map[string]any{
				"instance_key": l.instanceKey,
			},
		})
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to build lease-expiry disposal", "error", err)
			continue
		}
		b.logger.InfoContext(ctx, "lease expired, publishing disposal",
			"topic", l.topic, "instance_key", l.instanceKey)
		b.fanOut(ctx, l.topic, dispose)
	}
}

// Publish implements BusServer.
func (b *Broker) Publish(ctx context.Context, env *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := b.traceManager.StartPublishSpan(ctx, "bus", "publish")
	defer span.End()

	topic := stringField(env, "topic")
	if topic == "" {
		err := status.Error(codes.InvalidArgument, "topic cannot be empty")
		b.traceManager.RecordError(span, err)
		return nil, err
	}
	b.traceManager.AddComponentAttribute(span, "broker")

	timer := b.metricsManager.StartTimer()
	defer timer(ctx, topic, "broker")

	alive := boolField(env, "alive", true)
	attrs := stringMapField(env, "attributes")

	if durability := attrs["durability"]; durability == "transient_local" {
		key := attrs["instance_key"]
		if key == "" {
			key = topic
		}
		b.retainedMu.Lock()
		if b.retained[topic] == nil {
			b.retained[topic] = make(map[string]*structpb.Struct)
		}
		if alive {
			b.retained[topic][key] = env
		} else {
			delete(b.retained[topic], key)
		}
		b.retainedMu.Unlock()

		if alive {
			if leaseSeconds, err := strconv.Atoi(attrs["lease_seconds"]); err == nil && leaseSeconds > 0 {
				b.RegisterLease(topic, key, time.Duration(leaseSeconds)*time.Second)
			}
		}
	}

	delivered := b.fanOut(ctx, topic, env)
	b.metricsManager.IncrementEventsProcessed(ctx, topic, "broker", true)
	b.traceManager.SetSpanSuccess(span)

	b.logger.InfoContext(ctx, "published envelope", "topic", topic, "delivered_to", delivered, "alive", alive)
	return structpb.NewStruct(map[string]any{"accepted": true, "delivered_to": float64(delivered)})
}

func (b *Broker) fanOut(ctx context.Context, topic string, env *structpb.Struct) int {
	attrs := stringMapField(env, "attributes")

	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[topic]...)
	b.mu.RUnlock()

	matched := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		if matchesSelector(attrs, sub.selector) {
			matched = append(matched, sub)
		}
	}
	if len(matched) == 0 {
		return 0
	}

	if strings.HasPrefix(topic, requestTopicPrefix) {
		// Anycast: a pool of Service/Agent instances sharing one
		// service_name all subscribe to this topic with a nil selector, so
		// every one of them would otherwise "match". Pick exactly one via
		// round-robin so a single request is never served twice (§8
		// scenario 6).
		sub := matched[b.nextAnycastTarget(topic, len(matched))]
		b.deliver(ctx, topic, sub, env)
		return 1
	}

	for _, sub := range matched {
		b.deliver(ctx, topic, sub, env)
	}
	return len(matched)
}

// nextAnycastTarget returns the next round-robin index (mod n) for topic.
func (b *Broker) nextAnycastTarget(topic string, n int) int {
	b.rrMu.Lock()
	defer b.rrMu.Unlock()
	idx := int(b.rrIndex[topic] % uint64(n))
	b.rrIndex[topic]++
	return idx
}

func (b *Broker) deliver(ctx context.Context, topic string, sub *subscriber, env *structpb.Struct) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.ErrorContext(ctx, "recovered from panic delivering envelope",
					"topic", topic, "panic", r)
			}
		}()
		select {
		case sub.ch <- env:
			b.metricsManager.IncrementEventsPublished(ctx, topic, "bus")
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
			b.logger.WarnContext(ctx, "timeout delivering envelope to subscriber", "topic", topic)
		}
	}()
}

func matchesSelector(attrs, selector map[string]string) bool {
	for k, v := range selector {
		if attrs[k] != v {
			return false
		}
	}
	return true
}

// Subscribe implements BusServer.
func (b *Broker) Subscribe(req *structpb.Struct, stream BusSubscribeServer) error {
	ctx := stream.Context()
	ctx, span := b.traceManager.StartConsumeSpan(ctx, "bus", "subscribe")
	defer span.End()
	b.traceManager.AddComponentAttribute(span, "broker")

	topic := stringField(req, "topic")
	if topic == "" {
		err := status.Error(codes.InvalidArgument, "topic cannot be empty")
		b.traceManager.RecordError(span, err)
		return err
	}
	selector := stringMapField(req, "selector")

	sub := &subscriber{ch: make(chan *structpb.Struct, 10), selector: selector}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "subscriber joined", "topic", topic)

	defer func() {
		b.mu.Lock()
		remaining := b.subs[topic][:0]
		for _, s := range b.subs[topic] {
			if s != sub {
				remaining = append(remaining, s)
			}
		}
		if len(remaining) == 0 {
			delete(b.subs, topic)
		} else {
			b.subs[topic] = remaining
		}
		b.mu.Unlock()
		close(sub.ch)
		b.logger.InfoContext(ctx, "subscriber left", "topic", topic)
	}()

	b.retainedMu.RLock()
	for _, env := range b.retained[topic] {
		if matchesSelector(stringMapField(env, "attributes"), selector) {
			if err := stream.Send(env); err != nil {
				b.retainedMu.RUnlock()
				return err
			}
		}
	}
	b.retainedMu.RUnlock()

	for {
		select {
		case env, ok := <-sub.ch:
			if !ok {
				return nil
			}
			if err := stream.Send(env); err != nil {
				b.metricsManager.IncrementEventErrors(ctx, topic, "broker", "send_error")
				return fmt.Errorf("transport: send to subscriber on topic %q: %w", topic, err)
			}
			b.metricsManager.IncrementEventsProcessed(ctx, topic, "broker", true)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func stringField(s *structpb.Struct, name string) string {
	if v, ok := s.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func boolField(s *structpb.Struct, name string, def bool) bool {
	v, ok := s.GetFields()[name]
	if !ok {
		return def
	}
	return v.GetBoolValue()
}

func stringMapField(s *structpb.Struct, name string) map[string]string {
	v, ok := s.GetFields()[name]
	if !ok {
		return nil
	}
	st := v.GetStructValue()
	if st == nil {
		return nil
	}
	out := make(map[string]string, len(st.GetFields()))
	for k, fv := range st.GetFields() {
		out[k] = fv.GetStringValue()
	}
	return out
}
