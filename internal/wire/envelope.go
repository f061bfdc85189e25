package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope is the one transport-level shape every topic's samples travel in.
// It carries the topic name so a single Bus service can multiplex every
// GENESIS topic, a JSON-encoded domain payload (FunctionCapability,
// FunctionRequest, ...), routing attributes for selector-based filtering,
// and the alive flag DDS calls instance state: false means "treat this
// sample as a disposal of whatever key Attributes identifies".
type Envelope struct {
	Topic      string
	PayloadRaw string
	Attributes map[string]string
	Alive      bool
}

// Pack encodes a domain value as the JSON payload of an Envelope.
func Pack(topic string, v any, attrs map[string]string) (*Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload for topic %q: %w", topic, err)
	}
	return &Envelope{
		Topic:      topic,
		PayloadRaw: string(raw),
		Attributes: attrs,
		Alive:      true,
	}, nil
}

// PackDispose builds a not-alive Envelope carrying no payload, used to
// announce the removal of the keyed instance named in attrs.
func PackDispose(topic string, attrs map[string]string) *Envelope {
	return &Envelope{Topic: topic, Attributes: attrs, Alive: false}
}

// Unpack decodes the Envelope's JSON payload into v.
func (e *Envelope) Unpack(v any) error {
	if e.PayloadRaw == "" {
		return fmt.Errorf("wire: envelope for topic %q has no payload to unpack", e.Topic)
	}
	if err := json.Unmarshal([]byte(e.PayloadRaw), v); err != nil {
		return fmt.Errorf("wire: unmarshal payload for topic %q: %w", e.Topic, err)
	}
	return nil
}

// ToStruct converts the Envelope into the structpb.Struct that actually
// crosses the wire as the gRPC message body.
func (e *Envelope) ToStruct() (*structpb.Struct, error) {
	fields := map[string]any{
		"topic": e.Topic,
		"alive": e.Alive,
	}
	if e.PayloadRaw != "" {
		fields["payload"] = e.PayloadRaw
	}
	if len(e.Attributes) > 0 {
		attrs := make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		fields["attributes"] = attrs
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("wire: build struct for topic %q: %w", e.Topic, err)
	}
	return s, nil
}

// EnvelopeFromStruct reverses ToStruct.
func EnvelopeFromStruct(s *structpb.Struct) (*Envelope, error) {
	if s == nil {
		return nil, fmt.Errorf("wire: nil struct")
	}
	fields := s.GetFields()
	e := &Envelope{}
	if tv, ok := fields["topic"]; ok {
		e.Topic = tv.GetStringValue()
	}
	if av, ok := fields["alive"]; ok {
		e.Alive = av.GetBoolValue()
	}
	if pv, ok := fields["payload"]; ok {
		e.PayloadRaw = pv.GetStringValue()
	}
	if av, ok := fields["attributes"]; ok {
		if st := av.GetStructValue(); st != nil {
			e.Attributes = make(map[string]string, len(st.GetFields()))
			for k, v := range st.GetFields() {
				e.Attributes[k] = v.GetStringValue()
			}
		}
	}
	if e.Topic == "" {
		return nil, fmt.Errorf("wire: struct missing topic field")
	}
	return e, nil
}
