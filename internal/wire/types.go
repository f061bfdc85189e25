package wire

import "time"

// LifecycleCategory classifies a LifecycleEvent (§3, §4.7).
type LifecycleCategory string

const (
	CategoryNodeDiscovery LifecycleCategory = "NODE_DISCOVERY"
	CategoryEdgeDiscovery LifecycleCategory = "EDGE_DISCOVERY"
	CategoryStateChange   LifecycleCategory = "STATE_CHANGE"
	CategoryAgentInit     LifecycleCategory = "AGENT_INIT"
	CategoryAgentReady    LifecycleCategory = "AGENT_READY"
	CategoryAgentShutdown LifecycleCategory = "AGENT_SHUTDOWN"
)

// ComponentState is a node in the lifecycle state machine of §4.7.
type ComponentState string

const (
	StateJoining     ComponentState = "JOINING"
	StateDiscovering ComponentState = "DISCOVERING"
	StateReady       ComponentState = "READY"
	StateBusy        ComponentState = "BUSY"
	StateDegraded    ComponentState = "DEGRADED"
	StateOffline     ComponentState = "OFFLINE"
)

// ChainEventType is one of the three steps an RPC call can emit (§3).
type ChainEventType string

const (
	CallStart    ChainEventType = "CALL_START"
	CallComplete ChainEventType = "CALL_COMPLETE"
	CallError    ChainEventType = "CALL_ERROR"
)

// FunctionCapability is an advertised function, as published on the
// FunctionCapability topic (§3, §6).
type FunctionCapability struct {
	FunctionID      string    `json:"function_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	ProviderGUID    string    `json:"provider_guid"`
	ParameterSchema string    `json:"parameter_schema"`
	Capabilities    []string  `json:"capabilities"`
	ServiceName     string    `json:"service_name"`
	Classification  string    `json:"classification,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
	// Alive is false on a disposal/not-alive sample; the Registry removes
	// the entry instead of upserting it when Alive is false.
	Alive bool `json:"alive"`
}

// AgentRegistration is an agent's self-announcement (§3).
type AgentRegistration struct {
	AgentID        string `json:"agent_id"`
	PreferredName  string `json:"preferred_name"`
	ServiceName    string `json:"service_name"`
	DefaultCapable bool   `json:"default_capable"`
	// Alive is false when an agent announces its own shutdown.
	Alive bool `json:"alive"`
}

// FunctionRequest is one RPC invocation (§3).
type FunctionRequest struct {
	RequestID      string `json:"request_id"`
	FunctionID     string `json:"function_id"`
	ParametersJSON string `json:"parameters_json"`
	// CallerID and ChainID are request metadata forwarded to implementations
	// per §4.3 step 6 ("Implementations may receive request metadata").
	CallerID string `json:"caller_id,omitempty"`
	ChainID  string `json:"chain_id,omitempty"`
	CallID   string `json:"call_id,omitempty"`
}

// FunctionReply is the outcome of exactly one FunctionRequest (§3).
type FunctionReply struct {
	RequestID    string `json:"request_id"`
	ResultJSON   string `json:"result_json"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ChainEvent is one step in a request's causal chain (§3).
type ChainEvent struct {
	ChainID   string         `json:"chain_id"`
	CallID    string         `json:"call_id"`
	SourceID  string         `json:"source_id"`
	TargetID  string         `json:"target_id"`
	EventType ChainEventType `json:"event_type"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// LifecycleEvent is a component state transition (§3, §4.7).
type LifecycleEvent struct {
	ComponentID   string             `json:"component_id"`
	ComponentType string             `json:"component_type"`
	PrevState     ComponentState     `json:"prev_state"`
	NextState     ComponentState     `json:"next_state"`
	Category      LifecycleCategory  `json:"category"`
	Timestamp     time.Time          `json:"timestamp"`
	Attributes    map[string]string  `json:"attributes,omitempty"`
}

// LivelinessUpdate reports a provider_guid's observed liveliness state,
// published on the LivelinessUpdate monitoring topic (§6).
type LivelinessUpdate struct {
	ProviderGUID string    `json:"provider_guid"`
	Alive        bool      `json:"alive"`
	Timestamp    time.Time `json:"timestamp"`
}

// LogMessage is one structured log line mirrored onto the LogMessage topic
// for dashboards, fed by the slog handler (§4.7, §6).
type LogMessage struct {
	ComponentID string            `json:"component_id"`
	Level       string            `json:"level"`
	Message     string            `json:"message"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// AgentRequest/AgentReply carry Interface<->Agent and Agent<->Agent RPC text
// traffic (§4.5, §4.6); they reuse the FunctionRequest/Reply correlation
// model rather than inventing a second one.
type AgentRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	ContextID string `json:"context_id"`
	CallerID  string `json:"caller_id"`
}

type AgentReply struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}
