package svc

import (
	"context"
	"encoding/json"
)

// RequestMeta carries the caller/correlation metadata available to an
// Implementation alongside its typed arguments (§4.3 step 6).
type RequestMeta struct {
	RequestID string
	CallerID  string
	ChainID   string
	CallID    string
}

// Implementation is a locally bound function body. It receives the raw
// JSON parameters (already schema-validated when strict validation is on)
// and returns a value that will be marshaled to result_json.
type Implementation func(ctx context.Context, params json.RawMessage, meta RequestMeta) (any, error)

// RegisteredFunction is the local binding from a function_id to an
// executable implementation and its validation schema (§3).
type RegisteredFunction struct {
	FunctionID     string
	Name           string
	Description    string
	ParamSchema    string
	Capabilities   []string
	OperationType  string
	Impl           Implementation
}

// Config configures a Service instance.
type Config struct {
	// ServiceName is the RPC channel identifier; multiple instances sharing
	// one ServiceName form an implicit pool (§4.3).
	ServiceName string
	// InstanceID identifies this specific service process/restart
	// identity; function_id is derived deterministically from it so the
	// same instance republishes the same function_id across restarts.
	InstanceID string
	// StrictSchemaValidation turns on parameter_schema validation before
	// dispatch (default true, per §6).
	StrictSchemaValidation bool
	// LeaseSeconds is how long this service's capability advertisements
	// stay valid without a heartbeat republish before the broker's reaper
	// treats them as not-alive.
	LeaseSeconds int
}

// WithDefaults fills zero-valued optional fields.
func (c Config) WithDefaults() Config {
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 10
	}
	if c.InstanceID == "" {
		c.InstanceID = c.ServiceName
	}
	return c
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}
	return nil
}
