package agent

// Config configures an Agent instance.
type Config struct {
	// ServiceName is both this agent's RPC channel identifier (peer agents
	// and Interfaces target it by this name) and its registration identity.
	ServiceName string
	// PreferredName is the human-facing label advertised on
	// GenesisRegistration (§6).
	PreferredName string
	// InstanceID identifies this process; defaults to ServiceName.
	InstanceID string
	// DefaultCapable marks this agent as a reasonable default target for an
	// Interface that has not chosen one explicitly.
	DefaultCapable bool
	// RPCTimeoutSeconds bounds every outbound FunctionRequest wait (§4.5,
	// §6 default 30).
	RPCTimeoutSeconds int
	// ClassifierTimeoutSeconds bounds Stage A; on expiry the agent falls
	// back to the full function list (§4.5).
	ClassifierTimeoutSeconds int
	// LeaseSeconds is how long the registration/ announcement advertisement
	// stays valid without a heartbeat republish.
	LeaseSeconds int
	// MaxToolTurns bounds the classify->execute->re-invoke loop so a
	// misbehaving executor cannot spin forever.
	MaxToolTurns int
}

// WithDefaults fills zero-valued optional fields.
func (c Config) WithDefaults() Config {
	if c.InstanceID == "" {
		c.InstanceID = c.ServiceName
	}
	if c.PreferredName == "" {
		c.PreferredName = c.ServiceName
	}
	if c.RPCTimeoutSeconds <= 0 {
		c.RPCTimeoutSeconds = 30
	}
	if c.ClassifierTimeoutSeconds <= 0 {
		c.ClassifierTimeoutSeconds = 10
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 10
	}
	if c.MaxToolTurns <= 0 {
		c.MaxToolTurns = 8
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
