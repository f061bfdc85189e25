package iface

// Config configures an Interface instance.
type Config struct {
	// InstanceID identifies this process, used as CallerID on outbound
	// AgentRequests.
	InstanceID string
	// ConnectTimeoutSeconds bounds ConnectToAgent's wait for a matching
	// registration (§4.6).
	ConnectTimeoutSeconds int
	// RPCTimeoutSeconds bounds every Send call's wait for the correlated
	// AgentReply (§4.6, §6 default 30).
	RPCTimeoutSeconds int
}

// WithDefaults fills zero-valued optional fields.
func (c Config) WithDefaults() Config {
	if c.ConnectTimeoutSeconds <= 0 {
		c.ConnectTimeoutSeconds = 30
	}
	if c.RPCTimeoutSeconds <= 0 {
		c.RPCTimeoutSeconds = 30
	}
	return c
}
