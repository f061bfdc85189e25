package transport

import "os"

const (
	// DefaultListenAddr is the broker's default gRPC listen address.
	DefaultListenAddr = ":50051"
	// DefaultHealthPort is the default HTTP health/metrics port.
	DefaultHealthPort = "8080"
)

// Config holds the connection and process settings every GENESIS
// component needs to join the bus, generalized from the teacher's
// GRPCConfig (ServerAddr/BrokerAddr/HealthPort/ComponentName).
type Config struct {
	// ListenAddr is the address a broker process binds to (e.g. ":50051").
	// Empty for non-broker components.
	ListenAddr string
	// BusAddr is the broker address this component dials (e.g. "localhost:50051").
	BusAddr string
	// HealthPort serves this component's /health, /ready, /metrics endpoints.
	HealthPort string
	// ComponentID identifies this process in logs, traces, and the
	// Capability Registry / discovery topics.
	ComponentID string
	// DomainID labels the GENESIS deployment this process belongs to, the
	// Go analogue of a DDS domain id. It is recorded and logged only;
	// envelopes are not filtered by domain, so every participant on the
	// same broker sees every other one whatever its DomainID.
	DomainID int
}

// NewConfig builds a Config for componentID from environment variables,
// generalizing the teacher's NewGRPCConfig.
func NewConfig(componentID string) *Config {
	return &Config{
		ComponentID: componentID,
		ListenAddr:  getEnv("GENESIS_LISTEN_ADDR", DefaultListenAddr),
		BusAddr:     getEnv("GENESIS_BUS_ADDR", "localhost:50051"),
		HealthPort:  getEnv("GENESIS_HEALTH_PORT", DefaultHealthPort),
		DomainID:    getEnvInt("GENESIS_DOMAIN_ID", 0),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
