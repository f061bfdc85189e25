package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QoSProfile describes the durability and liveliness policy applied to one
// GENESIS topic, the Go counterpart of a DDS QoS profile. AppConfig.QoSProfile
// carries a profile name, but no component in this module loads a
// QoSProfiles table or resolves that name against one.
type QoSProfile struct {
	Name string `yaml:"name"`
	// Durability is "transient_local" (retained, replayed to late
	// subscribers) or "volatile" (no replay).
	Durability string `yaml:"durability"`
	// LeaseSeconds is how long a publisher's last heartbeat stays valid
	// before the broker's reaper treats the instance as not-alive.
	LeaseSeconds int `yaml:"lease_seconds"`
}

// Lease returns the profile's lease duration, defaulting to 10s.
func (p QoSProfile) Lease() time.Duration {
	if p.LeaseSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(p.LeaseSeconds) * time.Second
}

// QoSProfiles is a named set of QoSProfile, as loaded from an on-disk YAML
// overlay.
type QoSProfiles map[string]QoSProfile

// DefaultQoSProfiles returns the built-in profiles used when no overlay
// file is present: "default" (transient-local capability/registration
// announcements) and "volatile" (chain events, log messages).
func DefaultQoSProfiles() QoSProfiles {
	return QoSProfiles{
		"default": {Name: "default", Durability: "transient_local", LeaseSeconds: 10},
		"volatile": {Name: "volatile", Durability: "volatile", LeaseSeconds: 0},
	}
}

// LoadQoSProfiles reads a YAML overlay file of the form:
//
//	profiles:
//	  - name: default
//	    durability: transient_local
//	    lease_seconds: 10
//
// merging it over DefaultQoSProfiles. A missing path is not an error; it
// simply yields the defaults.
func LoadQoSProfiles(path string) (QoSProfiles, error) {
	profiles := DefaultQoSProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, fmt.Errorf("config: read qos profile overlay %q: %w", path, err)
	}

	var overlay struct {
		Profiles []QoSProfile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parse qos profile overlay %q: %w", path, err)
	}
	for _, p := range overlay.Profiles {
		profiles[p.Name] = p
	}
	return profiles, nil
}
