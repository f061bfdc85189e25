package iface

import "errors"

// Sentinel errors for Interface Base.
var (
	ErrNoMatchingAgent = errors.New("iface: no agent with the requested service_name has been discovered")
	ErrConnectTimeout  = errors.New("iface: timed out waiting for a matching agent")
	ErrReplyTimeout    = errors.New("iface: timed out waiting for an agent reply")
	ErrNotConnected    = errors.New("iface: handle is not connected")
)
