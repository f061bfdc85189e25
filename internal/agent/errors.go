package agent

import "errors"

// Sentinel errors for Agent Base, in the teacher's subagent.Err* style.
var (
	ErrMissingServiceName = errors.New("agent: service_name is required")
	ErrMissingClassifier  = errors.New("agent: classifier is required")
	ErrMissingExecutor    = errors.New("agent: executor is required")
	ErrAlreadyRunning     = errors.New("agent: agent is already running")
	ErrNotRunning         = errors.New("agent: agent is not running")
	ErrRPCTimeout         = errors.New("agent: rpc call timed out")
	ErrUnknownToolName    = errors.New("agent: executor requested an unknown function name")
)
