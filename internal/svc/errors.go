package svc

import "errors"

// Sentinel errors for Service Base, in the teacher's subagent.Err* style.
var (
	ErrMissingServiceName  = errors.New("svc: service_name is required")
	ErrDuplicateFunction   = errors.New("svc: function already registered under this name")
	ErrNoFunctions         = errors.New("svc: at least one function must be registered before Run")
	ErrAlreadyRunning      = errors.New("svc: service is already running")
	ErrNotRunning          = errors.New("svc: service is not running")
	ErrUnknownFunction     = errors.New("svc: unknown function")
	ErrSchemaValidation    = errors.New("svc: parameters failed schema validation")
	ErrInvocationFailed    = errors.New("svc: function implementation returned an error")
)
