// Package wire defines the GENESIS data model — the entities exchanged over
// the transport (FunctionCapability, FunctionRequest/Reply, AgentRegistration,
// ChainEvent, LifecycleEvent, AgentRequest/Reply) — and the envelope used to
// carry them as JSON payloads inside a protobuf Struct over gRPC.
package wire
