package participant

// Well-known topic names, stable across the bus (§6).
const (
	TopicRegistration       = "GenesisRegistration"
	TopicFunctionCapability = "FunctionCapability"
	TopicFunctionRequest    = "FunctionExecutionRequest"
	TopicFunctionReply      = "FunctionExecutionReply"
	TopicComponentLifecycle = "ComponentLifecycle"
	TopicChainEvent         = "ChainEvent"
	TopicLivelinessUpdate   = "LivelinessUpdate"
	TopicLogMessage         = "LogMessage"
)

// RequestTopic returns the RPC request topic name derived from a
// service_name, per §4.3 ("the transport derives request/reply topic names
// from it").
func RequestTopic(serviceName string) string {
	return TopicFunctionRequest + ":" + serviceName
}

// ReplyTopic returns the RPC reply topic name derived from a service_name.
func ReplyTopic(serviceName string) string {
	return TopicFunctionReply + ":" + serviceName
}
