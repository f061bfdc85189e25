// Package llm defines the abstract classifier/executor collaborators an
// Agent Base delegates reasoning to (§4.5). Concrete vendor HTTP clients are
// explicitly out of scope for the core (§1); this package only fixes the
// shape a real client must satisfy, plus a mock good enough to drive the
// reference agent end to end.
package llm

import (
	"context"
	"encoding/json"

	"github.com/genesis-framework/genesis/internal/agent/session"
	"github.com/genesis-framework/genesis/internal/wire"
)

// ToolDefinition is the executor-facing digest of one selected
// FunctionCapability: name, short description, and its parameter schema.
type ToolDefinition struct {
	Name           string
	Description    string
	ParameterSchema string
}

// ToolCall is one function invocation the executor asked for.
type ToolCall struct {
	Name   string
	Params json.RawMessage
}

// ToolResult is the outcome of a previously requested ToolCall, fed back
// into the next executor turn.
type ToolResult struct {
	Name   string
	Result string
	Error  string
}

// ExecutorInput is everything the executor LLM needs for one turn.
type ExecutorInput struct {
	RequestText string
	History     []session.Message
	Tools       []ToolDefinition
	ToolResults []ToolResult
}

// ExecutorOutput is either a final text answer, or one or more tool calls
// to run before re-invoking the executor (§4.5 step 6).
type ExecutorOutput struct {
	FinalText string
	ToolCalls []ToolCall
}

// Done reports whether the executor produced a final answer rather than
// further tool calls.
func (o *ExecutorOutput) Done() bool {
	return o != nil && o.FinalText != "" && len(o.ToolCalls) == 0
}

// Classifier narrows the full capability set down to the names relevant to
// request_text (§4.5 Stage A). It must return only names; the agent
// resolves those names back to full FunctionCapability records itself.
type Classifier interface {
	Classify(ctx context.Context, requestText string, history []session.Message, capabilities []wire.FunctionCapability) ([]string, error)
}

// Executor drives Stage B: given a request, history, and the selected
// tools' definitions (plus any prior ToolResults from this turn), it
// either answers directly or asks for more tool calls.
type Executor interface {
	Execute(ctx context.Context, in ExecutorInput) (*ExecutorOutput, error)
}
