package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/genesis-framework/genesis/internal/agent/session"
	"github.com/genesis-framework/genesis/internal/wire"
)

// MockClassifier is a test/reference Classifier. If ClassifyFunc is nil it
// falls back to returning every capability's name (equivalent to the
// "present the full list" fallback the real pipeline uses on a classifier
// failure).
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, requestText string, history []session.Message, capabilities []wire.FunctionCapability) ([]string, error)

	CallCount int
}

// NewMockClassifier builds a MockClassifier with the all-functions default.
func NewMockClassifier() *MockClassifier {
	return &MockClassifier{}
}

// Classify implements Classifier.
func (m *MockClassifier) Classify(ctx context.Context, requestText string, history []session.Message, capabilities []wire.FunctionCapability) ([]string, error) {
	m.CallCount++
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, requestText, history, capabilities)
	}
	names := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		names = append(names, c.Name)
	}
	return names, nil
}

// KeywordClassifier returns a Classifier that selects only capabilities
// whose name appears as a substring of requestText, falling back to the
// full list when nothing matches — the GENESIS analogue of the teacher's
// IntelligentDecider keyword matching.
func KeywordClassifier() *MockClassifier {
	return &MockClassifier{
		ClassifyFunc: func(ctx context.Context, requestText string, history []session.Message, capabilities []wire.FunctionCapability) ([]string, error) {
			normalized := strings.ToLower(requestText)
			var matched []string
			for _, c := range capabilities {
				if strings.Contains(normalized, strings.ToLower(c.Name)) {
					matched = append(matched, c.Name)
				}
			}
			if len(matched) == 0 {
				for _, c := range capabilities {
					matched = append(matched, c.Name)
				}
			}
			return matched, nil
		},
	}
}

// MockExecutor is a test/reference Executor. ExecuteFunc lets callers
// script multi-turn tool-calling sequences; without one it answers
// directly, echoing whatever tool results it was given.
type MockExecutor struct {
	ExecuteFunc func(ctx context.Context, in ExecutorInput) (*ExecutorOutput, error)

	CallCount int
}

// NewMockExecutor builds a MockExecutor with the echo default.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Execute implements Executor.
func (m *MockExecutor) Execute(ctx context.Context, in ExecutorInput) (*ExecutorOutput, error) {
	m.CallCount++
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, in)
	}

	if len(in.ToolResults) > 0 {
		var b strings.Builder
		b.WriteString("Here's what I found: ")
		for i, r := range in.ToolResults {
			if i > 0 {
				b.WriteString("; ")
			}
			if r.Error != "" {
				fmt.Fprintf(&b, "%s failed: %s", r.Name, r.Error)
			} else {
				fmt.Fprintf(&b, "%s -> %s", r.Name, r.Result)
			}
		}
		return &ExecutorOutput{FinalText: b.String()}, nil
	}

	return &ExecutorOutput{FinalText: fmt.Sprintf("I received your message: %s", in.RequestText)}, nil
}

// SingleToolExecutor returns an Executor that, on the first turn, calls
// toolName with params, then synthesizes a final text response from the
// tool result on the second turn — enough to drive the reference agent's
// end-to-end arithmetic scenarios.
func SingleToolExecutor(toolName string, params []byte) *MockExecutor {
	return &MockExecutor{
		ExecuteFunc: func(ctx context.Context, in ExecutorInput) (*ExecutorOutput, error) {
			if len(in.ToolResults) == 0 {
				return &ExecutorOutput{ToolCalls: []ToolCall{{Name: toolName, Params: params}}}, nil
			}
			r := in.ToolResults[0]
			if r.Error != "" {
				return &ExecutorOutput{FinalText: fmt.Sprintf("I couldn't complete that: %s", r.Error)}, nil
			}
			return &ExecutorOutput{FinalText: fmt.Sprintf("Result: %s", r.Result)}, nil
		},
	}
}
