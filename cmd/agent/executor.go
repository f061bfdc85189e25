package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/genesis-framework/genesis/internal/agent/llm"
)

// arithmeticStep is one planned call; usePrevious means the left operand is
// the previous step's result rather than a literal parsed from the text.
type arithmeticStep struct {
	op          string
	a, b        float64
	usePrevious bool
}

var (
	reTwoStep  = regexp.MustCompile(`\(\s*(-?\d+(?:\.\d+)?)\s*\+\s*(-?\d+(?:\.\d+)?)\s*\)\s*\*\s*(-?\d+(?:\.\d+)?)`)
	reAdd      = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:\+|plus)\s*(-?\d+(?:\.\d+)?)`)
	reMultiply = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:\*|times|multiplied by)\s*(-?\d+(?:\.\d+)?)`)
	reDivide   = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:/|divided by)\s*(-?\d+(?:\.\d+)?)`)
)

func parseArithmetic(text string) []arithmeticStep {
	if m := reTwoStep.FindStringSubmatch(text); m != nil {
		a, _ := strconv.ParseFloat(m[1], 64)
		b, _ := strconv.ParseFloat(m[2], 64)
		c, _ := strconv.ParseFloat(m[3], 64)
		return []arithmeticStep{
			{op: "add", a: a, b: b},
			{op: "multiply", b: c, usePrevious: true},
		}
	}
	if m := reAdd.FindStringSubmatch(text); m != nil {
		a, _ := strconv.ParseFloat(m[1], 64)
		b, _ := strconv.ParseFloat(m[2], 64)
		return []arithmeticStep{{op: "add", a: a, b: b}}
	}
	if m := reMultiply.FindStringSubmatch(text); m != nil {
		a, _ := strconv.ParseFloat(m[1], 64)
		b, _ := strconv.ParseFloat(m[2], 64)
		return []arithmeticStep{{op: "multiply", a: a, b: b}}
	}
	if m := reDivide.FindStringSubmatch(text); m != nil {
		a, _ := strconv.ParseFloat(m[1], 64)
		b, _ := strconv.ParseFloat(m[2], 64)
		return []arithmeticStep{{op: "divide", a: a, b: b}}
	}
	return nil
}

// ArithmeticExecutor is the reference demo Executor (§1 explicitly leaves
// concrete LLM vendor clients out of scope): it recognizes the seed
// scenarios' arithmetic phrasing and drives the add/multiply/divide tools
// in sequence, chaining one step's result into the next step's operand —
// the same shape a real executor LLM's multi-turn tool loop would take.
type ArithmeticExecutor struct {
	mu       sync.Mutex
	progress map[string]int
	lastVal  map[string]float64
}

// NewArithmeticExecutor builds an ArithmeticExecutor.
func NewArithmeticExecutor() *ArithmeticExecutor {
	return &ArithmeticExecutor{
		progress: make(map[string]int),
		lastVal:  make(map[string]float64),
	}
}

// Execute implements llm.Executor.
func (e *ArithmeticExecutor) Execute(ctx context.Context, in llm.ExecutorInput) (*llm.ExecutorOutput, error) {
	plan := parseArithmetic(in.RequestText)
	if plan == nil {
		return &llm.ExecutorOutput{FinalText: fmt.Sprintf("I couldn't find an arithmetic expression in: %q", in.RequestText)}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := in.RequestText
	idx := e.progress[key]

	if len(in.ToolResults) > 0 {
		r := in.ToolResults[0]
		if r.Error != "" {
			delete(e.progress, key)
			delete(e.lastVal, key)
			return &llm.ExecutorOutput{FinalText: fmt.Sprintf("The calculation failed: %s", r.Error)}, nil
		}
		var val float64
		if err := json.Unmarshal([]byte(r.Result), &val); err != nil {
			delete(e.progress, key)
			delete(e.lastVal, key)
			return &llm.ExecutorOutput{FinalText: fmt.Sprintf("Unexpected result from %s: %s", r.Name, r.Result)}, nil
		}
		e.lastVal[key] = val
		idx++
		e.progress[key] = idx
	}

	if idx >= len(plan) {
		val := e.lastVal[key]
		delete(e.progress, key)
		delete(e.lastVal, key)
		return &llm.ExecutorOutput{FinalText: fmt.Sprintf("The result is %s", strconv.FormatFloat(val, 'g', -1, 64))}, nil
	}

	step := plan[idx]
	a := step.a
	if step.usePrevious {
		a = e.lastVal[key]
	}
	params, err := json.Marshal(map[string]float64{"x": a, "y": step.b})
	if err != nil {
		return nil, fmt.Errorf("arithmetic executor: marshal params: %w", err)
	}
	return &llm.ExecutorOutput{ToolCalls: []llm.ToolCall{{Name: step.op, Params: params}}}, nil
}
