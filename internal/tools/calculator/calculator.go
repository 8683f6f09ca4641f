// Package calculator implements a minimal arithmetic tool against the
// registry's string-result Invoke contract.
package calculator

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool evaluates a single binary arithmetic operation.
type Tool struct{}

// New constructs a calculator tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Name() string        { return "calculator" }
func (t *Tool) Description() string { return "Evaluates a single binary arithmetic operation (add, sub, mul, div)." }

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"required": ["operation", "a", "b"],
		"properties": {
			"operation": {"type": "string", "enum": ["add", "sub", "mul", "div"]},
			"a": {"type": "number"},
			"b": {"type": "number"}
		}
	}`)
}

type params struct {
	Operation string  `json:"operation"`
	A         float64 `json:"a"`
	B         float64 `json:"b"`
}

func (t *Tool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("calculator: %w", err)
	}

	var result float64
	switch p.Operation {
	case "add":
		result = p.A + p.B
	case "sub":
		result = p.A - p.B
	case "mul":
		result = p.A * p.B
	case "div":
		if p.B == 0 {
			return "", fmt.Errorf("calculator: division by zero")
		}
		result = p.A / p.B
	default:
		return "", fmt.Errorf("calculator: unknown operation %q", p.Operation)
	}

	return fmt.Sprintf("%g", result), nil
}
