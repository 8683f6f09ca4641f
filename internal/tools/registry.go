// Package tools implements the Tool Registry (C2): a thread-safe,
// name-keyed store of invocable capabilities.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool-name and parameter limits guard against resource exhaustion.
const (
	MaxToolNameLength  = 256
	MaxToolParamsSize  = 10 << 20
)

// Tool is a single invocable capability: a name, a JSON Schema describing
// its input, and an Invoke function.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry implements the Tool Registry contract: register(tool),
// resolve(name), list().
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry ready for tool registration.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool by name. Re-registration replaces an existing
// entry; names are unique. A malformed schema is rejected rather than
// registered silently.
func (r *Registry) Register(tool Tool) error {
	compiled, err := compileSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("tools: registering %q: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = compiled
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Resolve returns a tool by name, or ErrNotFound.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// List returns every registered tool name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Invoke resolves name and runs it against args, validating args against
// the tool's input schema first. Invocations are single-shot: the
// registry never retries, leaving retry policy to the caller (the Agent
// Executor).
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if len(name) > MaxToolNameLength {
		return "", fmt.Errorf("%w: tool name exceeds %d characters", ErrToolInputInvalid, MaxToolNameLength)
	}
	if len(args) > MaxToolParamsSize {
		return "", fmt.Errorf("%w: arguments exceed %d bytes", ErrToolInputInvalid, MaxToolParamsSize)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	if schema != nil {
		var decoded any
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if err := json.Unmarshal(args, &decoded); err != nil {
			return "", fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
		}
		if err := schema.Validate(decoded); err != nil {
			return "", fmt.Errorf("%w: %v", ErrToolInputInvalid, err)
		}
	}

	result, err := tool.Invoke(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %v", ErrToolTimeout, ctxErr)
		}
		return "", fmt.Errorf("%w: %v", ErrToolExecutionFailed, err)
	}
	return result, nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	resourceName := name + ".json"
	if err := compiler.AddResource(resourceName, bytesReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}
