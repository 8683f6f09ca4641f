package models

// AgentDefinition is a named role: a system prompt, a permitted tool set,
// generation parameters, and a back-pointer to the provider chain it
// should use by default. Immutable at runtime — callers clone before
// mutating.
type AgentDefinition struct {
	ID              string   `json:"id"`
	Role            string   `json:"role"`
	Goal            string   `json:"goal,omitempty"`
	SystemPrompt    string   `json:"system_prompt"`
	PermittedTools  []string `json:"permitted_tools,omitempty"`
	Temperature     float64  `json:"temperature"`
	MaxTokens       int      `json:"max_tokens"`
	ProviderChainID string   `json:"provider_chain_id,omitempty"`
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the registered definition.
func (a *AgentDefinition) Clone() *AgentDefinition {
	if a == nil {
		return nil
	}
	clone := *a
	if a.PermittedTools != nil {
		clone.PermittedTools = append([]string(nil), a.PermittedTools...)
	}
	return &clone
}

// WithPermittedTools returns a clone whose PermittedTools is narrowed to
// the intersection of a's own set and callerPermitted — a caller-side
// permit_tools option (spec.md §6) can only restrict further, never
// widen, what the definition itself allows. An empty callerPermitted
// returns a unchanged; an unrestricted definition (nil PermittedTools)
// is narrowed down to exactly callerPermitted.
func (a *AgentDefinition) WithPermittedTools(callerPermitted []string) *AgentDefinition {
	if len(callerPermitted) == 0 {
		return a
	}

	narrowed := a.Clone()
	if len(a.PermittedTools) == 0 {
		narrowed.PermittedTools = append([]string(nil), callerPermitted...)
		return narrowed
	}

	allowed := make([]string, 0, len(a.PermittedTools))
	for _, t := range a.PermittedTools {
		for _, c := range callerPermitted {
			if t == c {
				allowed = append(allowed, t)
				break
			}
		}
	}
	narrowed.PermittedTools = allowed
	return narrowed
}

// WorkflowStep names an Agent Definition and how to build its input from
// the initial query and prior step outputs.
type WorkflowStep struct {
	AgentID    string `json:"agent_id"`
	InputRule  InputRule `json:"input_rule"`
	Template   string `json:"template,omitempty"`
}

// InputRule selects how a step's input is constructed.
type InputRule string

const (
	// InputFromQuery feeds the workflow's original input text verbatim.
	InputFromQuery InputRule = "initial_query"

	// InputFromPriorStep feeds the immediately preceding step's output,
	// augmented with a structured "prior step output" block.
	InputFromPriorStep InputRule = "prior_step_output"

	// InputTemplate fills Template with "{{query}}" and "{{prior}}"
	// placeholders.
	InputTemplate InputRule = "template"
)

// WorkflowDefinition is a named, finite, ordered sequence of steps.
type WorkflowDefinition struct {
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps"`
}
