// Package agentcore implements the Agent Executor (C4): a budgeted
// reason/act/observe loop over one Agent Definition, with a
// text-in/AgentResult-out contract.
package agentcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridianhq/orchestrator/internal/providers"
	"github.com/meridianhq/orchestrator/internal/tools"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// DefaultMaxSteps is the ReAct loop's default hard iteration cap.
const DefaultMaxSteps = 6

// StepKind distinguishes the three members of a reasoning step.
type StepKind string

const (
	StepThought     StepKind = "thought"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
)

// ReasoningStep is one entry in an AgentResult's trace.
type ReasoningStep struct {
	Kind    StepKind
	Content string
	Tool    string
}

// AgentResult is the Agent Executor's return value.
type AgentResult struct {
	Answer       string
	Steps        []ReasoningStep
	ToolsInvoked []string
	Provider     string
	TokensUsed   int
	Success       bool
	Fallback      bool
	Truncated     bool
	ParseRecovery bool
}

// Executor runs Agent Definitions to completion.
type Executor struct {
	dispatcher *providers.Dispatcher
	registry   *tools.Registry
	maxSteps   int
}

// New builds an Executor. A nil dispatcher is valid: Execute then
// returns a deterministic fallback answer instead of calling out.
func New(dispatcher *providers.Dispatcher, registry *tools.Registry, maxSteps int) *Executor {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Executor{dispatcher: dispatcher, registry: registry, maxSteps: maxSteps}
}

// Execute runs one Agent Definition over input, consulting contextChunks
// and conversationHistory when building each prompt.
func (e *Executor) Execute(ctx context.Context, def *models.AgentDefinition, input string, contextChunks []models.RetrievedChunk, conversationHistory []models.Message) (*AgentResult, error) {
	if e.dispatcher == nil {
		return e.fallbackResult(def, input), nil
	}

	result := &AgentResult{}
	var steps []ReasoningStep
	permitted := def.PermittedTools

	for iteration := 0; iteration < e.maxSteps; iteration++ {
		prompt := buildPrompt(def, input, contextChunks, conversationHistory, steps)

		completion, providerName, err := e.dispatcher.Generate(ctx, &providers.CompletionRequest{
			System:      def.SystemPrompt,
			Messages:    []providers.Message{{Role: "user", Content: prompt}},
			MaxTokens:   def.MaxTokens,
			Temperature: def.Temperature,
		})
		if err != nil {
			// An empty provider chain is the no-provider-available path.
			var exhausted *providers.AllProvidersExhaustedError
			if errors.As(err, &exhausted) && len(exhausted.Failures) == 0 {
				return e.fallbackResult(def, input), nil
			}
			// Every provider failed: the only catastrophic failure mode
			// here (tool failures never reach this point).
			return nil, fmt.Errorf("agentcore: %w", err)
		}

		result.Provider = providerName
		result.TokensUsed += completion.TokensUsed

		outcome, parsed := parseCompletion(completion.Text)
		switch outcome {
		case outcomeFinalAnswer:
			steps = append(steps, ReasoningStep{Kind: StepThought, Content: completion.Text})
			result.Answer = parsed.answer
			result.Steps = steps
			result.Success = true
			return result, nil

		case outcomeToolCall:
			steps = append(steps, ReasoningStep{Kind: StepAction, Content: completion.Text, Tool: parsed.toolName})
			result.ToolsInvoked = append(result.ToolsInvoked, parsed.toolName)

			observation := e.invokeTool(ctx, parsed.toolName, parsed.toolArgs, permitted)
			steps = append(steps, ReasoningStep{Kind: StepObservation, Content: observation, Tool: parsed.toolName})
			continue

		default: // outcomeUnparseable
			steps = append(steps, ReasoningStep{Kind: StepThought, Content: completion.Text})
			result.Answer = completion.Text
			result.Steps = steps
			result.Success = true
			result.ParseRecovery = true
			return result, nil
		}
	}

	// Exhausted max_steps without a final answer: summarize the last
	// observation as the answer.
	result.Steps = steps
	result.Success = true
	result.Truncated = true
	result.Answer = lastObservationSummary(steps)
	return result, nil
}

// invokeTool resolves and runs a tool, absorbing any failure into an
// observation string rather than aborting the loop. permitted is the
// agent definition's permitted tool set (subset of the Tool Registry per
// spec.md §3); a nil/empty set means the definition places no
// restriction of its own, but an explicit list is enforced before the
// registry is ever consulted.
func (e *Executor) invokeTool(ctx context.Context, name string, args []byte, permitted []string) string {
	if len(permitted) > 0 && !containsTool(permitted, name) {
		return fmt.Sprintf("tool %q is not permitted for this agent", name)
	}

	if e.registry == nil {
		return fmt.Sprintf("tool %q unavailable: no tool registry configured", name)
	}

	result, err := e.registry.Invoke(ctx, name, args)
	if err == nil {
		return result
	}

	switch {
	case errors.Is(err, tools.ErrToolInputInvalid):
		return fmt.Sprintf("tool %q rejected its arguments: %v", name, err)
	case errors.Is(err, tools.ErrToolTimeout):
		return fmt.Sprintf("tool %q timed out: %v", name, err)
	case errors.Is(err, tools.ErrNotFound):
		return fmt.Sprintf("tool %q is not registered", name)
	default:
		return fmt.Sprintf("tool %q failed: %v", name, err)
	}
}

func containsTool(permitted []string, name string) bool {
	for _, p := range permitted {
		if p == name {
			return true
		}
	}
	return false
}

func lastObservationSummary(steps []ReasoningStep) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Kind == StepObservation {
			return steps[i].Content
		}
	}
	return "no answer reached within the iteration budget"
}

// fallbackResult handles the no-provider-available path.
func (e *Executor) fallbackResult(def *models.AgentDefinition, input string) *AgentResult {
	answer := fmt.Sprintf(
		"[fallback] agent %q (role %q) received query %q but no LLM provider is configured; this is a stub response.",
		def.ID, def.Role, strings.TrimSpace(input),
	)
	return &AgentResult{
		Answer:   answer,
		Success:  true,
		Fallback: true,
	}
}
