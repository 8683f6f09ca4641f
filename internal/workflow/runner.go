// Package workflow implements the Workflow Runner (C5): linear,
// fixed-order chains of Agent Executor steps, with no dynamic handoff
// between agents.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/orchestrator/internal/agentcore"
	"github.com/meridianhq/orchestrator/internal/conversation"
	"github.com/meridianhq/orchestrator/internal/rag"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// ErrUnknownWorkflow is returned when run() is called with an
// unregistered workflow name — the only way the runner itself fails.
var ErrUnknownWorkflow = errors.New("workflow: unknown workflow")

// WorkflowResult is the runner's return value.
type WorkflowResult struct {
	WorkflowName string
	FinalText    string
	StepResults  []*agentcore.AgentResult
	AgentRoles   []string
	Elapsed      time.Duration
	Success      bool
	ContextUsed  bool
	Err          error
}

// Options configures a single run() invocation.
type Options struct {
	ConversationID    string
	ContextChunks     []models.RetrievedChunk
	RetrievalFilters  rag.Filters
	RetrievalK        int
	RetrievalMinScore float64
	// PermitTools is the caller's permit_tools option (spec.md §6): when
	// non-empty it narrows, but never widens, each step agent's own
	// PermittedTools.
	PermitTools []string
}

// Retriever narrows the RAG Retriever (C3) to the one operation the
// runner needs before composing a workflow's first step.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filters rag.Filters, k int, minScore float64) ([]models.RetrievedChunk, error)
}

// Runner executes registered WorkflowDefinitions.
type Runner struct {
	executor      *agentcore.Executor
	agents        map[string]*models.AgentDefinition
	workflows     map[string]*models.WorkflowDefinition
	conversations conversation.Store
	retriever     Retriever
}

// New builds a Runner. conversations may be nil if workflow results are
// never persisted (e.g. in tests).
func New(executor *agentcore.Executor, agents map[string]*models.AgentDefinition, conversations conversation.Store) *Runner {
	r := &Runner{
		executor:      executor,
		agents:        agents,
		workflows:     make(map[string]*models.WorkflowDefinition),
		conversations: conversations,
	}
	registerStandardLibrary(r)
	return r
}

// Register adds or replaces a workflow definition.
func (r *Runner) Register(def *models.WorkflowDefinition) {
	r.workflows[def.Name] = def
}

// UseRetriever wires C3 into the runner: when a run's caller does not
// supply pre-fetched ContextChunks, the runner retrieves them itself
// before invoking the first step.
func (r *Runner) UseRetriever(retriever Retriever) {
	r.retriever = retriever
}

// Run implements the runner's one operation: run(workflow_name,
// initial_input, options) -> WorkflowResult.
func (r *Runner) Run(ctx context.Context, workflowName, initialInput string, opts Options) (*WorkflowResult, error) {
	def, ok := r.workflows[workflowName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, workflowName)
	}

	start := time.Now()
	result := &WorkflowResult{WorkflowName: workflowName}

	if strings.TrimSpace(initialInput) == "" {
		result.FinalText = "Could you clarify what you'd like help with? Your message came through empty."
		result.AgentRoles = nil
		result.Success = true
		result.Elapsed = time.Since(start)
		if r.conversations != nil && opts.ConversationID != "" {
			if err := r.persistTurn(ctx, opts.ConversationID, initialInput, result.FinalText); err != nil {
				result.Success = false
				result.Err = fmt.Errorf("workflow: persisting conversation turn: %w", err)
			}
		}
		return result, nil
	}

	history := r.loadHistory(ctx, opts.ConversationID)
	contextChunks := r.resolveContext(ctx, initialInput, opts)
	result.ContextUsed = len(history) > 0 || len(contextChunks) > 0

	var priorOutput string
	for i, step := range def.Steps {
		agentDef, ok := r.agents[step.AgentID]
		if !ok {
			result.Elapsed = time.Since(start)
			result.Success = false
			result.Err = fmt.Errorf("workflow: step %d references unknown agent %q", i, step.AgentID)
			return result, nil
		}

		stepInput := computeStepInput(step, initialInput, priorOutput, i)
		agentDef = agentDef.WithPermittedTools(opts.PermitTools)

		stepResult, err := r.executor.Execute(ctx, agentDef, stepInput, contextChunks, history)
		if err != nil {
			result.Elapsed = time.Since(start)
			result.Success = false
			result.Err = fmt.Errorf("workflow: step %d (agent %q) failed catastrophically: %w", i, step.AgentID, err)
			return result, nil
		}

		result.StepResults = append(result.StepResults, stepResult)
		result.AgentRoles = append(result.AgentRoles, agentDef.Role)
		priorOutput = stepResult.Answer
	}

	result.FinalText = priorOutput
	result.Elapsed = time.Since(start)
	result.Success = true

	if r.conversations != nil && opts.ConversationID != "" {
		if err := r.persistTurn(ctx, opts.ConversationID, initialInput, result.FinalText); err != nil {
			result.Success = false
			result.Err = fmt.Errorf("workflow: persisting conversation turn: %w", err)
			return result, nil
		}
	}

	return result, nil
}

// persistTurn appends the user/assistant turn pair exactly once, only on
// a successful run; the runner is the only component permitted to
// instruct the conversation store to append turns, and never on abort.
func (r *Runner) persistTurn(ctx context.Context, conversationID, input, answer string) error {
	if _, err := r.conversations.AppendMessage(ctx, conversationID, models.RoleUser, input, nil); err != nil {
		return err
	}
	if _, err := r.conversations.AppendMessage(ctx, conversationID, models.RoleAssistant, answer, nil); err != nil {
		return err
	}
	return nil
}

// loadHistory fetches prior turns for conversationID so the first step's
// prompt carries the conversation's context, per scenario 3 of the
// context-dependent follow-up: a missing or unknown conversation simply
// yields no history rather than failing the run.
func (r *Runner) loadHistory(ctx context.Context, conversationID string) []models.Message {
	if r.conversations == nil || conversationID == "" {
		return nil
	}
	history, err := r.conversations.LoadConversation(ctx, conversationID, 0)
	if err != nil {
		return nil
	}
	return history
}

// resolveContext returns the caller-supplied context chunks verbatim, or
// if none were supplied and a retriever is wired, retrieves them for
// initialInput. A vector-backend failure here is absorbed: the workflow
// proceeds with empty context rather than aborting (§7: "Workflow
// success possible" for VectorBackendUnavailable).
func (r *Runner) resolveContext(ctx context.Context, initialInput string, opts Options) []models.RetrievedChunk {
	if len(opts.ContextChunks) > 0 || r.retriever == nil {
		return opts.ContextChunks
	}
	k := opts.RetrievalK
	if k <= 0 {
		k = 5
	}
	chunks, err := r.retriever.Retrieve(ctx, initialInput, opts.RetrievalFilters, k, opts.RetrievalMinScore)
	if err != nil {
		return nil
	}
	return chunks
}

func computeStepInput(step models.WorkflowStep, initialInput, priorOutput string, index int) string {
	switch step.InputRule {
	case models.InputFromPriorStep:
		if index == 0 {
			return initialInput
		}
		return fmt.Sprintf("Prior step output:\n%s\n\nOriginal request:\n%s", priorOutput, initialInput)
	case models.InputTemplate:
		return strings.NewReplacer("{{query}}", initialInput, "{{prior}}", priorOutput).Replace(step.Template)
	default: // models.InputFromQuery
		return initialInput
	}
}
