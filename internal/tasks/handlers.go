package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianhq/orchestrator/internal/agentcore"
	"github.com/meridianhq/orchestrator/internal/workflow"
	"github.com/meridianhq/orchestrator/pkg/models"
)

// RunWorkflowPayload is the payload for models.KindRunWorkflow.
type RunWorkflowPayload struct {
	WorkflowName   string   `json:"workflow_name"`
	Input          string   `json:"input"`
	ConversationID string   `json:"conversation_id,omitempty"`
	PermitTools    []string `json:"permit_tools,omitempty"`
}

// ExecuteAgentPayload is the payload for models.KindExecuteAgent.
type ExecuteAgentPayload struct {
	AgentDefID  string   `json:"agent_def_id"`
	Input       string   `json:"input"`
	PermitTools []string `json:"permit_tools,omitempty"`
}

// IngestDocumentPayload is the payload for models.KindIngestDocument.
type IngestDocumentPayload struct {
	SourceRef string `json:"source_ref"`
}

// MultiModalAnalysisPayload is the payload for models.KindMultiModalAnalysis.
type MultiModalAnalysisPayload struct {
	MediaRef string         `json:"media_ref"`
	Options  map[string]any `json:"options,omitempty"`
}

// DocumentIngester is the external collaborator ingest_document delegates
// to; the task kind only records the outcome.
type DocumentIngester interface {
	Ingest(ctx context.Context, sourceRef string) (string, error)
}

// MediaAnalyzer is the external collaborator multi_modal_analysis
// delegates to.
type MediaAnalyzer interface {
	Analyze(ctx context.Context, mediaRef string, options map[string]any) (string, error)
}

// StandardHandlers wires the five standard-library task kinds to their
// collaborators (C5, C4, an ingester, an analyzer, and the log itself
// for cleanup).
type StandardHandlers struct {
	Runner          *workflow.Runner
	Executor        *agentcore.Executor
	Agents          map[string]*models.AgentDefinition
	Ingester        DocumentIngester
	Analyzer        MediaAnalyzer
	Log             Log
	RetentionWindow time.Duration
}

// Build returns the kind->Handler map Orchestrator.New expects.
func (h *StandardHandlers) Build() map[models.TaskKind]Handler {
	return map[models.TaskKind]Handler{
		models.KindRunWorkflow:        h.runWorkflow,
		models.KindExecuteAgent:       h.executeAgent,
		models.KindIngestDocument:     h.ingestDocument,
		models.KindMultiModalAnalysis: h.multiModalAnalysis,
		models.KindPeriodicCleanup:    h.periodicCleanup,
	}
}

func (h *StandardHandlers) runWorkflow(ctx context.Context, payload []byte) ([]byte, error) {
	var p RunWorkflowPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("run_workflow: %w", err)
	}

	result, err := h.Runner.Run(ctx, p.WorkflowName, p.Input, workflow.Options{ConversationID: p.ConversationID, PermitTools: p.PermitTools})
	if err != nil {
		return nil, fmt.Errorf("run_workflow: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("run_workflow: %w", result.Err)
	}
	return json.Marshal(result)
}

func (h *StandardHandlers) executeAgent(ctx context.Context, payload []byte) ([]byte, error) {
	var p ExecuteAgentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("execute_agent: %w", err)
	}

	def, ok := h.Agents[p.AgentDefID]
	if !ok {
		return nil, fmt.Errorf("execute_agent: unknown agent %q", p.AgentDefID)
	}
	def = def.WithPermittedTools(p.PermitTools)

	result, err := h.Executor.Execute(ctx, def, p.Input, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("execute_agent: %w", err)
	}
	return json.Marshal(result)
}

func (h *StandardHandlers) ingestDocument(ctx context.Context, payload []byte) ([]byte, error) {
	var p IngestDocumentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("ingest_document: %w", err)
	}
	if h.Ingester == nil {
		return nil, fmt.Errorf("ingest_document: no ingester configured")
	}
	outcome, err := h.Ingester.Ingest(ctx, p.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("ingest_document: %w", err)
	}
	return []byte(outcome), nil
}

func (h *StandardHandlers) multiModalAnalysis(ctx context.Context, payload []byte) ([]byte, error) {
	var p MultiModalAnalysisPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("multi_modal_analysis: %w", err)
	}
	if h.Analyzer == nil {
		return nil, fmt.Errorf("multi_modal_analysis: no analyzer configured")
	}
	outcome, err := h.Analyzer.Analyze(ctx, p.MediaRef, p.Options)
	if err != nil {
		return nil, fmt.Errorf("multi_modal_analysis: %w", err)
	}
	return []byte(outcome), nil
}

func (h *StandardHandlers) periodicCleanup(ctx context.Context, _ []byte) ([]byte, error) {
	retention := h.RetentionWindow
	if retention <= 0 {
		retention = DefaultConfig().RetentionWindow
	}
	pruned, err := h.Log.Prune(ctx, retention)
	if err != nil {
		return nil, fmt.Errorf("periodic_cleanup: %w", err)
	}
	return []byte(fmt.Sprintf(`{"pruned":%d}`, pruned)), nil
}
