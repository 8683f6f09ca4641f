package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/orchestrator/internal/agentcore"
	"github.com/meridianhq/orchestrator/internal/providers"
	"github.com/meridianhq/orchestrator/internal/workflow"
	"github.com/meridianhq/orchestrator/pkg/models"
)

type scriptedProvider struct {
	text string
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Complete(_ context.Context, _ *providers.CompletionRequest) (*providers.CompletionResult, error) {
	return &providers.CompletionResult{Text: p.text}, nil
}

func testExecutor(finalText string) *agentcore.Executor {
	d := providers.NewDispatcher([]providers.Provider{&scriptedProvider{text: finalText}}, []models.ProviderDescriptor{{}})
	return agentcore.New(d, nil, 0)
}

func TestStandardHandlers_RunWorkflow_Success(t *testing.T) {
	exec := testExecutor("FINAL ANSWER: it works")
	agents := map[string]*models.AgentDefinition{"researcher": {ID: "researcher", Role: "researcher"}}
	runner := workflow.New(exec, agents, nil)
	h := &StandardHandlers{Runner: runner}

	payload, err := json.Marshal(RunWorkflowPayload{WorkflowName: "simple_research", Input: "query"})
	require.NoError(t, err)

	out, err := h.Build()[models.KindRunWorkflow](context.Background(), payload)
	require.NoError(t, err)

	var result workflow.WorkflowResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "it works", result.FinalText)
}

func TestStandardHandlers_RunWorkflow_UnknownWorkflowFails(t *testing.T) {
	exec := testExecutor("FINAL ANSWER: unused")
	runner := workflow.New(exec, map[string]*models.AgentDefinition{}, nil)
	h := &StandardHandlers{Runner: runner}

	payload, err := json.Marshal(RunWorkflowPayload{WorkflowName: "no_such_workflow"})
	require.NoError(t, err)

	_, err = h.Build()[models.KindRunWorkflow](context.Background(), payload)
	require.Error(t, err)
}

func TestStandardHandlers_ExecuteAgent_Success(t *testing.T) {
	exec := testExecutor("FINAL ANSWER: agent done")
	agents := map[string]*models.AgentDefinition{"researcher": {ID: "researcher"}}
	h := &StandardHandlers{Executor: exec, Agents: agents}

	payload, err := json.Marshal(ExecuteAgentPayload{AgentDefID: "researcher", Input: "q"})
	require.NoError(t, err)

	out, err := h.Build()[models.KindExecuteAgent](context.Background(), payload)
	require.NoError(t, err)

	var result agentcore.AgentResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "agent done", result.Answer)
}

func TestStandardHandlers_ExecuteAgent_UnknownAgentFails(t *testing.T) {
	h := &StandardHandlers{Executor: testExecutor("unused"), Agents: map[string]*models.AgentDefinition{}}

	payload, err := json.Marshal(ExecuteAgentPayload{AgentDefID: "missing"})
	require.NoError(t, err)

	_, err = h.Build()[models.KindExecuteAgent](context.Background(), payload)
	require.Error(t, err)
}

type fakeIngester struct {
	result string
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, _ string) (string, error) { return f.result, f.err }

func TestStandardHandlers_IngestDocument_DelegatesToIngester(t *testing.T) {
	h := &StandardHandlers{Ingester: &fakeIngester{result: "ingested:doc-1"}}

	payload, err := json.Marshal(IngestDocumentPayload{SourceRef: "doc-1"})
	require.NoError(t, err)

	out, err := h.Build()[models.KindIngestDocument](context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "ingested:doc-1", string(out))
}

func TestStandardHandlers_IngestDocument_NoIngesterConfiguredFails(t *testing.T) {
	h := &StandardHandlers{}
	payload, err := json.Marshal(IngestDocumentPayload{SourceRef: "doc-1"})
	require.NoError(t, err)

	_, err = h.Build()[models.KindIngestDocument](context.Background(), payload)
	require.Error(t, err)
}

type fakeAnalyzer struct{ err error }

func (f *fakeAnalyzer) Analyze(_ context.Context, mediaRef string, _ map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "analyzed:" + mediaRef, nil
}

func TestStandardHandlers_MultiModalAnalysis_DelegatesToAnalyzer(t *testing.T) {
	h := &StandardHandlers{Analyzer: &fakeAnalyzer{}}
	payload, err := json.Marshal(MultiModalAnalysisPayload{MediaRef: "clip-1"})
	require.NoError(t, err)

	out, err := h.Build()[models.KindMultiModalAnalysis](context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "analyzed:clip-1", string(out))
}

func TestStandardHandlers_MultiModalAnalysis_PropagatesAnalyzerFailure(t *testing.T) {
	h := &StandardHandlers{Analyzer: &fakeAnalyzer{err: errors.New("decode failed")}}
	payload, err := json.Marshal(MultiModalAnalysisPayload{MediaRef: "clip-1"})
	require.NoError(t, err)

	_, err = h.Build()[models.KindMultiModalAnalysis](context.Background(), payload)
	require.Error(t, err)
}

func TestStandardHandlers_PeriodicCleanup_PrunesOldTerminalTasks(t *testing.T) {
	log := NewMemoryLog()
	old := time.Now().Add(-48 * time.Hour)
	finished := &old
	require.NoError(t, log.Create(context.Background(), &models.Task{
		ID: "old-1", Kind: models.KindExecuteAgent, State: models.TaskCompleted,
		CreatedAt: old, UpdatedAt: old, FinishedAt: finished,
	}))

	h := &StandardHandlers{Log: log, RetentionWindow: time.Hour}

	out, err := h.Build()[models.KindPeriodicCleanup](context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pruned":1}`, string(out))
}
