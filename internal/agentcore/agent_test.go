package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/orchestrator/internal/providers"
	"github.com/meridianhq/orchestrator/internal/tools"
	"github.com/meridianhq/orchestrator/pkg/models"
)

type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ *providers.CompletionRequest) (*providers.CompletionResult, error) {
	if p.calls >= len(p.responses) {
		return nil, errors.New("scriptedProvider: no more responses")
	}
	text := p.responses[p.calls]
	p.calls++
	return &providers.CompletionResult{Text: text, TokensUsed: 5}, nil
}

func dispatcherWith(responses ...string) *providers.Dispatcher {
	p := &scriptedProvider{responses: responses}
	return providers.NewDispatcher([]providers.Provider{p}, []models.ProviderDescriptor{{Timeout: 0}})
}

func testAgent() *models.AgentDefinition {
	return &models.AgentDefinition{ID: "researcher", Role: "researcher", Goal: "research", MaxTokens: 512, Temperature: 0.2}
}

func TestExecute_FinalAnswer(t *testing.T) {
	exec := New(dispatcherWith("FINAL ANSWER: the sky is blue"), nil, 0)

	result, err := exec.Execute(context.Background(), testAgent(), "why is the sky blue?", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Truncated)
	assert.Equal(t, "the sky is blue", result.Answer)
	assert.Equal(t, "scripted", result.Provider)
}

func TestExecute_UnparseableIsFinalAnswerWithParseRecovery(t *testing.T) {
	exec := New(dispatcherWith("just some prose with no marker"), nil, 0)

	result, err := exec.Execute(context.Background(), testAgent(), "input", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.ParseRecovery)
	assert.Equal(t, "just some prose with no marker", result.Answer)
}

func TestExecute_ToolCallThenFinalAnswer(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	toolCall := `TOOL CALL: {"name":"echo","args":{"text":"ping"}}`
	exec := New(dispatcherWith(toolCall, "FINAL ANSWER: done"), registry, 0)

	result, err := exec.Execute(context.Background(), testAgent(), "input", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Answer)
	assert.Contains(t, result.ToolsInvoked, "echo")

	var sawObservation bool
	for _, s := range result.Steps {
		if s.Kind == StepObservation && s.Tool == "echo" {
			sawObservation = true
			assert.Contains(t, s.Content, "ping")
		}
	}
	assert.True(t, sawObservation)
}

func TestExecute_ToolFailureIsAbsorbedNotAborted(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&failingTool{}))

	toolCall := `TOOL CALL: {"name":"fail","args":{}}`
	exec := New(dispatcherWith(toolCall, "FINAL ANSWER: pivoted after failure"), registry, 0)

	result, err := exec.Execute(context.Background(), testAgent(), "input", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "pivoted after failure", result.Answer)

	var sawFailureObservation bool
	for _, s := range result.Steps {
		if s.Kind == StepObservation && s.Tool == "fail" {
			sawFailureObservation = true
		}
	}
	assert.True(t, sawFailureObservation)
}

func TestExecute_ToolNotInPermittedSetIsRejectedWithoutInvokingRegistry(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	toolCall := `TOOL CALL: {"name":"echo","args":{"text":"ping"}}`
	exec := New(dispatcherWith(toolCall, "FINAL ANSWER: done"), registry, 0)

	agent := testAgent()
	agent.PermittedTools = []string{"calculator"}

	result, err := exec.Execute(context.Background(), agent, "input", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Answer)

	var sawDenial bool
	for _, s := range result.Steps {
		if s.Kind == StepObservation && s.Tool == "echo" {
			sawDenial = true
			assert.Contains(t, s.Content, "not permitted")
		}
	}
	assert.True(t, sawDenial)
}

func TestExecute_ToolInPermittedSetIsInvoked(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	toolCall := `TOOL CALL: {"name":"echo","args":{"text":"ping"}}`
	exec := New(dispatcherWith(toolCall, "FINAL ANSWER: done"), registry, 0)

	agent := testAgent()
	agent.PermittedTools = []string{"echo"}

	result, err := exec.Execute(context.Background(), agent, "input", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result.Answer)

	var sawEcho bool
	for _, s := range result.Steps {
		if s.Kind == StepObservation && s.Tool == "echo" {
			sawEcho = true
			assert.Contains(t, s.Content, "echo: ping")
		}
	}
	assert.True(t, sawEcho)
}

func TestExecute_MaxStepsExhaustedReturnsTruncated(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&echoTool{}))

	toolCall := `TOOL CALL: {"name":"echo","args":{"text":"loop"}}`
	exec := New(dispatcherWith(toolCall, toolCall, toolCall), registry, 3)

	result, err := exec.Execute(context.Background(), testAgent(), "input", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Answer, "loop")
}

func TestExecute_NoDispatcherReturnsFallback(t *testing.T) {
	exec := New(nil, nil, 0)

	result, err := exec.Execute(context.Background(), testAgent(), "hello?", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.True(t, result.Success)
	assert.Contains(t, result.Answer, "researcher")
}

func TestExecute_AllProvidersExhaustedIsCatastrophic(t *testing.T) {
	exec := New(dispatcherWith(), nil, 0)

	_, err := exec.Execute(context.Background(), testAgent(), "input", nil, nil)
	require.Error(t, err)
}

// echoTool and failingTool are minimal tools.Tool implementations for
// exercising the executor's tool-call and tool-failure-absorption paths.

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes its text argument" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Invoke(_ context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &p)
	return "echo: " + p.Text, nil
}

type failingTool struct{}

func (failingTool) Name() string            { return "fail" }
func (failingTool) Description() string     { return "always fails" }
func (failingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (failingTool) Invoke(_ context.Context, _ json.RawMessage) (string, error) {
	return "", errors.New("boom")
}
