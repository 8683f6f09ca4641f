package agentcore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridianhq/orchestrator/pkg/models"
)

func TestParseCompletion_FinalAnswer(t *testing.T) {
	outcome, parsed := parseCompletion("FINAL ANSWER: the sky is blue")
	assert.Equal(t, outcomeFinalAnswer, outcome)
	assert.Equal(t, "the sky is blue", parsed.answer)
}

func TestParseCompletion_ToolCallWithValidJSON(t *testing.T) {
	outcome, parsed := parseCompletion(`TOOL CALL: {"name":"calculator","args":{"operation":"add","a":1,"b":2}}`)
	assert.Equal(t, outcomeToolCall, outcome)
	assert.Equal(t, "calculator", parsed.toolName)
	assert.JSONEq(t, `{"operation":"add","a":1,"b":2}`, string(parsed.toolArgs))
}

func TestParseCompletion_ToolCallWithMalformedJSONIsUnparseable(t *testing.T) {
	outcome, _ := parseCompletion(`TOOL CALL: {not valid json`)
	assert.Equal(t, outcomeUnparseable, outcome)
}

func TestParseCompletion_ToolCallMissingNameIsUnparseable(t *testing.T) {
	outcome, _ := parseCompletion(`TOOL CALL: {"args":{}}`)
	assert.Equal(t, outcomeUnparseable, outcome)
}

func TestParseCompletion_PlainTextIsUnparseable(t *testing.T) {
	outcome, _ := parseCompletion("I am thinking about this problem.")
	assert.Equal(t, outcomeUnparseable, outcome)
}

func TestParseCompletion_TrimsSurroundingWhitespace(t *testing.T) {
	outcome, parsed := parseCompletion("  \n FINAL ANSWER: trimmed  \n")
	assert.Equal(t, outcomeFinalAnswer, outcome)
	assert.Equal(t, "trimmed", parsed.answer)
}

func TestBuildPrompt_IncludesRoleGoalAndInput(t *testing.T) {
	def := &models.AgentDefinition{Role: "researcher", Goal: "find facts"}
	prompt := buildPrompt(def, "what is the capital of France?", nil, nil, nil)
	assert.Contains(t, prompt, "Role: researcher")
	assert.Contains(t, prompt, "Goal: find facts")
	assert.Contains(t, prompt, "Input: what is the capital of France?")
}

func TestBuildPrompt_IncludesRetrievedContextWhenPresent(t *testing.T) {
	def := &models.AgentDefinition{Role: "researcher"}
	chunks := []models.RetrievedChunk{{DocumentID: "doc-1", Text: "Paris is the capital of France."}}
	prompt := buildPrompt(def, "query", chunks, nil, nil)
	assert.Contains(t, prompt, "Retrieved context:")
	assert.Contains(t, prompt, "doc-1")
	assert.Contains(t, prompt, "Paris is the capital of France.")
}

func TestBuildPrompt_IncludesConversationHistoryWhenPresent(t *testing.T) {
	def := &models.AgentDefinition{Role: "researcher"}
	history := []models.Message{{Role: models.RoleUser, Content: "hello"}}
	prompt := buildPrompt(def, "query", nil, history, nil)
	assert.Contains(t, prompt, "Conversation history:")
	assert.Contains(t, prompt, "user: hello")
}

func TestBuildPrompt_IncludesPriorReasoningStepsWhenPresent(t *testing.T) {
	def := &models.AgentDefinition{Role: "researcher"}
	steps := []ReasoningStep{{Kind: StepThought, Content: "I should search first"}}
	prompt := buildPrompt(def, "query", nil, nil, steps)
	assert.Contains(t, prompt, "Reasoning so far:")
	assert.Contains(t, prompt, "I should search first")
}

func TestBuildPrompt_OmitsOptionalSectionsWhenEmpty(t *testing.T) {
	def := &models.AgentDefinition{Role: "researcher"}
	prompt := buildPrompt(def, "query", nil, nil, nil)
	assert.NotContains(t, prompt, "Retrieved context:")
	assert.NotContains(t, prompt, "Conversation history:")
	assert.NotContains(t, prompt, "Reasoning so far:")
}
