package agentcore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meridianhq/orchestrator/pkg/models"
)

type completionOutcome int

const (
	outcomeUnparseable completionOutcome = iota
	outcomeFinalAnswer
	outcomeToolCall
)

type parsedCompletion struct {
	answer  string
	toolName string
	toolArgs json.RawMessage
}

// finalAnswerMarker and toolCallMarker are the structured-field prefixes
// the executor looks for when parsing a completion, mirroring the
// thought/action framing a ReAct-style agent is prompted to emit.
const (
	finalAnswerMarker = "FINAL ANSWER:"
	toolCallMarker    = "TOOL CALL:"
)

// toolCallPayload is the JSON shape expected after a TOOL CALL: marker.
type toolCallPayload struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// parseCompletion classifies a completion into a three-way outcome:
// final answer, tool call, or unparseable.
func parseCompletion(text string) (completionOutcome, parsedCompletion) {
	trimmed := strings.TrimSpace(text)

	if idx := strings.Index(trimmed, finalAnswerMarker); idx != -1 {
		answer := strings.TrimSpace(trimmed[idx+len(finalAnswerMarker):])
		return outcomeFinalAnswer, parsedCompletion{answer: answer}
	}

	if idx := strings.Index(trimmed, toolCallMarker); idx != -1 {
		payloadText := strings.TrimSpace(trimmed[idx+len(toolCallMarker):])
		var payload toolCallPayload
		if err := json.Unmarshal([]byte(payloadText), &payload); err == nil && payload.Name != "" {
			return outcomeToolCall, parsedCompletion{toolName: payload.Name, toolArgs: payload.Args}
		}
	}

	return outcomeUnparseable, parsedCompletion{}
}

// buildPrompt assembles the agent's system-prompt-driven prompt from the
// serialized trace, retrieved context, and the user input.
func buildPrompt(def *models.AgentDefinition, input string, contextChunks []models.RetrievedChunk, history []models.Message, steps []ReasoningStep) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Role: %s\nGoal: %s\n\n", def.Role, def.Goal)

	if len(contextChunks) > 0 {
		b.WriteString("Retrieved context:\n")
		for _, c := range contextChunks {
			fmt.Fprintf(&b, "- [%s] %s\n", c.DocumentID, c.Text)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation history:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	if len(steps) > 0 {
		b.WriteString("Reasoning so far:\n")
		for _, s := range steps {
			fmt.Fprintf(&b, "[%s] %s\n", s.Kind, s.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Input: %s\n", input)
	b.WriteString("\nRespond with either \"FINAL ANSWER: <text>\" or \"TOOL CALL: {\\\"name\\\":...,\\\"args\\\":{...}}\".")

	return b.String()
}
