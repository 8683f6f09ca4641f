// Package models defines the data types shared across the orchestration
// core: conversations and turns, agent and workflow definitions, tasks,
// provider descriptors, and retrieved context chunks.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a Message within a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a Conversation's append-only transcript.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	ToolCall  *ToolCallInfo  `json:"tool_call,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCallInfo records that a Message carried a tool invocation.
type ToolCallInfo struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Conversation is an ordered, append-only sequence of Messages sharing a
// stable identifier. Conversations are never reordered; they are either
// active or soft-deleted.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query is the immutable record of one user request, created at intake.
type Query struct {
	Text           string         `json:"text"`
	ConversationID string         `json:"conversation_id,omitempty"`
	PermitTools    []string       `json:"permit_tools,omitempty"`
	Options        map[string]any `json:"options,omitempty"`
}

// ConversationPage is one page of a conversation listing.
type ConversationPage struct {
	Conversations []*Conversation `json:"conversations"`
	Total         int             `json:"total"`
}
