// Package conversation implements the Conversation Store Interface (C6):
// a load/create/append/list/mark_inactive/delete contract over either an
// in-memory store or a database/sql-backed store.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation: not found")

// Page is the result of list_conversations.
type Page struct {
	Conversations []*models.Conversation
	Total         int
}

// Store is the contract the core relies on external implementations of.
// append_message is required to be atomic and to assign a timestamp no
// earlier than any existing message in that conversation; load_conversation
// returns messages in creation order; a conversation's messages are never
// silently mutated.
type Store interface {
	LoadConversation(ctx context.Context, id string, maxMessages int) ([]models.Message, error)
	CreateConversation(ctx context.Context, title string, initialUserMessage string) (string, error)
	AppendMessage(ctx context.Context, conversationID string, role models.Role, content string, metadata map[string]any) (string, error)
	ListConversations(ctx context.Context, limit, offset int, activeOnly bool) (Page, error)
	MarkInactive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// clock lets tests inject a deterministic time source while production
// code defaults to time.Now.
type clock func() time.Time

func defaultClock() time.Time { return time.Now() }
