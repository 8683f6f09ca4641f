package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// MemoryStore is an in-memory Store with clone-on-read/write semantics
// and monotonic timestamp tracking per conversation.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	lastTimestamp map[string]time.Time
	now           clock
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		lastTimestamp: make(map[string]time.Time),
		now:           defaultClock,
	}
}

func (s *MemoryStore) LoadConversation(_ context.Context, id string, maxMessages int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	msgs := s.messages[id]
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, title string, initialUserMessage string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.now()
	s.conversations[id] = &models.Conversation{
		ID:        id,
		Title:     title,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lastTimestamp[id] = now

	if initialUserMessage != "" {
		msgID := uuid.NewString()
		s.messages[id] = append(s.messages[id], models.Message{
			ID:        msgID,
			Role:      models.RoleUser,
			Content:   initialUserMessage,
			CreatedAt: now,
		})
	}
	return id, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, role models.Role, content string, metadata map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return "", ErrNotFound
	}

	ts := s.now()
	if last, ok := s.lastTimestamp[conversationID]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	s.lastTimestamp[conversationID] = ts

	id := uuid.NewString()
	s.messages[conversationID] = append(s.messages[conversationID], models.Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: ts,
	})
	conv.UpdatedAt = ts
	return id, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, limit, offset int, activeOnly bool) (Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if activeOnly && !c.Active {
			continue
		}
		clone := *c
		all = append(all, &clone)
	}

	total := len(all)
	if offset >= len(all) {
		return Page{Conversations: nil, Total: total}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return Page{Conversations: all[offset:end], Total: total}, nil
}

func (s *MemoryStore) MarkInactive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Active = false
	conv.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.lastTimestamp, id)
	return nil
}
