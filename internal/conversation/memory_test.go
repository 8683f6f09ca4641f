package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/orchestrator/pkg/models"
)

func TestMemoryStore_CreateWithInitialMessageSeedsFirstMessage(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.CreateConversation(context.Background(), "title", "hello")
	require.NoError(t, err)

	msgs, err := s.LoadConversation(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestMemoryStore_CreateWithoutInitialMessageHasNoMessages(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.CreateConversation(context.Background(), "title", "")
	require.NoError(t, err)

	msgs, err := s.LoadConversation(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStore_AppendMessage_UnknownConversationReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.AppendMessage(context.Background(), "missing", models.RoleUser, "hi", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_AppendMessage_TimestampsAreStrictlyMonotonic(t *testing.T) {
	s := NewMemoryStore()
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	id, err := s.CreateConversation(context.Background(), "t", "")
	require.NoError(t, err)

	_, err = s.AppendMessage(context.Background(), id, models.RoleUser, "one", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(context.Background(), id, models.RoleAssistant, "two", nil)
	require.NoError(t, err)

	msgs, err := s.LoadConversation(context.Background(), id, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))
}

func TestMemoryStore_LoadConversation_UnknownReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.LoadConversation(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_LoadConversation_RespectsMaxMessages(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.CreateConversation(context.Background(), "t", "")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(context.Background(), id, models.RoleUser, "m", nil)
		require.NoError(t, err)
	}

	msgs, err := s.LoadConversation(context.Background(), id, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestMemoryStore_ListConversations_FiltersActiveOnly(t *testing.T) {
	s := NewMemoryStore()
	activeID, err := s.CreateConversation(context.Background(), "active", "")
	require.NoError(t, err)
	inactiveID, err := s.CreateConversation(context.Background(), "inactive", "")
	require.NoError(t, err)
	require.NoError(t, s.MarkInactive(context.Background(), inactiveID))

	page, err := s.ListConversations(context.Background(), 10, 0, true)
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, activeID, page.Conversations[0].ID)
}

func TestMemoryStore_ListConversations_PaginatesWithLimitAndOffset(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		_, err := s.CreateConversation(context.Background(), "t", "")
		require.NoError(t, err)
	}

	page, err := s.ListConversations(context.Background(), 1, 1, false)
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.Equal(t, 3, page.Total)
}

func TestMemoryStore_ListConversations_OffsetBeyondLengthReturnsEmpty(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateConversation(context.Background(), "t", "")
	require.NoError(t, err)

	page, err := s.ListConversations(context.Background(), 10, 5, false)
	require.NoError(t, err)
	assert.Empty(t, page.Conversations)
	assert.Equal(t, 1, page.Total)
}

func TestMemoryStore_MarkInactive_UnknownReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.MarkInactive(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete_RemovesConversationAndMessages(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.CreateConversation(context.Background(), "t", "hello")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), id))

	_, err = s.LoadConversation(context.Background(), id, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Delete_UnknownReturnsErrNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
