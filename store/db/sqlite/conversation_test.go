package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ledgerdesk/internal/profile"
	"github.com/hrygo/ledgerdesk/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ledgerdesk_test.db"),
	}
	driver, err := NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.GetDriver().IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Migrate(ctx))
}

func TestConversationCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateConversation(ctx, &store.Conversation{
		UID:       "conv-abc",
		Title:     "Invoice backlog",
		CreatedTs: 100,
		UpdatedTs: 100,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	uid := "conv-abc"
	got, err := s.GetConversation(ctx, &store.FindConversation{UID: &uid})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Invoice backlog", got.Title)

	newTitle := "Renamed"
	newTs := int64(200)
	updated, err := s.UpdateConversation(ctx, &store.UpdateConversation{
		ID:        created.ID,
		Title:     &newTitle,
		UpdatedTs: &newTs,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.EqualValues(t, 200, updated.UpdatedTs)

	require.NoError(t, s.DeleteConversation(ctx, &store.DeleteConversation{ID: created.ID}))

	got, err = s.GetConversation(ctx, &store.FindConversation{UID: &uid})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListConversationsOrdersByUpdatedDesc(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateConversation(ctx, &store.Conversation{UID: "old", Title: "Old", CreatedTs: 1, UpdatedTs: 1})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, &store.Conversation{UID: "new", Title: "New", CreatedTs: 2, UpdatedTs: 2})
	require.NoError(t, err)

	list, err := s.ListConversations(ctx, &store.FindConversation{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].UID)
	assert.Equal(t, "old", list[1].UID)
}

func TestTurnsAreOrderedAndLimited(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, &store.Conversation{UID: "conv-1", Title: "T", CreatedTs: 1, UpdatedTs: 1})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err := s.CreateTurn(ctx, &store.Turn{
			UID:            fmt.Sprintf("turn-%d", i),
			ConversationID: conv.ID,
			UserMessage:    "msg",
			Reply:          "reply",
			Diagnostics:    "{}",
			Rounds:         int32(i),
			CreatedTs:      int64(i),
		})
		require.NoError(t, err)
	}

	turns, err := s.ListTurns(ctx, &store.FindTurn{ConversationID: &conv.ID})
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.EqualValues(t, 1, turns[0].Rounds)
	assert.EqualValues(t, 3, turns[2].Rounds)

	limit := 2
	limited, err := s.ListTurns(ctx, &store.FindTurn{ConversationID: &conv.ID, Limit: &limit})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteConversationCascadesTurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, &store.Conversation{UID: "conv-1", Title: "T", CreatedTs: 1, UpdatedTs: 1})
	require.NoError(t, err)
	_, err = s.CreateTurn(ctx, &store.Turn{
		UID:            "turn-1",
		ConversationID: conv.ID,
		UserMessage:    "msg",
		Reply:          "reply",
		Diagnostics:    "{}",
		Rounds:         1,
		CreatedTs:      1,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(ctx, &store.DeleteConversation{ID: conv.ID}))

	turns, err := s.ListTurns(ctx, &store.FindTurn{ConversationID: &conv.ID})
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestConversationUIDIsUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateConversation(ctx, &store.Conversation{UID: "dup", Title: "A", CreatedTs: 1, UpdatedTs: 1})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, &store.Conversation{UID: "dup", Title: "B", CreatedTs: 2, UpdatedTs: 2})
	require.Error(t, err)
}
