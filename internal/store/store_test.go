package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrzysMak1/local-chat-companion/internal/model"
)

// backends lists every Store implementation under test; each case gets a
// fresh store.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func appendText(t *testing.T, s Store, userID, convID string, role model.Role, text string) *model.Message {
	t.Helper()
	msg := &model.Message{Role: role, Content: text}
	require.NoError(t, s.AppendMessage(context.Background(), userID, convID, msg))
	require.NotEmpty(t, msg.ID)
	return msg
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "First chat")
			require.NoError(t, err)
			require.NotEmpty(t, conv.ID)
			assert.Equal(t, "First chat", conv.Title)
			assert.False(t, conv.CreatedAt.IsZero())

			got, err := s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			assert.Equal(t, conv.ID, got.ID)
			assert.Empty(t, got.Messages)

			// A default title is assigned when none is given.
			untitled, err := s.Create(ctx, "user-1", "")
			require.NoError(t, err)
			assert.Equal(t, model.DefaultTitle, untitled.Title)

			// Other users cannot see the conversation.
			_, err = s.Get(ctx, "user-2", conv.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.Get(ctx, "user-1", "00000000-0000-0000-0000-000000000000")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreListScopedByUser(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			a, err := s.Create(ctx, "user-1", "A")
			require.NoError(t, err)
			b, err := s.Create(ctx, "user-1", "B")
			require.NoError(t, err)
			_, err = s.Create(ctx, "user-2", "other")
			require.NoError(t, err)

			appendText(t, s, "user-1", a.ID, model.RoleUser, "hi")

			convs, err := s.List(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, convs, 2)
			assert.Equal(t, a.ID, convs[0].ID)
			assert.Equal(t, b.ID, convs[1].ID)
			assert.Equal(t, 1, convs[0].MessageCount)
			assert.Equal(t, 0, convs[1].MessageCount)
		})
	}
}

func TestStoreAppendOrdering(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "chat")
			require.NoError(t, err)

			appendText(t, s, "user-1", conv.ID, model.RoleUser, "one")
			appendText(t, s, "user-1", conv.ID, model.RoleAssistant, "two")
			appendText(t, s, "user-1", conv.ID, model.RoleUser, "three")

			got, err := s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 3)
			assert.Equal(t, "one", got.Messages[0].Content)
			assert.Equal(t, "two", got.Messages[1].Content)
			assert.Equal(t, "three", got.Messages[2].Content)
			assert.Equal(t, model.RoleAssistant, got.Messages[1].Role)
			assert.True(t, got.UpdatedAt.After(conv.UpdatedAt) || got.UpdatedAt.Equal(conv.UpdatedAt))

			// Appending to a foreign conversation fails.
			err = s.AppendMessage(ctx, "user-2", conv.ID, &model.Message{Role: model.RoleUser, Content: "x"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreMessageParts(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "chat")
			require.NoError(t, err)

			msg := &model.Message{
				Role: model.RoleUser,
				Parts: []model.ContentPart{
					{Type: "text", Text: "look at this"},
					{Type: "image_url", ImageURL: &model.ImageURL{URL: "https://example.com/cat.png"}},
				},
			}
			require.NoError(t, s.AppendMessage(ctx, "user-1", conv.ID, msg))

			got, err := s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 1)
			require.Len(t, got.Messages[0].Parts, 2)
			assert.Equal(t, "look at this", got.Messages[0].Text())
			assert.Equal(t, "https://example.com/cat.png", got.Messages[0].FirstImageURL())
		})
	}
}

func TestStoreUpdateMeta(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "chat")
			require.NoError(t, err)

			title := "renamed"
			pinned := true
			got, err := s.UpdateMeta(ctx, "user-1", conv.ID, &model.UpdateConversationRequest{
				Title:  &title,
				Pinned: &pinned,
			})
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Title)
			assert.True(t, got.Pinned)
			assert.False(t, got.Archived)

			// Partial update leaves other fields alone.
			archived := true
			got, err = s.UpdateMeta(ctx, "user-1", conv.ID, &model.UpdateConversationRequest{Archived: &archived})
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Title)
			assert.True(t, got.Pinned)
			assert.True(t, got.Archived)

			_, err = s.UpdateMeta(ctx, "user-2", conv.ID, &model.UpdateConversationRequest{Title: &title})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "chat")
			require.NoError(t, err)
			appendText(t, s, "user-1", conv.ID, model.RoleUser, "hi")

			assert.ErrorIs(t, s.Delete(ctx, "user-2", conv.ID), ErrNotFound)
			require.NoError(t, s.Delete(ctx, "user-1", conv.ID))

			_, err = s.Get(ctx, "user-1", conv.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "user-1", conv.ID), ErrNotFound)
		})
	}
}

func TestStoreDeleteMessage(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "chat")
			require.NoError(t, err)

			m1 := appendText(t, s, "user-1", conv.ID, model.RoleUser, "one")
			m2 := appendText(t, s, "user-1", conv.ID, model.RoleAssistant, "two")
			m3 := appendText(t, s, "user-1", conv.ID, model.RoleUser, "three")

			require.NoError(t, s.DeleteMessage(ctx, "user-1", conv.ID, m2.ID))

			got, err := s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, m1.ID, got.Messages[0].ID)
			assert.Equal(t, m3.ID, got.Messages[1].ID)

			assert.ErrorIs(t, s.DeleteMessage(ctx, "user-1", conv.ID, m2.ID), ErrNotFound)
		})
	}
}

func TestStoreTruncateFrom(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			conv, err := s.Create(ctx, "user-1", "chat")
			require.NoError(t, err)

			for _, text := range []string{"a", "b", "c", "d"} {
				appendText(t, s, "user-1", conv.ID, model.RoleUser, text)
			}

			require.NoError(t, s.TruncateFrom(ctx, "user-1", conv.ID, 2))

			got, err := s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "a", got.Messages[0].Content)
			assert.Equal(t, "b", got.Messages[1].Content)

			// Truncating at the current length is a no-op.
			require.NoError(t, s.TruncateFrom(ctx, "user-1", conv.ID, 2))
			got, err = s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			assert.Len(t, got.Messages, 2)

			// Index zero empties the history.
			require.NoError(t, s.TruncateFrom(ctx, "user-1", conv.ID, 0))
			got, err = s.Get(ctx, "user-1", conv.ID)
			require.NoError(t, err)
			assert.Empty(t, got.Messages)
		})
	}
}
