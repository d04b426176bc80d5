// Package store defines the durable conversation store consumed by the
// session manager, together with its in-memory and SQLite adapters.
package store

import (
	"context"
	"errors"

	"github.com/KrzysMak1/local-chat-companion/internal/model"
)

// ErrNotFound is returned when a conversation or message does not exist for
// the given owner.
var ErrNotFound = errors.New("not found")

// Store is the durable mapping from conversation identifier to ordered
// message history and metadata. All entries are scoped by an owner (user)
// identifier; callers never construct storage keys themselves. Conversation
// and message identifiers are assigned by the store.
type Store interface {
	// List returns conversation metadata (no message bodies) for an owner.
	// Ordering is insertion order; presentation-layer sorting is the
	// caller's concern.
	List(ctx context.Context, userID string) ([]model.Conversation, error)

	// Get returns one conversation with its full ordered message history.
	Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error)

	// Create creates a conversation with a store-assigned identifier and
	// timestamps, returning the stored record.
	Create(ctx context.Context, userID, title string) (*model.Conversation, error)

	// UpdateMeta applies a partial metadata update and advances UpdatedAt.
	UpdateMeta(ctx context.Context, userID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error)

	// Delete removes a conversation and all of its messages.
	Delete(ctx context.Context, userID, conversationID string) error

	// AppendMessage appends a message, assigning its identifier when empty,
	// and advances the conversation's UpdatedAt.
	AppendMessage(ctx context.Context, userID, conversationID string, msg *model.Message) error

	// DeleteMessage removes a single message without touching its neighbors.
	DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error

	// TruncateFrom removes the message at index and everything after it.
	TruncateFrom(ctx context.Context, userID, conversationID string, index int) error
}
