// Package model defines data structures for the chat companion.
package model

import (
	"time"
)

// Conversation is a titled, ordered sequence of messages with pin/archive
// metadata. Messages are ordered by insertion and never re-sorted.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Title        string    `json:"title"`
	Pinned       bool      `json:"pinned"`
	Archived     bool      `json:"archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Messages     []Message `json:"messages,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
}

// DefaultTitle is the title a conversation carries until the first user
// message derives a real one.
const DefaultTitle = "New chat"

// TitleMaxLen bounds auto-derived titles.
const TitleMaxLen = 50

// DeriveTitle builds a conversation title from the first user message,
// truncating to TitleMaxLen characters with an ellipsis marker.
func DeriveTitle(text string) string {
	if text == "" {
		return DefaultTitle
	}
	runes := []rune(text)
	if len(runes) <= TitleMaxLen {
		return text
	}
	return string(runes[:TitleMaxLen]) + "..."
}

// UpdateConversationRequest is a partial metadata update. Nil fields are
// left untouched.
type UpdateConversationRequest struct {
	Title    *string `json:"title,omitempty"`
	Pinned   *bool   `json:"pinned,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
