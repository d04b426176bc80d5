package model

import (
	"time"
)

// EventType classifies a conversation lifecycle event.
type EventType string

const (
	EventTypeGenerationStarted   EventType = "generation_started"
	EventTypeGenerationCompleted EventType = "generation_completed"
	EventTypeGenerationCancelled EventType = "generation_cancelled"
	EventTypeGenerationFailed    EventType = "generation_failed"
	EventTypeConversationDeleted EventType = "conversation_deleted"
)

// ConversationEvent is emitted by the session manager as generations start,
// finish, and fail. Consumed by the event publisher only; never persisted
// with the conversation itself.
type ConversationEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id,omitempty"`
	Type           EventType `json:"type"`
	Reason         string    `json:"reason,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
