// Package events publishes conversation lifecycle events so external
// observers (dashboards, archivers) can follow generation activity without
// polling the store.
package events

import (
	"context"

	"github.com/KrzysMak1/local-chat-companion/internal/model"
)

// Publisher delivers conversation events to interested consumers. Publishing
// is best-effort: the session manager logs failures and carries on.
type Publisher interface {
	Publish(ctx context.Context, event *model.ConversationEvent) error
	Close()
}

// NopPublisher discards every event. Used when no event backend is
// configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, *model.ConversationEvent) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() {}

var _ Publisher = NopPublisher{}
