package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KrzysMak1/local-chat-companion/internal/model"
)

// MemoryStore is an in-memory Store. Used in tests and as a fallback when no
// database path is configured; contents do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
	order []string
}

type memConversation struct {
	conv     model.Conversation
	messages []model.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*memConversation)}
}

func (s *MemoryStore) lookup(userID, conversationID string) (*memConversation, error) {
	rec, ok := s.convs[conversationID]
	if !ok || rec.conv.UserID != userID {
		return nil, ErrNotFound
	}
	return rec, nil
}

// List returns conversation metadata in creation order.
func (s *MemoryStore) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0)
	for _, id := range s.order {
		rec, ok := s.convs[id]
		if !ok || rec.conv.UserID != userID {
			continue
		}
		conv := rec.conv
		conv.MessageCount = len(rec.messages)
		out = append(out, conv)
	}
	return out, nil
}

// Get returns one conversation with a copy of its message history.
func (s *MemoryStore) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.lookup(userID, conversationID)
	if err != nil {
		return nil, err
	}
	conv := rec.conv
	conv.Messages = make([]model.Message, len(rec.messages))
	copy(conv.Messages, rec.messages)
	conv.MessageCount = len(rec.messages)
	return &conv, nil
}

// Create creates a conversation with a fresh identifier.
func (s *MemoryStore) Create(ctx context.Context, userID, title string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		title = model.DefaultTitle
	}
	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.convs[conv.ID] = &memConversation{conv: conv}
	s.order = append(s.order, conv.ID)

	out := conv
	return &out, nil
}

// UpdateMeta applies a partial metadata update.
func (s *MemoryStore) UpdateMeta(ctx context.Context, userID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(userID, conversationID)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		rec.conv.Title = *req.Title
	}
	if req.Pinned != nil {
		rec.conv.Pinned = *req.Pinned
	}
	if req.Archived != nil {
		rec.conv.Archived = *req.Archived
	}
	rec.conv.UpdatedAt = time.Now()

	out := rec.conv
	out.MessageCount = len(rec.messages)
	return &out, nil
}

// Delete removes a conversation and its messages.
func (s *MemoryStore) Delete(ctx context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(userID, conversationID); err != nil {
		return err
	}
	delete(s.convs, conversationID)
	for i, id := range s.order {
		if id == conversationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// AppendMessage appends a message and bumps UpdatedAt.
func (s *MemoryStore) AppendMessage(ctx context.Context, userID, conversationID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(userID, conversationID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ConversationID = conversationID
	rec.messages = append(rec.messages, *msg)
	rec.conv.UpdatedAt = time.Now()
	return nil
}

// DeleteMessage removes a single message.
func (s *MemoryStore) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(userID, conversationID)
	if err != nil {
		return err
	}
	for i, m := range rec.messages {
		if m.ID == messageID {
			rec.messages = append(rec.messages[:i], rec.messages[i+1:]...)
			rec.conv.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// TruncateFrom removes the message at index and everything after it.
func (s *MemoryStore) TruncateFrom(ctx context.Context, userID, conversationID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(userID, conversationID)
	if err != nil {
		return err
	}
	if index < 0 {
		return ErrNotFound
	}
	if index >= len(rec.messages) {
		return nil
	}
	rec.messages = rec.messages[:index]
	rec.conv.UpdatedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
