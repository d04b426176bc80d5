package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KrzysMak1/local-chat-companion/internal/events"
	"github.com/KrzysMak1/local-chat-companion/internal/llm"
	"github.com/KrzysMak1/local-chat-companion/internal/model"
	"github.com/KrzysMak1/local-chat-companion/internal/store"
	"github.com/KrzysMak1/local-chat-companion/pkg/logger"
	"github.com/KrzysMak1/local-chat-companion/pkg/metrics"
)

var (
	// ErrGenerationInProgress is returned when an operation that would start
	// a new generation targets a conversation that already has one in
	// flight.
	ErrGenerationInProgress = errors.New("a generation is already in progress for this conversation")

	// ErrNotUserMessage is returned when edit-and-resend targets a message
	// whose role is not "user". Rejected before any mutation.
	ErrNotUserMessage = errors.New("only user messages can be edited and resent")

	// ErrEmptyMessage is returned when a send carries no content at all.
	ErrEmptyMessage = errors.New("message content is empty")
)

// Manager orchestrates conversational sessions: it mutates the conversation
// store, drives the completion client, keeps the runtime registry current,
// and exposes a consistent read view. Multiple conversations may have
// generations in flight simultaneously; state for distinct conversations
// never crosses.
type Manager struct {
	store     store.Store
	llm       llm.Client
	registry  *Registry
	publisher events.Publisher
	defaults  model.ChatSettings
	log       *logger.Logger

	split splitState
}

// NewManager wires a session manager. A nil publisher disables event
// publishing.
func NewManager(st store.Store, client llm.Client, pub events.Publisher, defaults model.ChatSettings, log *logger.Logger) *Manager {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Manager{
		store:     st,
		llm:       client,
		registry:  NewRegistry(),
		publisher: pub,
		defaults:  defaults,
		log:       log,
	}
}

// State returns the runtime state for a conversation (idle default when no
// generation is in flight).
func (m *Manager) State(conversationID string) State {
	return m.registry.Get(conversationID)
}

// ListConversations returns conversation metadata for a user.
func (m *Manager) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return m.store.List(ctx, userID)
}

// GetConversation returns one conversation with its full message history.
func (m *Manager) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	return m.store.Get(ctx, userID, conversationID)
}

// SendRequest is a user intent to send a message. An empty ConversationID
// creates a new conversation whose title derives from the message text.
// OnDelta, when set, receives the accumulated assistant output as it grows.
type SendRequest struct {
	ConversationID string
	Content        string
	Parts          []model.ContentPart
	Settings       *model.ChatSettings
	OnDelta        llm.StreamFunc
}

// SendResult is the outcome of a send-like operation. AssistantMessage is nil
// when the generation was cancelled or failed; Cancelled distinguishes the
// former, which is not an error.
type SendResult struct {
	ConversationID   string         `json:"conversation_id"`
	UserMessage      *model.Message `json:"user_message,omitempty"`
	AssistantMessage *model.Message `json:"assistant_message,omitempty"`
	Cancelled        bool           `json:"cancelled,omitempty"`
}

func requestText(content string, parts []model.ContentPart) string {
	if len(parts) == 0 {
		return content
	}
	msg := model.Message{Parts: parts}
	return msg.Text()
}

// Send appends the user message (optimistically, before any network call) and
// runs a generation over the updated history. On cancellation the
// conversation keeps exactly the messages it had after the user message was
// appended; on failure the error is returned and the user message likewise
// survives so the turn can be retried or edited.
func (m *Manager) Send(ctx context.Context, userID string, req *SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Parts) == 0 {
		return nil, ErrEmptyMessage
	}
	text := requestText(req.Content, req.Parts)

	conversationID := req.ConversationID
	created := false
	if conversationID == "" {
		conv, err := m.store.Create(ctx, userID, model.DeriveTitle(text))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = conv.ID
		created = true
		metrics.ConversationsTotal.WithLabelValues("send").Inc()
	} else if m.registry.Loading(conversationID) {
		return nil, ErrGenerationInProgress
	}

	userMsg := &model.Message{
		Role:    model.RoleUser,
		Content: req.Content,
		Parts:   req.Parts,
	}
	if err := m.store.AppendMessage(ctx, userID, conversationID, userMsg); err != nil {
		if created {
			// Roll back the half-created conversation rather than leaving
			// an empty shell behind.
			if derr := m.store.Delete(context.WithoutCancel(ctx), userID, conversationID); derr != nil {
				m.log.Warn("failed to roll back conversation after append failure",
					zap.String("conversation_id", conversationID), zap.Error(derr))
			}
		}
		return nil, fmt.Errorf("failed to append user message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	conv, err := m.store.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	// An existing conversation that never got a real title adopts one from
	// its first user message.
	if !created && conv.Title == model.DefaultTitle && len(conv.Messages) == 1 {
		title := model.DeriveTitle(text)
		if _, uerr := m.store.UpdateMeta(ctx, userID, conversationID, &model.UpdateConversationRequest{Title: &title}); uerr != nil {
			m.log.Warn("failed to auto-title conversation",
				zap.String("conversation_id", conversationID), zap.Error(uerr))
		} else {
			conv.Title = title
		}
	}

	assistant, cancelled, err := m.generate(ctx, userID, conv, m.resolveSettings(req.Settings), req.OnDelta)
	result := &SendResult{
		ConversationID:   conversationID,
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Cancelled:        cancelled,
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

// StopGeneration triggers the cancellation handle for a conversation.
// Idempotent: stopping an idle conversation is a no-op. Reports whether a
// generation was actually signalled.
func (m *Manager) StopGeneration(conversationID string) bool {
	return m.registry.Cancel(conversationID)
}

// RegenerateRequest re-issues the last exchange of a conversation.
type RegenerateRequest struct {
	ConversationID string
	Settings       *model.ChatSettings
	OnDelta        llm.StreamFunc
}

// Regenerate removes the most recent assistant message and re-runs generation
// over the history up to and including the preceding user message. A silent
// no-op when the conversation holds no assistant message.
func (m *Manager) Regenerate(ctx context.Context, userID string, req *RegenerateRequest) (*SendResult, error) {
	if m.registry.Loading(req.ConversationID) {
		return nil, ErrGenerationInProgress
	}

	conv, err := m.store.Get(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == model.RoleAssistant {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &SendResult{ConversationID: conv.ID}, nil
	}

	if err := m.store.TruncateFrom(ctx, userID, conv.ID, idx); err != nil {
		return nil, fmt.Errorf("failed to remove assistant message: %w", err)
	}
	conv.Messages = conv.Messages[:idx]

	assistant, cancelled, err := m.generate(ctx, userID, conv, m.resolveSettings(req.Settings), req.OnDelta)
	result := &SendResult{
		ConversationID:   conv.ID,
		AssistantMessage: assistant,
		Cancelled:        cancelled,
	}
	return result, err
}

// EditRequest replaces a prior user message and resends from that point.
type EditRequest struct {
	ConversationID string
	MessageID      string
	Content        string
	Parts          []model.ContentPart
	Settings       *model.ChatSettings
	OnDelta        llm.StreamFunc
}

// EditAndResend truncates the conversation to just before the target user
// message, destroying it and every later message irreversibly, and then
// sends the replacement text as a fresh turn. Validation happens before any
// mutation: a missing target or a non-user role leaves history untouched.
func (m *Manager) EditAndResend(ctx context.Context, userID string, req *EditRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Parts) == 0 {
		return nil, ErrEmptyMessage
	}
	if m.registry.Loading(req.ConversationID) {
		return nil, ErrGenerationInProgress
	}

	conv, err := m.store.Get(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, msg := range conv.Messages {
		if msg.ID == req.MessageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	if conv.Messages[idx].Role != model.RoleUser {
		return nil, ErrNotUserMessage
	}

	if err := m.store.TruncateFrom(ctx, userID, conv.ID, idx); err != nil {
		return nil, fmt.Errorf("failed to truncate conversation: %w", err)
	}

	return m.Send(ctx, userID, &SendRequest{
		ConversationID: conv.ID,
		Content:        req.Content,
		Parts:          req.Parts,
		Settings:       req.Settings,
		OnDelta:        req.OnDelta,
	})
}

// DeleteMessage removes a single message from durable history. Deletes are
// allowed even while a generation is in flight for the conversation: they
// touch only the store, never the in-flight request.
func (m *Manager) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error {
	return m.store.DeleteMessage(ctx, userID, conversationID, messageID)
}

// UpdateConversation applies a partial metadata update (title, pinned,
// archived).
func (m *Manager) UpdateConversation(ctx context.Context, userID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	return m.store.UpdateMeta(ctx, userID, conversationID, req)
}

// TogglePin flips the pinned flag.
func (m *Manager) TogglePin(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := m.store.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	pinned := !conv.Pinned
	return m.store.UpdateMeta(ctx, userID, conversationID, &model.UpdateConversationRequest{Pinned: &pinned})
}

// ToggleArchive flips the archived flag.
func (m *Manager) ToggleArchive(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := m.store.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	archived := !conv.Archived
	return m.store.UpdateMeta(ctx, userID, conversationID, &model.UpdateConversationRequest{Archived: &archived})
}

// Rename sets a conversation's title.
func (m *Manager) Rename(ctx context.Context, userID, conversationID, title string) (*model.Conversation, error) {
	return m.store.UpdateMeta(ctx, userID, conversationID, &model.UpdateConversationRequest{Title: &title})
}

// DeleteConversation cancels any in-flight generation, purges the runtime
// entry, and removes the conversation from the store.
func (m *Manager) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	m.registry.Clear(conversationID)
	if err := m.store.Delete(ctx, userID, conversationID); err != nil {
		return err
	}
	m.publishEvent(userID, conversationID, model.EventTypeConversationDeleted, "")
	return nil
}

// Import creates a conversation from an external document. The imported
// identifier and timestamps are never trusted; fresh ones are assigned. A
// failure mid-import removes the half-created conversation.
func (m *Manager) Import(ctx context.Context, userID string, req *model.ImportRequest) (*model.Conversation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		for _, msg := range *req.Messages {
			if msg.Role == model.RoleUser {
				title = model.DeriveTitle(msg.Text())
				break
			}
		}
	}

	conv, err := m.store.Create(ctx, userID, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	metrics.ConversationsTotal.WithLabelValues("import").Inc()

	for _, msg := range *req.Messages {
		imported := &model.Message{
			Role:      msg.Role,
			Content:   msg.Content,
			Parts:     msg.Parts,
			CreatedAt: msg.CreatedAt,
		}
		if err := m.store.AppendMessage(ctx, userID, conv.ID, imported); err != nil {
			if derr := m.store.Delete(context.WithoutCancel(ctx), userID, conv.ID); derr != nil {
				m.log.Warn("failed to roll back partial import",
					zap.String("conversation_id", conv.ID), zap.Error(derr))
			}
			return nil, fmt.Errorf("failed to import message: %w", err)
		}
	}

	if req.Pinned || req.Archived {
		update := &model.UpdateConversationRequest{}
		if req.Pinned {
			update.Pinned = &req.Pinned
		}
		if req.Archived {
			update.Archived = &req.Archived
		}
		if _, err := m.store.UpdateMeta(ctx, userID, conv.ID, update); err != nil {
			m.log.Warn("failed to apply imported flags",
				zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}

	return m.store.Get(ctx, userID, conv.ID)
}

// Export wraps a conversation in an export document stamped with the export
// time.
func (m *Manager) Export(ctx context.Context, userID, conversationID string) (*model.ExportDocument, error) {
	conv, err := m.store.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.ExportDocument{
		Conversation: *conv,
		ExportedAt:   time.Now(),
	}, nil
}

func (m *Manager) resolveSettings(override *model.ChatSettings) model.ChatSettings {
	if override != nil {
		return *override
	}
	return m.defaults
}

// buildHistory converts stored messages into the completion request history,
// prefixed with the synthesized system message.
func buildHistory(settings model.ChatSettings, messages []model.Message) []llm.ChatMessage {
	system := settings.SystemPrompt
	if settings.Memory != "" {
		system += "\n\nThings to remember about the user:\n" + settings.Memory
	}

	out := make([]llm.ChatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, llm.ChatMessage{Role: "system", Content: system})
	}
	for _, msg := range messages {
		cm := llm.ChatMessage{Role: string(msg.Role), Content: msg.Content}
		if len(msg.Parts) > 0 {
			cm.Content = ""
			cm.Parts = make([]llm.ContentPart, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				lp := llm.ContentPart{Type: p.Type, Text: p.Text}
				if p.ImageURL != nil {
					lp.ImageURL = &llm.ImageRef{URL: p.ImageURL.URL}
				}
				cm.Parts = append(cm.Parts, lp)
			}
		}
		out = append(out, cm)
	}
	return out
}

// generate runs one completion over conv's history and commits the assistant
// message on success. Returns cancelled=true (with no error) when the
// generation was aborted; no partial assistant message is ever committed.
func (m *Manager) generate(ctx context.Context, userID string, conv *model.Conversation, settings model.ChatSettings, onDelta llm.StreamFunc) (*model.Message, bool, error) {
	genCtx, handle := m.registry.Acquire(ctx, conv.ID)
	defer handle.Release()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	log := m.log.WithConversation(conv.ID, userID)
	m.publishEvent(userID, conv.ID, model.EventTypeGenerationStarted, "")

	creq := &llm.CompletionRequest{
		Messages:    buildHistory(settings, conv.Messages),
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
		Stream:      settings.Streaming,
	}

	start := time.Now()
	var resp *llm.CompletionResponse
	var err error
	if settings.Streaming {
		resp, err = m.llm.CompleteStream(genCtx, creq, func(accumulated string) error {
			handle.SetStreamingText(accumulated)
			if onDelta != nil {
				return onDelta(accumulated)
			}
			return nil
		})
	} else {
		resp, err = m.llm.Complete(genCtx, creq)
	}
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, llm.ErrCancelled) {
			metrics.RecordGeneration(m.llm.Name(), "cancelled", elapsed)
			m.publishEvent(userID, conv.ID, model.EventTypeGenerationCancelled, "")
			log.Info("generation cancelled")
			return nil, true, nil
		}
		metrics.RecordGeneration(m.llm.Name(), "error", elapsed)
		m.publishEvent(userID, conv.ID, model.EventTypeGenerationFailed, err.Error())
		log.Error("generation failed", zap.Error(err))
		return nil, false, err
	}

	assistant := &model.Message{
		Role:    model.RoleAssistant,
		Content: resp.Content,
	}
	if err := m.store.AppendMessage(context.WithoutCancel(ctx), userID, conv.ID, assistant); err != nil {
		metrics.RecordGeneration(m.llm.Name(), "error", elapsed)
		log.Error("failed to persist assistant message", zap.Error(err))
		return nil, false, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	metrics.RecordGeneration(m.llm.Name(), "success", elapsed)
	m.publishEvent(userID, conv.ID, model.EventTypeGenerationCompleted, "")
	log.Info("generation completed", zap.Duration("duration", time.Since(start)))

	return assistant, false, nil
}

func (m *Manager) publishEvent(userID, conversationID string, eventType model.EventType, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		UserID:         userID,
		Type:           eventType,
		Reason:         reason,
		Provider:       m.llm.Name(),
		CreatedAt:      time.Now(),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.log.Warn("failed to publish conversation event",
			zap.String("conversation_id", conversationID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
