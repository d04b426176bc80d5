package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/KrzysMak1/local-chat-companion/internal/middleware"
	"github.com/KrzysMak1/local-chat-companion/internal/model"
	"github.com/KrzysMak1/local-chat-companion/internal/session"
	"github.com/KrzysMak1/local-chat-companion/pkg/logger"
	"github.com/KrzysMak1/local-chat-companion/pkg/metrics"
)

// MessageHandler handles message and generation endpoints.
type MessageHandler struct {
	manager  *session.Manager
	defaults model.ChatSettings
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(mgr *session.Manager, defaults model.ChatSettings, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		manager:  mgr,
		defaults: defaults,
		logger:   log,
	}
}

func (h *MessageHandler) settings(override *model.ChatSettings) model.ChatSettings {
	if override != nil {
		return *override
	}
	return h.defaults
}

// SendNew handles POST /api/v1/chats
// Creates a conversation from the first message and streams the reply.
func (h *MessageHandler) SendNew(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, "")
}

// Send handles POST /api/v1/chats/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.send(w, r, conversationID)
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request, conversationID string) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sendReq := &session.SendRequest{
		ConversationID: conversationID,
		Content:        req.Content,
		Parts:          req.Parts,
		Settings:       req.Settings,
	}

	if h.settings(req.Settings).Streaming {
		h.streamResult(w, r, func(onDelta func(string) error) (*session.SendResult, error) {
			sendReq.OnDelta = onDelta
			return h.manager.Send(ctx, userID, sendReq)
		})
		return
	}

	result, err := h.manager.Send(ctx, userID, sendReq)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stop handles POST /api/v1/chats/:id/stop
func (h *MessageHandler) Stop(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stopped := h.manager.StopGeneration(conversationID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// Regenerate handles POST /api/v1/chats/:id/regenerate
func (h *MessageHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Settings *model.ChatSettings `json:"settings,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	regenReq := &session.RegenerateRequest{
		ConversationID: conversationID,
		Settings:       req.Settings,
	}

	if h.settings(req.Settings).Streaming {
		h.streamResult(w, r, func(onDelta func(string) error) (*session.SendResult, error) {
			regenReq.OnDelta = onDelta
			return h.manager.Regenerate(ctx, userID, regenReq)
		})
		return
	}

	result, err := h.manager.Regenerate(ctx, userID, regenReq)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Edit handles POST /api/v1/chats/:id/messages/:messageID/edit
// Replaces a prior user message, discards everything after it, and resends.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	editReq := &session.EditRequest{
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        req.Content,
		Parts:          req.Parts,
		Settings:       req.Settings,
	}

	if h.settings(req.Settings).Streaming {
		h.streamResult(w, r, func(onDelta func(string) error) (*session.SendResult, error) {
			editReq.OnDelta = onDelta
			return h.manager.EditAndResend(ctx, userID, editReq)
		})
		return
	}

	result, err := h.manager.EditAndResend(ctx, userID, editReq)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeleteMessage handles DELETE /api/v1/chats/:id/messages/:messageID
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.manager.DeleteMessage(ctx, userID, conversationID, messageID); err != nil {
		writeSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// streamResult runs a generation and relays its progress as SSE frames in
// the same shape the upstream emits: accumulated content frames, then a
// final result frame, then the [DONE] sentinel.
func (h *MessageHandler) streamResult(w http.ResponseWriter, r *http.Request, run func(onDelta func(string) error) (*session.SendResult, error)) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	result, err := run(func(accumulated string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return sendSSEData(w, flusher, map[string]string{"content": accumulated})
	})

	if err != nil {
		h.logger.Warn("generation stream ended with error", zap.Error(err))
		sendSSEData(w, flusher, map[string]string{"error": err.Error()})
		sendSSEDone(w, flusher)
		return
	}

	sendSSEData(w, flusher, result)
	sendSSEDone(w, flusher)
}

func sendSSEData(w http.ResponseWriter, flusher http.Flusher, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

func sendSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
