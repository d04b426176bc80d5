package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/KrzysMak1/local-chat-companion/internal/middleware"
	"github.com/KrzysMak1/local-chat-companion/internal/model"
	"github.com/KrzysMak1/local-chat-companion/internal/session"
	"github.com/KrzysMak1/local-chat-companion/pkg/logger"
)

// SplitHandler handles the two-pane split view endpoints.
type SplitHandler struct {
	messages *MessageHandler
	manager  *session.Manager
	logger   *logger.Logger
}

// NewSplitHandler creates a new split view handler.
func NewSplitHandler(msgs *MessageHandler, mgr *session.Manager, log *logger.Logger) *SplitHandler {
	return &SplitHandler{
		messages: msgs,
		manager:  mgr,
		logger:   log,
	}
}

// Get handles GET /api/v1/split
func (h *SplitHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Split())
}

// SetEnabled handles PUT /api/v1/split
func (h *SplitHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, h.manager.SetSplitEnabled(req.Enabled))
}

// Assign handles PUT /api/v1/split/:pane
func (h *SplitHandler) Assign(w http.ResponseWriter, r *http.Request) {
	pane := session.Pane(chi.URLParam(r, "pane"))

	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID != "" {
		if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	view, err := h.manager.AssignPane(pane, req.ConversationID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Send handles POST /api/v1/split/:pane/messages
// Routes a message through the conversation bound to the pane, creating one
// when the pane is empty.
func (h *SplitHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	pane := session.Pane(chi.URLParam(r, "pane"))

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
		Content:  req.Content,
		Parts:    req.Parts,
		Settings: req.Settings,
	}

	if h.messages.settings(req.Settings).Streaming {
		h.messages.streamResult(w, r, func(onDelta func(string) error) (*session.SendResult, error) {
			sendReq.OnDelta = onDelta
			return h.manager.SendToPane(ctx, userID, pane, sendReq)
		})
		return
	}

	result, err := h.manager.SendToPane(ctx, userID, pane, sendReq)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
