package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/KrzysMak1/local-chat-companion/internal/middleware"
	"github.com/KrzysMak1/local-chat-companion/internal/model"
	"github.com/KrzysMak1/local-chat-companion/internal/session"
	"github.com/KrzysMak1/local-chat-companion/pkg/logger"
)

// ImportExportHandler handles conversation import and export.
type ImportExportHandler struct {
	manager *session.Manager
	logger  *logger.Logger
}

// NewImportExportHandler creates a new import/export handler.
func NewImportExportHandler(mgr *session.Manager, log *logger.Logger) *ImportExportHandler {
	return &ImportExportHandler{
		manager: mgr,
		logger:  log,
	}
}

// Import handles POST /api/v1/chats/import
func (h *ImportExportHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.manager.Import(ctx, userID, &req)
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// Export handles GET /api/v1/chats/:id/export
func (h *ImportExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.manager.Export(ctx, userID, conversationID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="chat-`+conversationID+`.json"`)
	writeJSON(w, http.StatusOK, doc)
}
