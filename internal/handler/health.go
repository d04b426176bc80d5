package handler

import (
	"context"
	"net/http"

	"github.com/KrzysMak1/local-chat-companion/internal/events"
	"github.com/KrzysMak1/local-chat-companion/internal/llm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	llmClient llm.Client
	publisher *events.NATSPublisher
}

// NewHealthHandler creates a new health handler. The publisher may be nil
// when event publishing is disabled.
func NewHealthHandler(client llm.Client, pub *events.NATSPublisher) *HealthHandler {
	return &HealthHandler{
		llmClient: client,
		publisher: pub,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
// Reports upstream model availability, and NATS connectivity when enabled.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if hc, ok := h.llmClient.(llm.HealthChecker); ok {
		if err := hc.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "model backend unreachable",
			})
			return
		}
	}

	if h.publisher != nil && !h.publisher.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Models handles GET /api/v1/models
// Proxies the live model list from the backend when it supports discovery,
// otherwise serves the provider's static list.
func (h *HealthHandler) Models(w http.ResponseWriter, r *http.Request) {
	type lister interface {
		ListModels(ctx context.Context) ([]string, error)
	}

	models := h.llmClient.Models()
	if l, ok := h.llmClient.(lister); ok {
		live, err := l.ListModels(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, "model backend unreachable")
			return
		}
		models = live
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider": h.llmClient.Name(),
		"models":   models,
	})
}
