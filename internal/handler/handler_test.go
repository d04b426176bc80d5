package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrzysMak1/local-chat-companion/internal/llm"
	"github.com/KrzysMak1/local-chat-companion/internal/middleware"
	"github.com/KrzysMak1/local-chat-companion/internal/model"
	"github.com/KrzysMak1/local-chat-companion/internal/session"
	"github.com/KrzysMak1/local-chat-companion/internal/store"
	"github.com/KrzysMak1/local-chat-companion/pkg/logger"
)

const testSecret = "handler-test-secret"

// scriptedClient returns canned completions, word-streamed.
type scriptedClient struct {
	reply string
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: c.reply}, nil
}

func (c *scriptedClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, fn llm.StreamFunc) (*llm.CompletionResponse, error) {
	acc := ""
	for _, w := range strings.SplitAfter(c.reply, " ") {
		acc += w
		if fn != nil {
			if err := fn(acc); err != nil {
				return nil, err
			}
		}
	}
	return &llm.CompletionResponse{Content: acc}, nil
}

func (c *scriptedClient) Name() string     { return "scripted" }
func (c *scriptedClient) Models() []string { return []string{"scripted"} }

func newTestRouter(t *testing.T, streaming bool) (*chi.Mux, *session.Manager) {
	t.Helper()

	defaults := model.DefaultSettings()
	defaults.Streaming = streaming

	log := logger.NewNop()
	manager := session.NewManager(store.NewMemoryStore(), &scriptedClient{reply: "streamed reply text"}, nil, defaults, log)

	conversationHandler := NewConversationHandler(manager, log)
	messageHandler := NewMessageHandler(manager, defaults, log)
	importExportHandler := NewImportExportHandler(manager, log)
	splitHandler := NewSplitHandler(messageHandler, manager, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(testSecret))

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", messageHandler.SendNew)
			r.Post("/import", importExportHandler.Import)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Patch("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/pin", conversationHandler.TogglePin)
				r.Get("/state", conversationHandler.State)
				r.Get("/export", importExportHandler.Export)
				r.Get("/messages", conversationHandler.Messages)
				r.Post("/messages", messageHandler.Send)
				r.Post("/stop", messageHandler.Stop)
				r.Post("/regenerate", messageHandler.Regenerate)
				r.Post("/messages/{messageID}/edit", messageHandler.Edit)
				r.Delete("/messages/{messageID}", messageHandler.DeleteMessage)
			})
		})

		r.Route("/split", func(r chi.Router) {
			r.Get("/", splitHandler.Get)
			r.Put("/", splitHandler.SetEnabled)
			r.Put("/{pane}", splitHandler.Assign)
			r.Post("/{pane}/messages", splitHandler.Send)
		})
	})
	return r, manager
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, "user-1", time.Hour)
	require.NoError(t, err)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	r, _ := newTestRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendNewNonStreaming(t *testing.T) {
	r, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats", `{"content":"hello there friend"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var result session.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.ConversationID)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, "streamed reply text", result.AssistantMessage.Content)

	// The conversation shows up in the list with the derived title.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var list model.ListConversationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "hello there friend", list.Conversations[0].Title)
}

func TestSendNewStreamsSSE(t *testing.T) {
	r, _ := newTestRouter(t, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats", `{"content":"stream it"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	lines := strings.Split(rec.Body.String(), "\n")
	var payloads []string
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}
	require.GreaterOrEqual(t, len(payloads), 3)
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])

	// Content frames carry accumulated text, each extending the last.
	prev := ""
	for _, p := range payloads[:len(payloads)-2] {
		var frame struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal([]byte(p), &frame))
		assert.True(t, strings.HasPrefix(frame.Content, prev))
		prev = frame.Content
	}
	assert.Equal(t, "streamed reply text", prev)

	// The penultimate frame is the final result.
	var result session.SendResult
	require.NoError(t, json.Unmarshal([]byte(payloads[len(payloads)-2]), &result))
	assert.NotEmpty(t, result.ConversationID)
	require.NotNil(t, result.AssistantMessage)
	assert.Equal(t, "streamed reply text", result.AssistantMessage.Content)
}

func TestConversationLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats", `{"content":"first message"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var result session.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	convID := result.ConversationID

	// Rename.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPatch, "/api/v1/chats/"+convID, `{"title":"renamed"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	// Pin.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats/"+convID+"/pin", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "renamed", conv.Title)
	assert.True(t, conv.Pinned)

	// Idle state view.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats/"+convID+"/state", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var state session.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Loading)

	// Message listing.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats/"+convID+"/messages", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		ConversationID string          `json:"conversation_id"`
		Messages       []model.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, convID, listing.ConversationID)
	require.Len(t, listing.Messages, 2)

	// Delete a message.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodDelete, "/api/v1/chats/"+convID+"/messages/"+result.UserMessage.ID, ""))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Delete the conversation.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodDelete, "/api/v1/chats/"+convID, ""))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats/"+convID, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopIdleConversation(t *testing.T) {
	r, manager := newTestRouter(t, false)

	conv, err := manager.Import(context.Background(), "user-1", &model.ImportRequest{
		Title:    "idle",
		Messages: &[]model.Message{},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats/"+conv.ID+"/stop", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body["stopped"])
}

func TestImportAndExportEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, false)

	payload := `{"title":"imported","messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats/import", payload))
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Len(t, conv.Messages, 2)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats/"+conv.ID+"/export", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), conv.ID)

	var doc model.ExportDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, conv.ID, doc.Conversation.ID)
	assert.False(t, doc.ExportedAt.IsZero())
}

func TestImportMissingMessagesRejected(t *testing.T) {
	r, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats/import", `{"title":"no messages"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSplitEndpoints(t *testing.T) {
	r, _ := newTestRouter(t, false)

	// Right pane assignment refused while split is off.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPut, "/api/v1/split/right", `{"conversation_id":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPut, "/api/v1/split", `{"enabled":true}`))
	require.Equal(t, http.StatusOK, rec.Code)

	// Send through the right pane; a conversation is created and adopted.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/split/right/messages", `{"content":"into the pane"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var result session.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.ConversationID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/split", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var view session.SplitView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Enabled)
	assert.Equal(t, result.ConversationID, view.Right)
}

func TestEditEndpointTruncatesAndResends(t *testing.T) {
	r, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats", `{"content":"original question"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var first session.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	target := "/api/v1/chats/" + first.ConversationID + "/messages/" + first.UserMessage.ID + "/edit"
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, target, `{"content":"revised question"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats/"+first.ConversationID, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "revised question", conv.Messages[0].Content)
}

func TestRegenerateEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats", `{"content":"a question"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var first session.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/api/v1/chats/"+first.ConversationID+"/regenerate", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var result session.SendResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.AssistantMessage)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/api/v1/chats/"+first.ConversationID, ""))
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Len(t, conv.Messages, 2)
}
