package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultLocalBaseURL points at a llama.cpp server on its usual port.
const DefaultLocalBaseURL = "http://127.0.0.1:8081"

// LocalClient talks to an OpenAI-compatible local completion endpoint
// (llama.cpp server or equivalent) over raw HTTP, decoding streaming
// responses with the SSE Decoder.
type LocalClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewLocalClient creates a client for an OpenAI-compatible endpoint. An empty
// baseURL falls back to DefaultLocalBaseURL. Cancellation and deadlines are
// governed entirely by the request context, so streaming responses may run
// as long as the caller allows.
func NewLocalClient(baseURL string) *LocalClient {
	if baseURL == "" {
		baseURL = DefaultLocalBaseURL
	}
	return &LocalClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Name returns the provider name.
func (c *LocalClient) Name() string {
	return "local"
}

// Models returns the single logical model the local endpoint serves. Use
// ListModels to query the endpoint for what is actually loaded.
func (c *LocalClient) Models() []string {
	return []string{"local"}
}

// wireMessage is the request-body shape of one history turn. Content is a
// string for plain messages or a part array for multi-part ones.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func toWireMessages(messages []ChatMessage) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		if len(m.Parts) > 0 {
			out[i] = wireMessage{Role: m.Role, Content: m.Parts}
		} else {
			out[i] = wireMessage{Role: m.Role, Content: m.Content}
		}
	}
	return out
}

func (c *LocalClient) newRequest(ctx context.Context, req *CompletionRequest, stream bool) (*http.Request, error) {
	model := req.Model
	if model == "" {
		model = "local"
	}
	body, err := json.Marshal(map[string]any{
		"model":       model,
		"messages":    toWireMessages(req.Messages),
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"stream":      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (c *LocalClient) do(ctx context.Context, httpReq *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if cerr := wrapCtxErr(ctx, err); cerr == ErrCancelled {
			return nil, ErrCancelled
		}
		return nil, &ConnectError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &TransportError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	return resp, nil
}

// Complete performs a single request/response completion.
func (c *LocalClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, wrapCtxErr(ctx, fmt.Errorf("failed to decode completion response: %w", err))
	}

	out := &CompletionResponse{
		Model:     parsed.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(parsed.Choices) > 0 {
		out.Content = parsed.Choices[0].Message.Content
		out.StopReason = parsed.Choices[0].FinishReason
	}
	return out, nil
}

// CompleteStream performs a streaming completion, forwarding every
// accumulated value to fn. The response content is the last accumulated
// value observed.
func (c *LocalClient) CompleteStream(ctx context.Context, req *CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	start := time.Now()

	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	dec := NewDecoder(resp.Body)
	for {
		accumulated, err := dec.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapCtxErr(ctx, err)
		}
		if fn != nil {
			if err := fn(accumulated); err != nil {
				return nil, wrapCtxErr(ctx, err)
			}
		}
	}

	return &CompletionResponse{
		Content:   dec.Text(),
		Model:     req.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health probes the endpoint's health route.
func (c *LocalClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListModels queries the endpoint for its loaded models.
func (c *LocalClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	models := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, m.ID)
	}
	return models, nil
}
