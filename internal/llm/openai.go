package llm

import (
	"context"
	"errors"
	"io"
	"net/url"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the hosted OpenAI completion client.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Models returns available models.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
		"gpt-3.5-turbo",
	}
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		if len(msg.Parts) > 0 {
			parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				switch p.Type {
				case "text":
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				case "image_url":
					if p.ImageURL != nil {
						parts = append(parts, openai.ChatMessagePart{
							Type:     openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL},
						})
					}
				}
			}
			out[i] = openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}
			continue
		}
		out[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}

func mapOpenAIError(ctx context.Context, err error) error {
	if cerr := wrapCtxErr(ctx, err); cerr == ErrCancelled {
		return ErrCancelled
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TransportError{StatusCode: apiErr.HTTPStatusCode, Detail: apiErr.Message}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ConnectError{Err: err}
	}
	return err
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, mapOpenAIError(ctx, err)
	}

	out := &CompletionResponse{
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// CompleteStream sends a streaming completion request.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, fn StreamFunc) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "gpt-4o"
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		return nil, mapOpenAIError(ctx, err)
	}
	defer stream.Close()

	var content string
	var stopReason string

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, mapOpenAIError(ctx, err)
		}

		if len(response.Choices) > 0 {
			if delta := response.Choices[0].Delta.Content; delta != "" {
				content += delta
				if fn != nil {
					if err := fn(content); err != nil {
						return nil, wrapCtxErr(ctx, err)
					}
				}
			}
			if response.Choices[0].FinishReason != "" {
				stopReason = string(response.Choices[0].FinishReason)
			}
		}
	}

	return &CompletionResponse{
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
