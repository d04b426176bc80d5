// Package llm provides chat-completion clients and the streaming transport
// decoder used to talk to local and hosted model endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// StreamFunc is called during streaming with the running accumulated text,
// the full assistant output so far, not the individual delta. Each call's
// argument is a prefix-extension of the previous one. Returning an error
// aborts the stream.
type StreamFunc func(accumulated string) error

// ChatMessage is one turn of history sent to a completion endpoint. Parts,
// when non-empty, carries a typed multi-part body (text and image parts) and
// takes precedence over Content.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"-"`
}

// ContentPart mirrors the wire shape of a multi-part message element.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// ImageRef wraps an image reference inside a content part.
type ImageRef struct {
	URL string `json:"url"`
}

// CompletionRequest is a single chat-completion call.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// CompletionResponse is the outcome of a completion call.
type CompletionResponse struct {
	Content    string
	Model      string
	StopReason string
	LatencyMs  int64
}

// Client is the interface for completion providers.
type Client interface {
	// Complete performs a single request/response completion.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream performs a streaming completion, invoking fn with the
	// accumulated text as it grows. The returned response carries the final
	// accumulated text.
	CompleteStream(ctx context.Context, req *CompletionRequest, fn StreamFunc) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available model identifiers.
	Models() []string
}

// HealthChecker is implemented by providers that expose a connectivity probe.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrCancelled marks a completion aborted by its context. Callers treat it as
// an expected outcome, not a failure.
var ErrCancelled = errors.New("completion cancelled")

// TransportError is returned when the endpoint was reachable but answered
// with a non-success status.
type TransportError struct {
	StatusCode int
	Detail     string
}

func (e *TransportError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("completion endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.StatusCode, e.Detail)
}

// ConnectError is returned when the endpoint could not be reached at all
// (DNS failure, connection refused, timeout).
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "cannot reach completion endpoint: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// wrapCtxErr maps a context cancellation observed during a completion into
// ErrCancelled, leaving other errors untouched.
func wrapCtxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderLocal     Provider = "local"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient creates a completion client for the given provider.
func NewClient(provider Provider, baseURL, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderLocal:
		return NewLocalClient(baseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
