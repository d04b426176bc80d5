package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ContentPart is one element of a multi-part message body. Type is either
// "text" or "image_url".
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference inside a content part.
type ImageURL struct {
	URL string `json:"url"`
}

// Message is one turn in a conversation. Content holds plain text; Parts,
// when non-empty, holds the typed multi-part body instead. Role is immutable
// after creation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Role           Role          `json:"role"`
	Content        string        `json:"content,omitempty"`
	Parts          []ContentPart `json:"parts,omitempty"`
	CreatedAt      time.Time     `json:"timestamp"`
}

// Text flattens the message body to plain text, joining text parts and
// ignoring image parts.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// FirstImageURL returns the first image reference in the message, if any.
func (m Message) FirstImageURL() string {
	for _, p := range m.Parts {
		if p.Type == "image_url" && p.ImageURL != nil {
			return p.ImageURL.URL
		}
	}
	return ""
}

// EncodeBody serializes the message body for storage: plain content as-is,
// multi-part bodies as a JSON array.
func (m Message) EncodeBody() (string, error) {
	if len(m.Parts) == 0 {
		return m.Content, nil
	}
	b, err := json.Marshal(m.Parts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeBody restores a stored body into Content or Parts. Bodies that are
// not a JSON part array are treated as plain text.
func (m *Message) DecodeBody(body string) {
	if strings.HasPrefix(strings.TrimSpace(body), "[") {
		var parts []ContentPart
		if err := json.Unmarshal([]byte(body), &parts); err == nil {
			m.Parts = parts
			m.Content = ""
			return
		}
	}
	m.Content = body
	m.Parts = nil
}

// SendMessageRequest is the request to send a new user message.
type SendMessageRequest struct {
	Content  string        `json:"content"`
	Parts    []ContentPart `json:"parts,omitempty"`
	Settings *ChatSettings `json:"settings,omitempty"`
}

// ChatSettings carries per-request generation parameters.
type ChatSettings struct {
	SystemPrompt string  `json:"system_prompt"`
	Memory       string  `json:"memory,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	Streaming    bool    `json:"streaming"`
}

// DefaultSettings returns the generation defaults.
func DefaultSettings() ChatSettings {
	return ChatSettings{
		SystemPrompt: "You are a helpful AI assistant.",
		Temperature:  0.7,
		MaxTokens:    2048,
		Streaming:    true,
	}
}
