package session

import (
	"context"
	"errors"
	"sync"
)

// Pane names one side of the split view.
type Pane string

const (
	PaneLeft  Pane = "left"
	PaneRight Pane = "right"
)

// ErrSplitDisabled is returned when a right-pane operation arrives while the
// split view is off.
var ErrSplitDisabled = errors.New("split view is disabled")

// ErrUnknownPane is returned for a pane name other than "left" or "right".
var ErrUnknownPane = errors.New("unknown pane")

// SplitView is the read model of the two-pane layout. Right retains its last
// assignment even while Enabled is false, so toggling the split back on
// restores the previous pairing.
type SplitView struct {
	Left    string `json:"left"`
	Right   string `json:"right"`
	Enabled bool   `json:"enabled"`
}

type splitState struct {
	mu      sync.Mutex
	left    string
	right   string
	enabled bool
}

// Split returns the current split view.
func (m *Manager) Split() SplitView {
	m.split.mu.Lock()
	defer m.split.mu.Unlock()
	return SplitView{Left: m.split.left, Right: m.split.right, Enabled: m.split.enabled}
}

// SetSplitEnabled toggles the split view. Disabling keeps the right pane's
// assignment so it can be restored later.
func (m *Manager) SetSplitEnabled(enabled bool) SplitView {
	m.split.mu.Lock()
	defer m.split.mu.Unlock()
	m.split.enabled = enabled
	return SplitView{Left: m.split.left, Right: m.split.right, Enabled: m.split.enabled}
}

// AssignPane binds a conversation to a pane. The right pane only accepts
// assignments while the split view is enabled; the left pane always does.
func (m *Manager) AssignPane(pane Pane, conversationID string) (SplitView, error) {
	m.split.mu.Lock()
	defer m.split.mu.Unlock()

	switch pane {
	case PaneLeft:
		m.split.left = conversationID
	case PaneRight:
		if !m.split.enabled {
			return SplitView{}, ErrSplitDisabled
		}
		m.split.right = conversationID
	default:
		return SplitView{}, ErrUnknownPane
	}
	return SplitView{Left: m.split.left, Right: m.split.right, Enabled: m.split.enabled}, nil
}

func (m *Manager) paneConversation(pane Pane) (string, error) {
	m.split.mu.Lock()
	defer m.split.mu.Unlock()

	switch pane {
	case PaneLeft:
		return m.split.left, nil
	case PaneRight:
		if !m.split.enabled {
			return "", ErrSplitDisabled
		}
		return m.split.right, nil
	default:
		return "", ErrUnknownPane
	}
}

func (m *Manager) adoptPane(pane Pane, conversationID string) {
	m.split.mu.Lock()
	defer m.split.mu.Unlock()

	switch pane {
	case PaneLeft:
		if m.split.left == "" {
			m.split.left = conversationID
		}
	case PaneRight:
		if m.split.enabled && m.split.right == "" {
			m.split.right = conversationID
		}
	}
}

// SendToPane routes a send through the conversation bound to a pane. When the
// pane is empty a new conversation is created and adopted into it. The two
// panes run fully independent sessions; a generation in one never blocks the
// other.
func (m *Manager) SendToPane(ctx context.Context, userID string, pane Pane, req *SendRequest) (*SendResult, error) {
	conversationID, err := m.paneConversation(pane)
	if err != nil {
		return nil, err
	}

	paneReq := *req
	paneReq.ConversationID = conversationID

	result, err := m.Send(ctx, userID, &paneReq)
	if err != nil {
		return result, err
	}
	if conversationID == "" {
		m.adoptPane(pane, result.ConversationID)
	}
	return result, nil
}
