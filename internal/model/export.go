package model

import (
	"errors"
	"time"
)

// ExportDocument is the serialized form of a conversation produced at the
// export boundary.
type ExportDocument struct {
	Conversation Conversation `json:"conversation"`
	ExportedAt   time.Time    `json:"exported_at"`
}

// ImportRequest is an externally produced conversation document. The
// identifier and timestamps inside it are never trusted; the importer assigns
// fresh ones.
type ImportRequest struct {
	Title    string     `json:"title,omitempty"`
	Messages *[]Message `json:"messages"`
	Pinned   bool       `json:"pinned,omitempty"`
	Archived bool       `json:"archived,omitempty"`
}

// ErrNoMessages is returned when an import payload lacks a messages list.
var ErrNoMessages = errors.New("import payload has no messages list")

// Validate checks the import payload shape. The messages list must be
// present; it may be empty.
func (r *ImportRequest) Validate() error {
	if r.Messages == nil {
		return ErrNoMessages
	}
	for _, m := range *r.Messages {
		if !m.Role.Valid() {
			return errors.New("import payload has a message with an unknown role")
		}
	}
	return nil
}
