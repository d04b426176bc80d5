package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KrzysMak1/local-chat-companion/internal/model"
)

// SQLiteStore is the on-disk Store. The schema mirrors the companion's
// original layout (chats + messages, millisecond timestamps) with an extra
// monotonically increasing sequence column so message ordering is stable even
// when timestamps collide.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT 'New chat',
	pinned INTEGER DEFAULT 0,
	archived INTEGER DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	chat_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	image_url TEXT,
	timestamp INTEGER NOT NULL,
	FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
`

// OpenSQLite opens (and if necessary initializes) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY on concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func msec(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMsec(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func (s *SQLiteStore) ownerCheck(ctx context.Context, userID, conversationID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chats WHERE id = ? AND user_id = ?`, conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// List returns conversation metadata in creation order.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.pinned, c.archived, c.created_at, c.updated_at,
		       COUNT(m.id)
		FROM chats c
		LEFT JOIN messages m ON c.id = m.chat_id
		WHERE c.user_id = ?
		GROUP BY c.id
		ORDER BY c.created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Conversation, 0)
	for rows.Next() {
		var conv model.Conversation
		var pinned, archived int
		var createdAt, updatedAt int64
		if err := rows.Scan(&conv.ID, &conv.Title, &pinned, &archived, &createdAt, &updatedAt, &conv.MessageCount); err != nil {
			return nil, err
		}
		conv.UserID = userID
		conv.Pinned = pinned != 0
		conv.Archived = archived != 0
		conv.CreatedAt = fromMsec(createdAt)
		conv.UpdatedAt = fromMsec(updatedAt)
		out = append(out, conv)
	}
	return out, rows.Err()
}

// Get returns one conversation with its full message history.
func (s *SQLiteStore) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	var pinned, archived int
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, pinned, archived, created_at, updated_at
		FROM chats WHERE id = ? AND user_id = ?`, conversationID, userID).
		Scan(&conv.ID, &conv.Title, &pinned, &archived, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.UserID = userID
	conv.Pinned = pinned != 0
	conv.Archived = archived != 0
	conv.CreatedAt = fromMsec(createdAt)
	conv.UpdatedAt = fromMsec(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, timestamp
		FROM messages WHERE chat_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg model.Message
		var body string
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.Role, &body, &ts); err != nil {
			return nil, err
		}
		msg.ConversationID = conversationID
		msg.DecodeBody(body)
		msg.CreatedAt = fromMsec(ts)
		conv.Messages = append(conv.Messages, msg)
	}
	conv.MessageCount = len(conv.Messages)
	return &conv, rows.Err()
}

// Create creates a conversation with a fresh identifier.
func (s *SQLiteStore) Create(ctx context.Context, userID, title string) (*model.Conversation, error) {
	if title == "" {
		title = model.DefaultTitle
	}
	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, userID, title, msec(now), msec(now))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// UpdateMeta applies a partial metadata update.
func (s *SQLiteStore) UpdateMeta(ctx context.Context, userID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	if err := s.ownerCheck(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	set := "updated_at = ?"
	args := []any{msec(time.Now())}
	if req.Title != nil {
		set += ", title = ?"
		args = append(args, *req.Title)
	}
	if req.Pinned != nil {
		set += ", pinned = ?"
		args = append(args, boolInt(*req.Pinned))
	}
	if req.Archived != nil {
		set += ", archived = ?"
		args = append(args, boolInt(*req.Archived))
	}
	args = append(args, conversationID)

	if _, err := s.db.ExecContext(ctx, "UPDATE chats SET "+set+" WHERE id = ?", args...); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, conversationID)
}

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, userID, conversationID string) error {
	if err := s.ownerCheck(ctx, userID, conversationID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, conversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, conversationID, userID)
	return err
}

// AppendMessage appends a message and bumps UpdatedAt.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID, conversationID string, msg *model.Message) error {
	if err := s.ownerCheck(ctx, userID, conversationID); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ConversationID = conversationID

	body, err := msg.EncodeBody()
	if err != nil {
		return err
	}
	var imageURL any
	if u := msg.FirstImageURL(); u != "" {
		imageURL = u
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, image_url, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Role), body, imageURL, msec(msg.CreatedAt)); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		msec(time.Now()), conversationID)
	return err
}

// DeleteMessage removes a single message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error {
	if err := s.ownerCheck(ctx, userID, conversationID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND chat_id = ?`, messageID, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		msec(time.Now()), conversationID)
	return err
}

// TruncateFrom removes the message at index and everything after it.
func (s *SQLiteStore) TruncateFrom(ctx context.Context, userID, conversationID string, index int) error {
	if err := s.ownerCheck(ctx, userID, conversationID); err != nil {
		return err
	}
	if index < 0 {
		return ErrNotFound
	}
	// When index is past the end the subquery yields NULL and nothing
	// matches, which is the correct no-op.
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE chat_id = ? AND seq >= (
			SELECT seq FROM messages WHERE chat_id = ? ORDER BY seq LIMIT 1 OFFSET ?
		)`,
		conversationID, conversationID, index)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		msec(time.Now()), conversationID)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
