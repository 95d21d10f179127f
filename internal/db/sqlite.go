package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/matrixchat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS messages_conversation_created
    ON messages (conversation_id, created_at, id);

CREATE INDEX IF NOT EXISTS conversations_updated
    ON conversations (updated_at);`

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqliteDSN turns a plain file path into a DSN with foreign keys enforced and
// immediate write transactions. DSNs that already carry parameters are used as-is.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate", path)
}

func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	o := buildOptions(opts)
	return &SQLiteStore{db: db, now: o.now}, nil
}

func (s *SQLiteStore) timestamp() time.Time {
	return s.now().UTC()
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (title, created_at, updated_at)
        VALUES (?, ?, ?)
        RETURNING id`

	now := s.timestamp()
	conv := &models.Conversation{Title: titleOrDefault(title), CreatedAt: now, UpdatedAt: now}
	if err := s.db.QueryRowContext(ctx, query, conv.Title, now, now).Scan(&conv.ID); err != nil {
		return nil, storageErr("create conversation", err)
	}
	return conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	query := `
        SELECT c.id, c.title, c.created_at, c.updated_at,
            (SELECT m.content FROM messages m WHERE m.conversation_id = c.id
                ORDER BY m.created_at DESC, m.id DESC LIMIT 1),
            (SELECT m.role FROM messages m WHERE m.conversation_id = c.id
                ORDER BY m.created_at DESC, m.id DESC LIMIT 1)
        FROM conversations c
        ORDER BY c.updated_at DESC, c.id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	conversations := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var (
			conv    models.ConversationSummary
			content sql.NullString
			role    sql.NullString
		)
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &content, &role); err != nil {
			return nil, storageErr("list conversations", err)
		}
		if content.Valid {
			conv.Preview = &models.Preview{Content: content.String, Role: models.Role(role.String)}
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}
	return conversations, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("delete conversation", err)
	}
	defer tx.Rollback()

	// The foreign key cascades too, but only when the connection enforces it.
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return storageErr("delete conversation", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return storageErr("delete conversation", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("delete conversation", err)
	} else if n == 0 {
		return notFound(id)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("delete conversation", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is empty", models.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET title = ? WHERE id = ?", title, id)
	if err != nil {
		return storageErr("update conversation title", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update conversation title", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, content string, role models.Role, conversationID int64) (*models.Message, error) {
	if err := models.ValidateMessage(content, role); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("save message", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now, conversationID)
	if err != nil {
		return nil, storageErr("save message", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, storageErr("save message", err)
	} else if n == 0 {
		return nil, notFound(conversationID)
	}

	msg := &models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	query := `
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?)
        RETURNING id`
	if err := tx.QueryRowContext(ctx, query, conversationID, string(role), content, now).Scan(&msg.ID); err != nil {
		return nil, storageErr("save message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("save message", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(conversationID)
	}
	if err != nil {
		return nil, storageErr("list messages", err)
	}

	query := `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, storageErr("list messages", err)
		}
		msg.Role = models.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return messages, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
