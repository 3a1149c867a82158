// Package sqlite stores conversation history in a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT '',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL DEFAULT '',
	is_error        INTEGER NOT NULL DEFAULT 0,
	data            TEXT NOT NULL DEFAULT '',
	tokens_in       INTEGER NOT NULL DEFAULT 0,
	tokens_out      INTEGER NOT NULL DEFAULT 0,
	model           TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv_seq ON conversation_messages(conversation_id, seq);
`

// Store implements conversationstore.Store on SQLite.
type Store struct {
	db          *sql.DB
	maxMessages int
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string, maxMessages int) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return &Store{db: db, maxMessages: maxMessages}, nil
}

// Append inserts msgs in one transaction and trims the history.
func (s *Store) Append(ctx context.Context, conversationID string, msgs ...conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append %s: begin: %w", conversationID, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		conversationID, now, now); err != nil {
		return fmt.Errorf("append %s: upsert conversation: %w", conversationID, err)
	}

	for i := range msgs {
		m := msgs[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		var calls []byte
		if len(m.ToolCalls) > 0 {
			if calls, err = json.Marshal(m.ToolCalls); err != nil {
				return fmt.Errorf("append %s: marshal tool calls: %w", conversationID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_messages
			 (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name,
			  is_error, data, tokens_in, tokens_out, model, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, conversationID, string(m.Role), m.Content, string(calls), m.ToolCallID, m.ToolName,
			m.IsError, string(m.Data), m.TokensIn, m.TokensOut, m.Model, formatTime(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("append %s: insert message: %w", conversationID, err)
		}
	}

	if err := s.trim(ctx, tx, conversationID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append %s: commit: %w", conversationID, err)
	}
	return nil
}

func (s *Store) trim(ctx context.Context, tx *sql.Tx, conversationID string) error {
	if s.maxMessages <= 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT seq, role FROM conversation_messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return fmt.Errorf("trim %s: %w", conversationID, err)
	}
	var (
		seqs  []int64
		roles []conversation.Message
	)
	for rows.Next() {
		var (
			seq  int64
			role string
		)
		if err := rows.Scan(&seq, &role); err != nil {
			_ = rows.Close()
			return fmt.Errorf("trim %s: scan: %w", conversationID, err)
		}
		seqs = append(seqs, seq)
		roles = append(roles, conversation.Message{Role: conversation.Role(role)})
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("trim %s: %w", conversationID, err)
	}

	drop := len(roles) - len(conversation.Trim(roles, s.maxMessages))
	if drop == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE conversation_id = ? AND seq < ?`,
		conversationID, seqs[drop]); err != nil {
		return fmt.Errorf("trim %s: delete: %w", conversationID, err)
	}
	return nil
}

// History returns the conversation's messages, oldest first.
func (s *Store) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_calls, tool_call_id, tool_name,
		        is_error, data, tokens_in, tokens_out, model, created_at
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", conversationID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []conversation.Message
	for rows.Next() {
		var (
			m                     conversation.Message
			role, calls, data, ts string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &calls, &m.ToolCallID, &m.ToolName,
			&m.IsError, &data, &m.TokensIn, &m.TokensOut, &m.Model, &ts); err != nil {
			return nil, fmt.Errorf("history %s: scan: %w", conversationID, err)
		}
		m.Role = conversation.Role(role)
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("history %s: decode tool calls: %w", conversationID, err)
			}
		}
		if data != "" {
			m.Data = json.RawMessage(data)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes the conversation and its messages.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear %s: %w", conversationID, err)
	}
	return nil
}

// DeleteIdle removes conversations not updated within ttl.
func (s *Store) DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE updated_at < ?`, formatTime(time.Now().Add(-ttl)))
	if err != nil {
		return 0, fmt.Errorf("delete idle conversations: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// formatTime renders t so that lexical order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
