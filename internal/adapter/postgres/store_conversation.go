package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
)

// Append inserts msgs in one transaction, creating the conversation row on
// first use, then trims the history to whole turns within the message cap.
func (s *Store) Append(ctx context.Context, conversationID string, msgs ...conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append %s: begin: %w", conversationID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE SET updated_at = NOW()`,
		conversationID); err != nil {
		return fmt.Errorf("append %s: upsert conversation: %w", conversationID, err)
	}

	batch := &pgx.Batch{}
	for i := range msgs {
		m := &msgs[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		calls, err := encodeToolCalls(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("append %s: %w", conversationID, err)
		}
		batch.Queue(
			`INSERT INTO conversation_messages
			 (id, conversation_id, role, content, tool_calls, tool_call_id, tool_name,
			  is_error, data, tokens_in, tokens_out, model, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			m.ID, conversationID, string(m.Role), m.Content, nullJSON(calls), m.ToolCallID, m.ToolName,
			m.IsError, nullJSON(m.Data), m.TokensIn, m.TokensOut, m.Model, m.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append %s: insert messages: %w", conversationID, err)
	}

	if err := s.trim(ctx, tx, conversationID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("append %s: commit: %w", conversationID, err)
	}
	return nil
}

// trim deletes the oldest messages so that at most maxMessages remain, cutting
// only at the start of a user turn.
func (s *Store) trim(ctx context.Context, tx pgx.Tx, conversationID string) error {
	if s.maxMessages <= 0 {
		return nil
	}

	rows, err := tx.Query(ctx,
		`SELECT seq, role FROM conversation_messages
		 WHERE conversation_id = $1 ORDER BY seq ASC`, conversationID)
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
			rows.Close()
			return fmt.Errorf("trim %s: scan: %w", conversationID, err)
		}
		seqs = append(seqs, seq)
		roles = append(roles, conversation.Message{Role: conversation.Role(role)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("trim %s: %w", conversationID, err)
	}

	kept := conversation.Trim(roles, s.maxMessages)
	drop := len(roles) - len(kept)
	if drop == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM conversation_messages WHERE conversation_id = $1 AND seq < $2`,
		conversationID, seqs[drop]); err != nil {
		return fmt.Errorf("trim %s: delete: %w", conversationID, err)
	}
	return nil
}

// History returns the conversation's messages, oldest first.
func (s *Store) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM conversation_messages WHERE conversation_id = $1 ORDER BY seq ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", conversationID, err)
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("history %s: scan: %w", conversationID, err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Clear deletes the conversation and its messages.
func (s *Store) Clear(ctx context.Context, conversationID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("clear %s: %w", conversationID, err)
	}
	return nil
}

// DeleteIdle removes conversations not updated within ttl.
func (s *Store) DeleteIdle(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE updated_at < $1`, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("delete idle conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}
