// Package memory implements the conversation store in process memory.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AndresestradaR/MCP-Dropshipping/internal/domain/conversation"
)

// Store keeps conversation histories in a map. Histories are lost on restart.
type Store struct {
	mu          sync.RWMutex
	convs       map[string]*history
	maxMessages int
	now         func() time.Time
}

type history struct {
	msgs      []conversation.Message
	updatedAt time.Time
}

// NewStore creates a Store that keeps at most maxMessages per conversation
// (0 means unbounded).
func NewStore(maxMessages int) *Store {
	return &Store{
		convs:       make(map[string]*history),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// Append adds msgs to the conversation, creating it if needed, then trims the
// history to the message cap.
func (s *Store) Append(_ context.Context, conversationID string, msgs ...conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	h, ok := s.convs[conversationID]
	if !ok {
		h = &history{}
		s.convs[conversationID] = h
	}
	for i := range msgs {
		m := msgs[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.ConversationID = conversationID
		h.msgs = append(h.msgs, m)
	}
	h.msgs = slices.Clone(conversation.Trim(h.msgs, s.maxMessages))
	h.updatedAt = now
	return nil
}

// History returns a copy of the conversation's messages, oldest first.
// An unknown conversation has an empty history.
func (s *Store) History(_ context.Context, conversationID string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.convs[conversationID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(h.msgs), nil
}

// Clear removes the conversation.
func (s *Store) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// StartJanitor spawns a goroutine that evicts conversations idle longer than
// ttl every interval. Returns a cancel function that stops it.
func (s *Store) StartJanitor(interval, ttl time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictIdle(ttl)
			}
		}
	}()
	return cancel
}

// evictIdle removes conversations not updated within ttl and returns how many
// were removed.
func (s *Store) evictIdle(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	n := 0
	for id, h := range s.convs {
		if h.updatedAt.Before(cutoff) {
			delete(s.convs, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}
