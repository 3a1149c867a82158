package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements conversationstore.Store using PostgreSQL.
type Store struct {
	pool        *pgxpool.Pool
	maxMessages int
}

// NewStore creates a new Store backed by the given connection pool. Histories
// are trimmed to maxMessages after every append (0 means unbounded).
func NewStore(pool *pgxpool.Pool, maxMessages int) *Store {
	return &Store{pool: pool, maxMessages: maxMessages}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
