package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrMemoryNotFound is returned when a memory key doesn't exist
var ErrMemoryNotFound = errors.New("memory item not found")

// MemoryStore persists memory items in PostgreSQL
type MemoryStore struct {
	client *Client
	logger *zap.Logger
}

// NewMemoryStore creates a memory store over an existing client
func NewMemoryStore(client *Client, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{client: client, logger: logger}
}

// Put inserts or replaces a memory item
func (s *MemoryStore) Put(ctx context.Context, rec *MemoryRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO memories (key, content, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET content = EXCLUDED.content,
		    metadata = EXCLUDED.metadata,
		    updated_at = EXCLUDED.updated_at
	`, rec.Key, rec.Content, rec.Metadata, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// Get loads a memory item by key
func (s *MemoryStore) Get(ctx context.Context, key string) (*MemoryRecord, error) {
	var rec MemoryRecord
	err := s.client.DB().GetContext(ctx, &rec, `
		SELECT key, content, metadata, created_at, updated_at
		FROM memories
		WHERE key = $1
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select memory: %w", err)
	}
	return &rec, nil
}

// List returns memory items most recently updated first
func (s *MemoryStore) List(ctx context.Context, limit int) ([]MemoryRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []MemoryRecord
	err := s.client.DB().SelectContext(ctx, &recs, `
		SELECT key, content, metadata, created_at, updated_at
		FROM memories
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return recs, nil
}
