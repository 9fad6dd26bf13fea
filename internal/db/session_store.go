package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/session"
)

// SessionStore persists sessions and their tasks in PostgreSQL.
// It is the authoritative record; the in-process registry is only a cache.
type SessionStore struct {
	client *Client
	logger *zap.Logger
}

// NewSessionStore creates a session store over an existing client
func NewSessionStore(client *Client, logger *zap.Logger) *SessionStore {
	return &SessionStore{client: client, logger: logger}
}

// CreateSession inserts a new session row
func (s *SessionStore) CreateSession(ctx context.Context, sess *session.Session) error {
	rec := sessionToRecord(sess)
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO sessions (id, name, context, status, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Name, rec.Context, rec.Status, rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession updates the mutable session columns
func (s *SessionStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	rec := sessionToRecord(sess)
	res, err := s.client.DB().ExecContext(ctx, `
		UPDATE sessions
		SET context = $2, status = $3, updated_at = $4, completed_at = $5
		WHERE id = $1
	`, rec.ID, rec.Context, rec.Status, rec.UpdatedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

// GetSession loads a session and its ordered task log
func (s *SessionStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	var rec SessionRecord
	err := s.client.DB().GetContext(ctx, &rec, `
		SELECT id, name, context, status, created_at, updated_at, completed_at
		FROM sessions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	var taskRecs []TaskRecord
	err = s.client.DB().SelectContext(ctx, &taskRecs, `
		SELECT id, session_id, system, analysis_type, status, input, output,
		       error_message, created_at, started_at, completed_at, duration_ms
		FROM tasks
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select session tasks: %w", err)
	}

	sess := recordToSession(&rec)
	sess.Tasks = make([]session.Task, 0, len(taskRecs))
	for i := range taskRecs {
		sess.Tasks = append(sess.Tasks, recordToTask(&taskRecs[i]))
	}
	return sess, nil
}

// SaveTask inserts or updates a task row. Task rows are append-only once
// terminal; updates only move a live task through its lifecycle.
func (s *SessionStore) SaveTask(ctx context.Context, task *session.Task) error {
	rec := taskToRecord(task)
	_, err := s.client.DB().ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, system, analysis_type, status, input, output,
		                   error_message, created_at, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    output = EXCLUDED.output,
		    error_message = EXCLUDED.error_message,
		    started_at = EXCLUDED.started_at,
		    completed_at = EXCLUDED.completed_at,
		    duration_ms = EXCLUDED.duration_ms
	`, rec.ID, rec.SessionID, rec.System, rec.AnalysisType, rec.Status, rec.Input, rec.Output,
		rec.ErrorMessage, rec.CreatedAt, rec.StartedAt, rec.CompletedAt, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func sessionToRecord(sess *session.Session) *SessionRecord {
	return &SessionRecord{
		ID:          sess.ID,
		Name:        sess.Name,
		Context:     JSONB(sess.Context),
		Status:      string(sess.Status),
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
		CompletedAt: sess.CompletedAt,
	}
}

func recordToSession(rec *SessionRecord) *session.Session {
	return &session.Session{
		ID:          rec.ID,
		Name:        rec.Name,
		Context:     map[string]interface{}(rec.Context),
		Status:      session.Status(rec.Status),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func taskToRecord(task *session.Task) *TaskRecord {
	rec := &TaskRecord{
		ID:           task.ID,
		SessionID:    task.SessionID,
		System:       task.System,
		AnalysisType: task.AnalysisType,
		Status:       string(task.Status),
		Input:        JSONB(task.Input),
		Output:       JSONB(task.Output),
		CreatedAt:    task.CreatedAt,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
	}
	if task.ErrorMessage != "" {
		msg := task.ErrorMessage
		rec.ErrorMessage = &msg
	}
	if task.DurationMs > 0 {
		d := task.DurationMs
		rec.DurationMs = &d
	}
	return rec
}

func recordToTask(rec *TaskRecord) session.Task {
	task := session.Task{
		ID:           rec.ID,
		SessionID:    rec.SessionID,
		System:       rec.System,
		AnalysisType: rec.AnalysisType,
		Status:       session.TaskStatus(rec.Status),
		Input:        map[string]interface{}(rec.Input),
		Output:       map[string]interface{}(rec.Output),
		CreatedAt:    rec.CreatedAt,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}
	if rec.ErrorMessage != nil {
		task.ErrorMessage = *rec.ErrorMessage
	}
	if rec.DurationMs != nil {
		task.DurationMs = *rec.DurationMs
	}
	return task
}
