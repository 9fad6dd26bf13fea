package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// SessionRecord is the durable row backing one orchestration session
type SessionRecord struct {
	ID          string     `db:"id"`
	Name        string     `db:"name"`
	Context     JSONB      `db:"context"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// TaskRecord is the durable row backing one analysis task
type TaskRecord struct {
	ID           string     `db:"id"`
	SessionID    string     `db:"session_id"`
	System       string     `db:"system"`
	AnalysisType string     `db:"analysis_type"`
	Status       string     `db:"status"`
	Input        JSONB      `db:"input"`
	Output       JSONB      `db:"output"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	DurationMs   *int64     `db:"duration_ms"`
}

// MemoryRecord is the durable row backing one memory item
type MemoryRecord struct {
	Key       string    `db:"key"`
	Content   string    `db:"content"`
	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
