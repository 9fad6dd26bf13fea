package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when session data is invalid
	ErrInvalidSession = errors.New("invalid session")
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TaskStatus is the lifecycle state of a single analysis task
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the task reached a permanent outcome
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Session represents one bounded unit of orchestration work
type Session struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Context     map[string]interface{} `json:"context"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`

	// Ordered collaboration log, oldest first
	Tasks []Task `json:"tasks"`
}

// Task represents one executor invocation within a session
type Task struct {
	ID           string                 `json:"id"`
	SessionID    string                 `json:"session_id"`
	System       string                 `json:"system"`
	AnalysisType string                 `json:"analysis_type"`
	Status       TaskStatus             `json:"status"`
	Input        map[string]interface{} `json:"input,omitempty"`
	Output       map[string]interface{} `json:"output,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	DurationMs   int64                  `json:"duration_ms,omitempty"`
}

// Clone returns a copy safe to hand to callers while the original keeps mutating
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Context != nil {
		cp.Context = make(map[string]interface{}, len(s.Context))
		for k, v := range s.Context {
			cp.Context[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Tasks = make([]Task, len(s.Tasks))
	copy(cp.Tasks, s.Tasks)
	return &cp
}

// RecentTasks returns up to count tasks, most recent first
func (s *Session) RecentTasks(count int) []Task {
	n := len(s.Tasks)
	if count > n {
		count = n
	}
	out := make([]Task, 0, count)
	for i := n - 1; i >= n-count; i-- {
		out = append(out, s.Tasks[i])
	}
	return out
}

// InFlightTasks returns the number of tasks not yet in a terminal state
func (s *Session) InFlightTasks() int {
	n := 0
	for _, t := range s.Tasks {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// AppendTask adds a task to the collaboration log and bumps UpdatedAt
func (s *Session) AppendTask(t Task) {
	s.Tasks = append(s.Tasks, t)
	s.UpdatedAt = time.Now()
}

// SetTask replaces the log entry with the same task ID, if present
func (s *Session) SetTask(t Task) bool {
	for i := range s.Tasks {
		if s.Tasks[i].ID == t.ID {
			s.Tasks[i] = t
			s.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}
