package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/executor"
	"github.com/brickworks/orchestrator/internal/metrics"
	"github.com/brickworks/orchestrator/internal/session"
	"github.com/brickworks/orchestrator/internal/tracing"
)

// Store is the durable persistence contract for sessions and tasks.
// Implemented by db.SessionStore; tests inject an in-memory fake.
type Store interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	UpdateSession(ctx context.Context, sess *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
	SaveTask(ctx context.Context, task *session.Task) error
}

// Snapshot is the caller-facing view of a session
type Snapshot struct {
	SessionID   string         `json:"session_id"`
	Name        string         `json:"name"`
	Status      session.Status `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	TaskCount   int            `json:"task_count"`

	// Most recent first, capped at the history window
	Tasks []session.Task `json:"tasks"`
}

// Service coordinates the session lifecycle: it owns sessions, dispatches
// tasks to the executor, and keeps registry state behind store state.
type Service struct {
	store         Store
	registry      *session.Registry
	exec          executor.Executor
	historyWindow int
	logger        *zap.Logger
}

// NewService wires the orchestration service. All dependencies are injected;
// there is no package-level state.
func NewService(store Store, registry *session.Registry, exec executor.Executor, historyWindow int, logger *zap.Logger) *Service {
	if historyWindow <= 0 {
		historyWindow = 20
	}
	return &Service{
		store:         store,
		registry:      registry,
		exec:          exec,
		historyWindow: historyWindow,
		logger:        logger,
	}
}

// StartSession creates and registers a new active session
func (s *Service) StartSession(ctx context.Context, name string, sessionContext map[string]interface{}) (*session.Session, error) {
	if name == "" {
		return nil, &ValidationError{Field: "session_name", Reason: "must not be empty"}
	}
	if sessionContext == nil {
		sessionContext = make(map[string]interface{})
	}

	now := time.Now()
	sess := &session.Session{
		ID:        uuid.New().String(),
		Name:      name,
		Context:   sessionContext,
		Status:    session.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Tasks:     make([]session.Task, 0),
	}

	// Store first: a session must never be observable in the registry
	// without a durable record behind it.
	if err := s.store.CreateSession(ctx, sess); err != nil {
		metrics.RecordStorageError("create_session")
		return nil, &StorageError{Op: "create_session", Err: err}
	}
	s.registry.Put(ctx, sess)

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(s.registry.Len()))

	s.logger.Info("Started orchestration session",
		zap.String("session_id", sess.ID),
		zap.String("name", name),
	)
	return sess.Clone(), nil
}

// GetSessionStatus returns a snapshot, falling back to the durable store and
// repopulating the registry on a cache miss (read-through).
func (s *Service) GetSessionStatus(ctx context.Context, id string) (*Snapshot, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(sess), nil
}

// ExecuteTask runs one analysis against an active session. The outcome is
// always recorded against the task before any error is re-raised.
func (s *Service) ExecuteTask(ctx context.Context, id, analysisType string, params map[string]interface{}) (*session.Task, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	// State is checked before the analysis type so a closed session fails
	// the same way no matter what was requested.
	if sess.Status != session.StatusActive {
		return nil, &InvalidStateError{Reason: "session is not active"}
	}
	if !s.supports(analysisType) {
		return nil, fmt.Errorf("%w: %q", executor.ErrUnsupportedAnalysis, analysisType)
	}

	now := time.Now()
	task := session.Task{
		ID:           uuid.New().String(),
		SessionID:    sess.ID,
		System:       s.exec.Name(),
		AnalysisType: analysisType,
		Status:       session.TaskPending,
		Input:        params,
		CreatedAt:    now,
	}

	if err := s.store.SaveTask(ctx, &task); err != nil {
		metrics.RecordStorageError("save_task")
		return nil, &StorageError{Op: "save_task", Err: err}
	}

	// Append under the per-session lock; re-check liveness in case the
	// session was closed between lookup and append.
	appendTask := func(live *session.Session) error {
		if live.Status != session.StatusActive {
			return &InvalidStateError{Reason: "session is not active"}
		}
		live.AppendTask(task)
		return nil
	}
	if _, err := s.registry.Update(ctx, sess.ID, appendTask); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// Evicted (or closed and removed) between lookup and append.
			// Re-fetch from the store so a concurrent close is observed; a
			// stale active clone must never re-enter the registry here.
			fresh, ferr := s.refresh(ctx, sess.ID)
			switch {
			case ferr != nil:
				err = ferr
			case fresh.Status != session.StatusActive:
				err = &InvalidStateError{Reason: "session is not active"}
			default:
				s.registry.Put(ctx, fresh)
				_, err = s.registry.Update(ctx, sess.ID, appendTask)
			}
		}
		if err != nil {
			s.abandonTask(ctx, &task, err)
			return nil, err
		}
	}

	started := time.Now()
	task.Status = session.TaskRunning
	task.StartedAt = &started
	if err := s.store.SaveTask(ctx, &task); err != nil {
		metrics.RecordStorageError("save_task")
		// Fail the task rather than leaving it pending forever; a stuck
		// pending task would block every future close of this session.
		s.abandonTask(ctx, &task, err)
		return nil, &StorageError{Op: "save_task", Err: err}
	}
	s.updateTask(ctx, sess.ID, task)

	// The executor call happens outside every lock; a slow collaborator
	// must not block other operations on this session.
	execCtx, span := tracing.StartAnalysisSpan(ctx, sess.ID, analysisType)
	output, execErr := s.exec.Run(execCtx, sess.Context, analysisType, params)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
	}
	span.End()

	finished := time.Now()
	task.CompletedAt = &finished
	task.DurationMs = finished.Sub(started).Milliseconds()

	if execErr != nil {
		task.Status = session.TaskFailed
		task.ErrorMessage = execErr.Error()
		if errors.Is(execErr, executor.ErrExecutionTimeout) {
			metrics.TaskTimeouts.Inc()
		}
	} else {
		task.Status = session.TaskCompleted
		task.Output = output
	}

	// Record the outcome before surfacing anything to the caller
	if err := s.store.SaveTask(ctx, &task); err != nil {
		metrics.RecordStorageError("save_task")
		s.logger.Error("Failed to record task outcome",
			zap.String("task_id", task.ID),
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		if execErr == nil {
			return nil, &StorageError{Op: "save_task", Err: err}
		}
	}
	s.updateTask(ctx, sess.ID, task)

	metrics.RecordTaskMetrics(analysisType, string(task.Status), finished.Sub(started).Seconds())

	if execErr != nil {
		s.logger.Warn("Analysis task failed",
			zap.String("session_id", sess.ID),
			zap.String("task_id", task.ID),
			zap.String("analysis_type", analysisType),
			zap.Error(execErr),
		)
		return nil, &OrchestrationError{
			SessionID:    sess.ID,
			TaskID:       task.ID,
			AnalysisType: analysisType,
			Err:          execErr,
		}
	}
	return &task, nil
}

// CloseSession closes an active session. Closing an already-terminal session
// is an idempotent no-op; closing with tasks still in flight fails with a
// retryable state error. The durable record always persists.
func (s *Service) CloseSession(ctx context.Context, id string) (*Snapshot, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return s.snapshot(sess), nil
	}

	// The in-flight check and the terminal transition happen inside the
	// per-key critical section, so a concurrent task admission either lands
	// before the check or fails its own liveness re-check afterwards.
	now := time.Now()
	transition := func(live *session.Session) error {
		if live.Status.Terminal() {
			return nil
		}
		if live.InFlightTasks() > 0 {
			return &InvalidStateError{Reason: "tasks still in flight", Retryable: true}
		}
		live.Status = session.StatusCompleted
		live.CompletedAt = &now
		live.UpdatedAt = now
		return nil
	}

	closed, err := s.registry.Update(ctx, id, transition)
	if errors.Is(err, session.ErrSessionNotFound) {
		// Evicted between lookup and transition; restore from the store
		fresh, ferr := s.refresh(ctx, id)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.Status.Terminal() {
			return s.snapshot(fresh), nil
		}
		s.registry.Put(ctx, fresh)
		closed, err = s.registry.Update(ctx, id, transition)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateSession(ctx, closed); err != nil {
		metrics.RecordStorageError("update_session")
		// Revert so a retry can complete the close once storage recovers
		_, _ = s.registry.Update(ctx, id, func(live *session.Session) error {
			if live.Status == session.StatusCompleted {
				live.Status = session.StatusActive
				live.CompletedAt = nil
				live.UpdatedAt = time.Now()
			}
			return nil
		})
		return nil, &StorageError{Op: "update_session", Err: err}
	}
	s.registry.Remove(ctx, id)

	metrics.SessionsClosed.WithLabelValues(string(session.StatusCompleted)).Inc()
	metrics.SessionsActive.Set(float64(s.registry.Len()))

	s.logger.Info("Closed orchestration session", zap.String("session_id", id))
	return s.snapshot(closed), nil
}

// ListSessions enumerates the live registry; closed sessions are not included
func (s *Service) ListSessions(ctx context.Context) []*Snapshot {
	live := s.registry.List()
	out := make([]*Snapshot, 0, len(live))
	for _, sess := range live {
		out = append(out, s.snapshot(sess))
	}
	return out
}

// lookup resolves a session from registry, mirror, then store, repopulating
// the registry for live sessions.
func (s *Service) lookup(ctx context.Context, id string) (*session.Session, error) {
	if sess, ok := s.registry.Get(id); ok {
		return sess, nil
	}
	if sess, ok := s.registry.FromMirror(ctx, id); ok {
		if !sess.Status.Terminal() {
			s.registry.Put(ctx, sess)
		}
		return sess, nil
	}

	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		metrics.RecordStorageError("get_session")
		return nil, &StorageError{Op: "get_session", Err: err}
	}
	// Only live sessions re-enter the registry; terminal ones stay out of
	// the default listing.
	if !sess.Status.Terminal() {
		s.registry.Put(ctx, sess)
		metrics.SessionsActive.Set(float64(s.registry.Len()))
	}
	return sess, nil
}

// refresh reads a session straight from the durable store, bypassing the
// registry and mirror.
func (s *Service) refresh(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		metrics.RecordStorageError("get_session")
		return nil, &StorageError{Op: "get_session", Err: err}
	}
	return sess, nil
}

// abandonTask marks a task that never reached the executor as failed, in the
// registry and best-effort in the store, so it cannot pin its session open.
func (s *Service) abandonTask(ctx context.Context, task *session.Task, cause error) {
	now := time.Now()
	task.Status = session.TaskFailed
	task.ErrorMessage = cause.Error()
	task.CompletedAt = &now
	if err := s.store.SaveTask(ctx, task); err != nil {
		metrics.RecordStorageError("save_task")
		s.logger.Warn("Failed to record abandoned task",
			zap.String("task_id", task.ID),
			zap.String("session_id", task.SessionID),
			zap.Error(err),
		)
	}
	s.updateTask(ctx, task.SessionID, *task)
}

func (s *Service) updateTask(ctx context.Context, sessionID string, task session.Task) {
	if _, err := s.registry.Update(ctx, sessionID, func(live *session.Session) error {
		live.SetTask(task)
		return nil
	}); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		s.logger.Warn("Failed to update task in registry",
			zap.String("session_id", sessionID),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) supports(analysisType string) bool {
	for _, t := range s.exec.SupportedTypes() {
		if t == analysisType {
			return true
		}
	}
	return false
}

func (s *Service) snapshot(sess *session.Session) *Snapshot {
	return &Snapshot{
		SessionID:   sess.ID,
		Name:        sess.Name,
		Status:      sess.Status,
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
		CompletedAt: sess.CompletedAt,
		TaskCount:   len(sess.Tasks),
		Tasks:       sess.RecentTasks(s.historyWindow),
	}
}
