package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/session"
)

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })

	client := NewClientFromDB(sqlx.NewDb(rawDB, "sqlmock"), zap.NewNop())
	return NewSessionStore(client, zap.NewNop()), mock
}

func testSession() *session.Session {
	now := time.Now()
	return &session.Session{
		ID:        "s1",
		Name:      "planning",
		Context:   map[string]interface{}{"business_unit": "emea"},
		Status:    session.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateSession(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("s1", "planning", sqlmock.AnyArg(), "active", sqlmock.AnyArg(), sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateSession(context.Background(), testSession()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSession(context.Background(), testSession())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, context, status").
		WithArgs("absent").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetSession(context.Background(), "absent")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionWithTasks(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT id, name, context, status").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "context", "status", "created_at", "updated_at", "completed_at",
		}).AddRow("s1", "planning", []byte(`{"business_unit":"emea"}`), "active", now, now, nil))

	mock.ExpectQuery("SELECT id, session_id, system, analysis_type").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "system", "analysis_type", "status", "input", "output",
			"error_message", "created_at", "started_at", "completed_at", "duration_ms",
		}).
			AddRow("t1", "s1", "brick_analyzer", "bricks_roadmap", "completed",
				[]byte(`{}`), []byte(`{"confidence":0.82}`), nil, now, now, now, int64(120)).
			AddRow("t2", "s1", "brick_analyzer", "revenue_opportunity", "failed",
				[]byte(`{}`), nil, "collaborator unreachable", now, now, now, int64(45)))

	sess, err := store.GetSession(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "planning", sess.Name)
	assert.Equal(t, "emea", sess.Context["business_unit"])
	require.Len(t, sess.Tasks, 2)
	assert.Equal(t, session.TaskCompleted, sess.Tasks[0].Status)
	assert.Equal(t, 0.82, sess.Tasks[0].Output["confidence"])
	assert.Equal(t, "collaborator unreachable", sess.Tasks[1].ErrorMessage)
	assert.Equal(t, int64(45), sess.Tasks[1].DurationMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTaskUpsert(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	task := &session.Task{
		ID:           "t1",
		SessionID:    "s1",
		System:       "brick_analyzer",
		AnalysisType: "bricks_roadmap",
		Status:       session.TaskCompleted,
		Output:       map[string]interface{}{"confidence": 0.82},
		CreatedAt:    now,
		DurationMs:   120,
	}

	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SaveTask(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONBRoundTrip(t *testing.T) {
	original := JSONB{"phase": float64(1), "name": "Foundation"}

	value, err := original.Value()
	require.NoError(t, err)

	var scanned JSONB
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)

	var fromNil JSONB
	require.NoError(t, fromNil.Scan(nil))
	assert.Nil(t, fromNil)
}
