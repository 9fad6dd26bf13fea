package memory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/db"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	rawDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })

	client := db.NewClientFromDB(sqlx.NewDb(rawDB, "sqlmock"), zap.NewNop())
	store := db.NewMemoryStore(client, zap.NewNop())

	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	return NewService(store, cache, zap.NewNop()), mock, mr
}

func TestPutStoresAndCaches(t *testing.T) {
	svc, mock, mr := newTestService(t)

	mock.ExpectExec("INSERT INTO memories").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Put(context.Background(), Item{
		Key:     "roadmap:q3",
		Content: "phase one focuses on data consolidation",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, mr.Exists("memory:roadmap:q3"))
}

func TestPutRejectsEmptyKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Put(context.Background(), Item{Content: "orphan"})
	require.Error(t, err)
}

func TestGetPrefersCache(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectExec("INSERT INTO memories").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.Put(context.Background(), Item{Key: "k1", Content: "cached"}))

	// No query expectation: a DB hit would fail ExpectationsWereMet
	item, err := svc.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "cached", item.Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFallsBackToStore(t *testing.T) {
	svc, mock, mr := newTestService(t)
	now := time.Now()

	mock.ExpectQuery("SELECT key, content, metadata").
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{
			"key", "content", "metadata", "created_at", "updated_at",
		}).AddRow("k1", "durable", []byte(`{"kind":"analysis"}`), now, now))

	item, err := svc.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "durable", item.Content)
	assert.Equal(t, "analysis", item.Metadata["kind"])
	assert.NoError(t, mock.ExpectationsWereMet())

	// The read-through populated the cache
	assert.True(t, mr.Exists("memory:k1"))
}

func TestGetNotFound(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery("SELECT key, content, metadata").
		WithArgs("absent").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, db.ErrMemoryNotFound)
}

func TestListMostRecentFirst(t *testing.T) {
	svc, mock, _ := newTestService(t)
	now := time.Now()

	mock.ExpectQuery("SELECT key, content, metadata").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{
			"key", "content", "metadata", "created_at", "updated_at",
		}).
			AddRow("newer", "b", nil, now, now).
			AddRow("older", "a", nil, now.Add(-time.Hour), now.Add(-time.Hour)))

	items, err := svc.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].Key)
}
