package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestCloneIsolation(t *testing.T) {
	sess := &Session{
		ID:      "s1",
		Context: map[string]interface{}{"business_unit": "emea"},
		Status:  StatusActive,
		Tasks:   []Task{{ID: "t1", Status: TaskCompleted}},
	}

	cp := sess.Clone()
	cp.Context["business_unit"] = "apac"
	cp.Tasks[0].Status = TaskFailed
	cp.Tasks = append(cp.Tasks, Task{ID: "t2"})

	assert.Equal(t, "emea", sess.Context["business_unit"])
	assert.Equal(t, TaskCompleted, sess.Tasks[0].Status)
	assert.Len(t, sess.Tasks, 1)
}

func TestRecentTasksOrdering(t *testing.T) {
	sess := &Session{}
	for _, id := range []string{"a", "b", "c", "d"} {
		sess.AppendTask(Task{ID: id})
	}

	recent := sess.RecentTasks(3)
	assert.Equal(t, []string{"d", "c", "b"}, []string{recent[0].ID, recent[1].ID, recent[2].ID})

	// Asking for more than exists returns everything
	all := sess.RecentTasks(100)
	assert.Len(t, all, 4)
	assert.Equal(t, "d", all[0].ID)
}

func TestInFlightTasks(t *testing.T) {
	sess := &Session{Tasks: []Task{
		{ID: "t1", Status: TaskCompleted},
		{ID: "t2", Status: TaskRunning},
		{ID: "t3", Status: TaskPending},
		{ID: "t4", Status: TaskFailed},
	}}
	assert.Equal(t, 2, sess.InFlightTasks())
}

func TestSetTaskReplacesByID(t *testing.T) {
	sess := &Session{Tasks: []Task{{ID: "t1", Status: TaskRunning}}}
	before := sess.UpdatedAt

	ok := sess.SetTask(Task{ID: "t1", Status: TaskCompleted, DurationMs: 42})
	assert.True(t, ok)
	assert.Equal(t, TaskCompleted, sess.Tasks[0].Status)
	assert.True(t, sess.UpdatedAt.After(before) || sess.UpdatedAt.Equal(before))

	assert.False(t, sess.SetTask(Task{ID: "missing"}))
}

func TestAppendTaskBumpsUpdatedAt(t *testing.T) {
	sess := &Session{UpdatedAt: time.Now().Add(-time.Hour)}
	sess.AppendTask(Task{ID: "t1"})
	assert.WithinDuration(t, time.Now(), sess.UpdatedAt, time.Second)
}
