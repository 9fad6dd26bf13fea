package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/executor"
	"github.com/brickworks/orchestrator/internal/orchestration"
	"github.com/brickworks/orchestrator/internal/session"
	"github.com/brickworks/orchestrator/internal/ubic"
)

// memStore keeps sessions and tasks in memory for handler tests
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	tasks    map[string]*session.Task
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*session.Session),
		tasks:    make(map[string]*session.Task),
	}
}

func (m *memStore) CreateSession(ctx context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *memStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	out := sess.Clone()
	for _, task := range m.tasks {
		if task.SessionID == id {
			out.Tasks = append(out.Tasks, *task)
		}
	}
	return out, nil
}

func (m *memStore) SaveTask(ctx context.Context, task *session.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	registry := session.NewRegistry(100, nil, logger)
	analyzer := executor.NewAnalyzer(5*time.Second, executor.Playbook{}, logger)
	svc := orchestration.NewService(newMemStore(), registry, analyzer, 20, logger)

	orchHandler := NewOrchestrationHandler(svc, logger)

	bus := ubic.NewLocalBus(16, 100, 50, logger)
	t.Cleanup(func() { bus.Close() })
	gateway := ubic.NewGateway("I_CORE", "1.0.0", ubic.NewMemoryDeduper(time.Hour), bus, logger)
	gateway.RegisterHandler("analysis.execute", func(ctx context.Context, msg ubic.Message) error {
		sessionID, _ := msg.Payload["session_id"].(string)
		analysisType, _ := msg.Payload["analysis_type"].(string)
		_, err := svc.ExecuteTask(ctx, sessionID, analysisType, nil)
		return err
	})
	ubicHandler := NewUBICHandler(map[string]*ubic.Gateway{"i-core": gateway}, time.Second, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/orchestration/sessions", orchHandler.StartSession)
	mux.HandleFunc("GET /api/v1/orchestration/sessions", orchHandler.ListSessions)
	mux.HandleFunc("GET /api/v1/orchestration/sessions/{id}", orchHandler.GetSession)
	mux.HandleFunc("DELETE /api/v1/orchestration/sessions/{id}", orchHandler.CloseSession)
	mux.HandleFunc("POST /api/v1/orchestration/sessions/{id}/analyze", orchHandler.ExecuteTask)
	mux.HandleFunc("GET /api/v1/ubic/{service}/health", ubicHandler.Health)
	mux.HandleFunc("GET /api/v1/ubic/{service}/capabilities", ubicHandler.Capabilities)
	mux.HandleFunc("GET /api/v1/ubic/{service}/state", ubicHandler.State)
	mux.HandleFunc("POST /api/v1/ubic/{service}/message", ubicHandler.Receive)
	mux.HandleFunc("POST /api/v1/ubic/{service}/shutdown", ubicHandler.Shutdown)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	base := server.URL + "/api/v1/orchestration/sessions"

	// Create
	resp := postJSON(t, base, map[string]interface{}{
		"session_name": "q3-planning",
		"context":      map[string]interface{}{"business_unit": "emea"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode(t, resp)
	sessionID, _ := created["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "created", created["status"])

	// Analyze
	resp = postJSON(t, base+"/"+sessionID+"/analyze", map[string]interface{}{
		"analysis_type": "bricks_roadmap",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := decode(t, resp)
	assert.Equal(t, "completed", task["status"])
	assert.Equal(t, sessionID, task["session_id"])
	result, _ := task["result"].(map[string]interface{})
	assert.Equal(t, "emea", result["scope"])

	// Status shows the task
	resp, err := http.Get(base + "/" + sessionID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode(t, resp)
	assert.Equal(t, float64(1), snap["task_count"])

	// Close
	req, _ := http.NewRequest(http.MethodDelete, base+"/"+sessionID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decode(t, resp)
	assert.Equal(t, "completed", closed["status"])

	// GET after close still returns the terminal snapshot
	resp, err = http.Get(base + "/" + sessionID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	terminal := decode(t, resp)
	assert.Equal(t, "completed", terminal["status"])

	// Analyze on the closed session conflicts
	resp = postJSON(t, base+"/"+sessionID+"/analyze", map[string]interface{}{
		"analysis_type": "bricks_roadmap",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTPErrorMapping(t *testing.T) {
	server := newTestServer(t)
	base := server.URL + "/api/v1/orchestration/sessions"

	t.Run("empty session name", func(t *testing.T) {
		resp := postJSON(t, base, map[string]interface{}{"session_name": ""})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown session", func(t *testing.T) {
		resp, err := http.Get(base + "/never-created")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unsupported analysis type", func(t *testing.T) {
		created := decode(t, postJSON(t, base, map[string]interface{}{"session_name": "s"}))
		sessionID, _ := created["session_id"].(string)

		resp := postJSON(t, base+"/"+sessionID+"/analyze", map[string]interface{}{
			"analysis_type": "quantum_forecast",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("missing analysis type", func(t *testing.T) {
		created := decode(t, postJSON(t, base, map[string]interface{}{"session_name": "s"}))
		sessionID, _ := created["session_id"].(string)

		resp := postJSON(t, base+"/"+sessionID+"/analyze", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestUBICEndpoints(t *testing.T) {
	server := newTestServer(t)
	orchBase := server.URL + "/api/v1/orchestration/sessions"
	ubicBase := server.URL + "/api/v1/ubic/i-core"

	created := decode(t, postJSON(t, orchBase, map[string]interface{}{"session_name": "via-ubic"}))
	sessionID, _ := created["session_id"].(string)

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ubicBase + "/health")
		require.NoError(t, err)
		body := decode(t, resp)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "I_CORE", body["service"])
	})

	t.Run("capabilities", func(t *testing.T) {
		resp, err := http.Get(ubicBase + "/capabilities")
		require.NoError(t, err)
		body := decode(t, resp)
		msgs, _ := body["message_types"].([]interface{})
		assert.Contains(t, msgs, "analysis.execute")
	})

	t.Run("message dispatch and dedup", func(t *testing.T) {
		envelope := map[string]interface{}{
			"idempotency_key": "msg-1",
			"message_type":    "analysis.execute",
			"source":          "I_CHAT",
			"target":          "I_CORE",
			"payload": map[string]interface{}{
				"session_id":    sessionID,
				"analysis_type": "revenue_opportunity",
			},
		}

		first := decode(t, postJSON(t, ubicBase+"/message", envelope))
		assert.Equal(t, "ok", first["status"])

		second := decode(t, postJSON(t, ubicBase+"/message", envelope))
		assert.Equal(t, "ok", second["status"])
		assert.Equal(t, true, second["duplicate"])
		assert.Equal(t, "already processed", second["detail"])

		// Only one task landed despite two deliveries
		resp, err := http.Get(orchBase + "/" + sessionID)
		require.NoError(t, err)
		snap := decode(t, resp)
		assert.Equal(t, float64(1), snap["task_count"])
	})

	t.Run("invalid envelope", func(t *testing.T) {
		body := decode(t, postJSON(t, ubicBase+"/message", map[string]interface{}{
			"message_type": "analysis.execute",
		}))
		assert.Equal(t, "error", body["status"])
	})

	t.Run("unknown service slug", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/api/v1/ubic/i-nothing/health")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("shutdown then rejection", func(t *testing.T) {
		body := decode(t, postJSON(t, ubicBase+"/shutdown", map[string]interface{}{}))
		assert.Equal(t, true, body["clean"])

		resp := postJSON(t, ubicBase+"/message", map[string]interface{}{
			"idempotency_key": fmt.Sprintf("msg-%d", time.Now().UnixNano()),
			"message_type":    "analysis.execute",
		})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		resp.Body.Close()
	})
}
