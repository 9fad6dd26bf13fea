package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/executor"
	"github.com/brickworks/orchestrator/internal/orchestration"
	"github.com/brickworks/orchestrator/internal/session"
)

// OrchestrationHandler handles session lifecycle and analysis HTTP requests
type OrchestrationHandler struct {
	service *orchestration.Service
	logger  *zap.Logger
}

// NewOrchestrationHandler creates a new orchestration handler
func NewOrchestrationHandler(service *orchestration.Service, logger *zap.Logger) *OrchestrationHandler {
	return &OrchestrationHandler{service: service, logger: logger}
}

// StartSessionRequest is the body of POST /api/v1/orchestration/sessions
type StartSessionRequest struct {
	SessionName string                 `json:"session_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// ExecuteTaskRequest is the body of POST /api/v1/orchestration/sessions/{id}/analyze
type ExecuteTaskRequest struct {
	AnalysisType string                 `json:"analysis_type"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
}

// AnalysisResponse is the caller-facing result of one analysis run
type AnalysisResponse struct {
	SessionID    string                 `json:"session_id"`
	TaskID       string                 `json:"task_id"`
	AnalysisType string                 `json:"analysis_type"`
	Status       string                 `json:"status"`
	Result       map[string]interface{} `json:"result,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
}

// StartSession handles POST /api/v1/orchestration/sessions
func (h *OrchestrationHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.service.StartSession(r.Context(), req.SessionName, req.Context)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.respond(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"status":     "created",
		"message":    "session " + sess.Name + " started",
		"created_at": sess.CreatedAt,
	})
}

// GetSession handles GET /api/v1/orchestration/sessions/{id}
func (h *OrchestrationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.GetSessionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, snap)
}

// ListSessions handles GET /api/v1/orchestration/sessions
func (h *OrchestrationHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := h.service.ListSessions(r.Context())
	h.respond(w, http.StatusOK, map[string]interface{}{
		"sessions":    snaps,
		"total_count": len(snaps),
	})
}

// ExecuteTask handles POST /api/v1/orchestration/sessions/{id}/analyze
func (h *OrchestrationHandler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AnalysisType == "" {
		h.sendError(w, "analysis_type is required", http.StatusBadRequest)
		return
	}

	task, err := h.service.ExecuteTask(r.Context(), r.PathValue("id"), req.AnalysisType, req.Parameters)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.respond(w, http.StatusOK, analysisResponse(task))
}

// CloseSession handles DELETE /api/v1/orchestration/sessions/{id}
func (h *OrchestrationHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.CloseSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, snap)
}

// writeServiceError maps service errors onto HTTP statuses
func (h *OrchestrationHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *orchestration.ValidationError
		notFoundErr   *orchestration.NotFoundError
		stateErr      *orchestration.InvalidStateError
		storageErr    *orchestration.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		h.sendError(w, validationErr.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &notFoundErr):
		h.sendError(w, notFoundErr.Error(), http.StatusNotFound)
	case errors.As(err, &stateErr):
		if stateErr.Retryable {
			w.Header().Set("Retry-After", "1")
		}
		h.sendError(w, stateErr.Error(), http.StatusConflict)
	case errors.Is(err, executor.ErrUnsupportedAnalysis):
		h.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, executor.ErrExecutionTimeout):
		h.sendError(w, err.Error(), http.StatusGatewayTimeout)
	case errors.As(err, &storageErr):
		h.logger.Error("Storage failure", zap.Error(err), zap.String("path", r.URL.Path))
		h.sendError(w, "Storage backend unavailable", http.StatusInternalServerError)
	default:
		h.logger.Error("Request failed", zap.Error(err), zap.String("path", r.URL.Path))
		h.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

func analysisResponse(task *session.Task) AnalysisResponse {
	return AnalysisResponse{
		SessionID:    task.SessionID,
		TaskID:       task.ID,
		AnalysisType: task.AnalysisType,
		Status:       string(task.Status),
		Result:       task.Output,
		DurationMs:   task.DurationMs,
	}
}

func (h *OrchestrationHandler) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// sendError sends an error response
func (h *OrchestrationHandler) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
