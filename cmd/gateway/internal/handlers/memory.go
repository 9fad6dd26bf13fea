package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/db"
	"github.com/brickworks/orchestrator/internal/memory"
)

// MemoryHandler handles memory item HTTP requests
type MemoryHandler struct {
	service *memory.Service
	logger  *zap.Logger
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(service *memory.Service, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{service: service, logger: logger}
}

// PutMemoryRequest is the body of PUT /api/v1/memory/{key}
type PutMemoryRequest struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Put handles PUT /api/v1/memory/{key}
func (h *MemoryHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req PutMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item := memory.Item{
		Key:      key,
		Content:  req.Content,
		Metadata: req.Metadata,
	}
	if err := h.service.Put(r.Context(), item); err != nil {
		h.logger.Error("Memory put failed", zap.String("key", key), zap.Error(err))
		h.sendError(w, "Failed to store memory item", http.StatusInternalServerError)
		return
	}

	h.respond(w, http.StatusOK, map[string]string{"key": key, "status": "stored"})
}

// Get handles GET /api/v1/memory/{key}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	item, err := h.service.Get(r.Context(), key)
	if errors.Is(err, db.ErrMemoryNotFound) {
		h.sendError(w, "Memory item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("Memory get failed", zap.String("key", key), zap.Error(err))
		h.sendError(w, "Failed to load memory item", http.StatusInternalServerError)
		return
	}

	h.respond(w, http.StatusOK, item)
}

// List handles GET /api/v1/memory
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}

	items, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Memory list failed", zap.Error(err))
		h.sendError(w, "Failed to list memory items", http.StatusInternalServerError)
		return
	}

	h.respond(w, http.StatusOK, map[string]interface{}{
		"items":       items,
		"total_count": len(items),
	})
}

func (h *MemoryHandler) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// sendError sends an error response
func (h *MemoryHandler) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
