package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/cmd/gateway/internal/middleware"
	"github.com/brickworks/orchestrator/internal/ubic"
)

// UBICHandler exposes the control-plane surface of each sub-service over HTTP
type UBICHandler struct {
	gateways     map[string]*ubic.Gateway
	drainTimeout time.Duration
	logger       *zap.Logger
}

// NewUBICHandler creates a handler over the given gateways, keyed by URL slug
func NewUBICHandler(gateways map[string]*ubic.Gateway, drainTimeout time.Duration, logger *zap.Logger) *UBICHandler {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	return &UBICHandler{
		gateways:     gateways,
		drainTimeout: drainTimeout,
		logger:       logger,
	}
}

func (h *UBICHandler) gateway(w http.ResponseWriter, r *http.Request) *ubic.Gateway {
	slug := r.PathValue("service")
	g, ok := h.gateways[slug]
	if !ok {
		h.sendError(w, "Unknown service", http.StatusNotFound)
		return nil
	}
	return g
}

// Health handles GET /api/v1/ubic/{service}/health
func (h *UBICHandler) Health(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}
	h.respond(w, http.StatusOK, g.Health(r.Context()))
}

// Capabilities handles GET /api/v1/ubic/{service}/capabilities
func (h *UBICHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}
	h.respond(w, http.StatusOK, g.Capabilities())
}

// State handles GET /api/v1/ubic/{service}/state
func (h *UBICHandler) State(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}
	h.respond(w, http.StatusOK, g.State())
}

// Dependencies handles GET /api/v1/ubic/{service}/dependencies
func (h *UBICHandler) Dependencies(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}
	h.respond(w, http.StatusOK, map[string]interface{}{
		"service":      g.Service(),
		"dependencies": g.Dependencies(r.Context()),
	})
}

// Receive handles POST /api/v1/ubic/{service}/message
func (h *UBICHandler) Receive(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}

	var msg ubic.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if msg.TraceID == "" {
		msg.TraceID = middleware.TraceIDFromContext(r.Context())
	}

	ack := g.Receive(r.Context(), msg)

	// The ack itself reports message-level failures; the transport stays 200
	// except for outright intake rejection.
	code := http.StatusOK
	if ack.Status == "rejected" {
		code = http.StatusServiceUnavailable
	}
	h.respond(w, code, ack)
}

// Send handles POST /api/v1/ubic/{service}/send
func (h *UBICHandler) Send(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}

	var msg ubic.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if msg.TraceID == "" {
		msg.TraceID = middleware.TraceIDFromContext(r.Context())
	}

	conf, err := g.Send(r.Context(), msg)
	if err != nil {
		h.respond(w, http.StatusServiceUnavailable, conf)
		return
	}
	h.respond(w, http.StatusAccepted, conf)
}

// ReloadConfig handles POST /api/v1/ubic/{service}/reload-config
func (h *UBICHandler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}

	if err := g.ReloadConfig(r.Context()); err != nil {
		h.logger.Error("Config reload failed",
			zap.String("service", g.Service()),
			zap.Error(err),
		)
		h.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.respond(w, http.StatusOK, map[string]string{
		"service": g.Service(),
		"status":  "reloaded",
	})
}

// Shutdown handles POST /api/v1/ubic/{service}/shutdown
func (h *UBICHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}
	h.respond(w, http.StatusOK, g.Shutdown(r.Context(), h.drainTimeout))
}

// EmergencyStop handles POST /api/v1/ubic/{service}/emergency-stop
func (h *UBICHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	g := h.gateway(w, r)
	if g == nil {
		return
	}
	h.respond(w, http.StatusOK, g.EmergencyStop())
}

func (h *UBICHandler) respond(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// sendError sends an error response
func (h *UBICHandler) sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
