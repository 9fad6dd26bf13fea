package health

import (
	"encoding/json"
	"net/http"
)

// HealthHandler serves detailed component health. Returns 503 when any
// critical component is failing so load balancers can act on it.
func (m *Manager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detailed := m.GetDetailedHealth(r.Context())

		code := http.StatusOK
		if detailed.Overall.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(detailed)
	}
}

// ReadinessHandler serves a readiness probe
func (m *Manager) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall := m.GetOverallHealth(r.Context())

		code := http.StatusOK
		if !overall.Ready {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(overall)
	}
}
