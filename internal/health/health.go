package health

import (
	"context"
	"time"
)

// CheckStatus represents the result of a health check
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CheckResult contains the result of a health check
type CheckResult struct {
	Status    CheckStatus            `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  time.Duration          `json:"duration"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Critical  bool                   `json:"critical"`
}

// Checker defines the interface for health checks
type Checker interface {
	// Name returns the unique name of this health check
	Name() string

	// Check performs the health check and returns the result
	Check(ctx context.Context) CheckResult

	// IsCritical returns true if this check's failure should mark the service as unhealthy
	IsCritical() bool

	// Timeout returns the maximum duration this check should take
	Timeout() time.Duration
}

// OverallHealth represents the overall service health
type OverallHealth struct {
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Ready     bool        `json:"ready"`
	Live      bool        `json:"live"`
}

// DetailedHealth provides per-component health information
type DetailedHealth struct {
	Overall    OverallHealth          `json:"overall"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}
