package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers and reports aggregate health
type Manager struct {
	checkers      map[string]Checker
	lastResults   map[string]CheckResult
	checkInterval time.Duration
	started       bool
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers:      make(map[string]Checker),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker

	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
	)
	return nil
}

// GetDetailedHealth runs all checks and returns per-component results
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	for name, checker := range checkers {
		components[name] = m.runCheck(ctx, checker)
	}

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	return DetailedHealth{
		Overall:    m.overall(components),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// GetOverallHealth returns the aggregate status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	return m.GetDetailedHealth(ctx).Overall
}

// IsReady returns true if the service is ready to serve requests
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// GetLastResults returns the most recent results without running new checks
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		results[name] = result
	}
	return results
}

// Start begins background health checking
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	go m.backgroundChecker()
	m.logger.Info("Health manager started", zap.Duration("check_interval", m.checkInterval))
}

// Stop stops background health checking
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
}

func (m *Manager) backgroundChecker() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			m.GetDetailedHealth(ctx)
			cancel()
		}
	}
}

func (m *Manager) runCheck(ctx context.Context, checker Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	startTime := time.Now()
	result := checker.Check(checkCtx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(startTime)
	result.Timestamp = startTime
	return result
}

func (m *Manager) overall(components map[string]CheckResult) OverallHealth {
	if len(components) == 0 {
		return OverallHealth{
			Status:    StatusUnknown,
			Message:   "No health checks registered",
			Timestamp: time.Now(),
			Ready:     false,
			Live:      false,
		}
	}

	criticalFailures := 0
	degraded := 0
	for _, result := range components {
		switch result.Status {
		case StatusUnhealthy:
			if result.Critical {
				criticalFailures++
			} else {
				degraded++
			}
		case StatusDegraded:
			degraded++
		}
	}

	overall := OverallHealth{Timestamp: time.Now(), Live: true}
	switch {
	case criticalFailures > 0:
		overall.Status = StatusUnhealthy
		overall.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		overall.Ready = false
	case degraded > 0:
		overall.Status = StatusDegraded
		overall.Message = fmt.Sprintf("%d component(s) degraded", degraded)
		overall.Ready = true
	default:
		overall.Status = StatusHealthy
		overall.Message = fmt.Sprintf("All %d components healthy", len(components))
		overall.Ready = true
	}
	return overall
}
