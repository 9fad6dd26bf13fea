package ubic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brickworks/orchestrator/internal/metrics"
)

// Handler processes one control message type
type Handler func(ctx context.Context, msg Message) error

// Dependency is one checked external collaborator of a sub-service
type Dependency struct {
	Name  string
	Type  string
	Check func(ctx context.Context) error
}

// DependencyStatus is the reported state of one dependency
type DependencyStatus struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"` // healthy, unhealthy
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the never-failing health snapshot of a sub-service
type HealthReport struct {
	Service      string             `json:"service"`
	Status       string             `json:"status"` // healthy, degraded, stopped
	Dependencies []DependencyStatus `json:"dependencies"`
	Timestamp    time.Time          `json:"timestamp"`
}

// CapabilitiesReport lists what a sub-service supports
type CapabilitiesReport struct {
	Service    string   `json:"service"`
	Version    string   `json:"version"`
	Operations []string `json:"operations"`
	Messages   []string `json:"message_types"`
}

// StateReport is a point-in-time operational counter snapshot
type StateReport struct {
	Service       string        `json:"service"`
	Accepting     bool          `json:"accepting"`
	Uptime        time.Duration `json:"uptime_ns"`
	Received      int64         `json:"messages_received"`
	Succeeded     int64         `json:"messages_succeeded"`
	Failed        int64         `json:"messages_failed"`
	Duplicates    int64         `json:"messages_duplicate"`
	Sent          int64         `json:"messages_sent"`
	InFlight      int64         `json:"in_flight"`
	ConfigReloads int64         `json:"config_reloads"`
}

// ShutdownReport summarizes a graceful drain
type ShutdownReport struct {
	Service string `json:"service"`
	Drained int64  `json:"drained"`
	Pending int64  `json:"pending"`
	Clean   bool   `json:"clean"`
}

// StopReport summarizes an emergency stop. Unlike graceful shutdown there is
// no completion guarantee; Abandoned counts work cut off mid-flight.
type StopReport struct {
	Service   string `json:"service"`
	Abandoned int64  `json:"abandoned"`
}

// Gateway is the uniform control-plane surface of one logical sub-service.
// All operations are independent; receive honors idempotency and every
// internal failure is converted into an error acknowledgement so the control
// plane stays reachable when a dependency is not.
type Gateway struct {
	service string
	version string
	dedup   Deduper
	bus     Bus
	logger  *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	deps     []Dependency
	reloadFn func() error

	// drainMu orders in-flight registration against the accepting flip so
	// no work can register after a drain has begun counting.
	drainMu   sync.Mutex
	accepting atomic.Bool
	inflight  atomic.Int64
	wg        sync.WaitGroup
	started   time.Time

	received   atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	duplicates atomic.Int64
	sent       atomic.Int64
	reloads    atomic.Int64
}

var gatewayOperations = []string{
	"health", "capabilities", "state", "dependencies",
	"receive_message", "send_message", "reload_config",
	"graceful_shutdown", "emergency_stop",
}

// NewGateway creates a gateway for one sub-service
func NewGateway(service, version string, dedup Deduper, bus Bus, logger *zap.Logger) *Gateway {
	g := &Gateway{
		service:  service,
		version:  version,
		dedup:    dedup,
		bus:      bus,
		logger:   logger.With(zap.String("ubic_service", service)),
		handlers: make(map[string]Handler),
		started:  time.Now(),
	}
	g.accepting.Store(true)
	return g
}

// Service returns the sub-service name
func (g *Gateway) Service() string { return g.service }

// RegisterHandler installs the handler for a message type
func (g *Gateway) RegisterHandler(msgType string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[msgType] = h
}

// SetDependencies declares the checked dependencies of this sub-service
func (g *Gateway) SetDependencies(deps []Dependency) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deps = deps
}

// SetReloadFunc wires the configuration reload hook
func (g *Gateway) SetReloadFunc(fn func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reloadFn = fn
}

// Health reports the sub-service and dependency status. It never fails:
// unhealthy dependencies degrade the report instead of raising.
func (g *Gateway) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Service:      g.service,
		Status:       "healthy",
		Dependencies: g.Dependencies(ctx),
		Timestamp:    time.Now(),
	}
	if !g.accepting.Load() {
		report.Status = "stopped"
		return report
	}
	for _, d := range report.Dependencies {
		if d.Status != "healthy" {
			report.Status = "degraded"
			break
		}
	}
	return report
}

// Capabilities lists supported operations and registered message types
func (g *Gateway) Capabilities() CapabilitiesReport {
	g.mu.RLock()
	msgs := make([]string, 0, len(g.handlers))
	for t := range g.handlers {
		msgs = append(msgs, t)
	}
	g.mu.RUnlock()
	sort.Strings(msgs)

	return CapabilitiesReport{
		Service:    g.service,
		Version:    g.version,
		Operations: gatewayOperations,
		Messages:   msgs,
	}
}

// State returns counters without touching any dependency
func (g *Gateway) State() StateReport {
	return StateReport{
		Service:       g.service,
		Accepting:     g.accepting.Load(),
		Uptime:        time.Since(g.started),
		Received:      g.received.Load(),
		Succeeded:     g.succeeded.Load(),
		Failed:        g.failed.Load(),
		Duplicates:    g.duplicates.Load(),
		Sent:          g.sent.Load(),
		InFlight:      g.inflight.Load(),
		ConfigReloads: g.reloads.Load(),
	}
}

// Dependencies checks each declared dependency with a short bound
func (g *Gateway) Dependencies(ctx context.Context) []DependencyStatus {
	g.mu.RLock()
	deps := make([]Dependency, len(g.deps))
	copy(deps, g.deps)
	g.mu.RUnlock()

	out := make([]DependencyStatus, 0, len(deps))
	for _, dep := range deps {
		status := DependencyStatus{Name: dep.Name, Type: dep.Type, Status: "healthy"}
		if dep.Check != nil {
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := dep.Check(checkCtx); err != nil {
				status.Status = "unhealthy"
				status.Detail = err.Error()
			}
			cancel()
		}
		out = append(out, status)
	}
	return out
}

// Receive dispatches a control message by type. Redelivery of a processed
// idempotency key is acknowledged without re-running the handler; unknown
// message types are acknowledged generically rather than rejected.
func (g *Gateway) Receive(ctx context.Context, msg Message) Ack {
	ack := Ack{Service: g.service, Type: msg.Type, TraceID: msg.TraceID}

	if !g.accepting.Load() {
		ack.Status = "rejected"
		ack.Detail = "service is not accepting work"
		metrics.RecordUBICReceive(g.service, msg.Type, "rejected")
		return ack
	}

	if err := msg.Validate(); err != nil {
		ack.Status = "error"
		ack.Detail = err.Error()
		metrics.RecordUBICReceive(g.service, msg.Type, "invalid")
		return ack
	}

	g.received.Add(1)

	first, err := g.dedup.FirstDelivery(ctx, g.service, msg.IdempotencyKey)
	if err != nil {
		// Dedup store unreachable: fail open so the control plane stays
		// available; at-most-once degrades to at-least-once.
		g.logger.Warn("Dedup check failed, processing anyway",
			zap.String("idempotency_key", msg.IdempotencyKey),
			zap.Error(err),
		)
		first = true
	}
	if !first {
		g.duplicates.Add(1)
		metrics.UBICDuplicates.WithLabelValues(g.service).Inc()
		ack.Status = "ok"
		ack.Duplicate = true
		ack.Detail = "already processed"
		return ack
	}

	g.mu.RLock()
	handler, ok := g.handlers[msg.Type]
	g.mu.RUnlock()
	if !ok {
		g.succeeded.Add(1)
		metrics.RecordUBICReceive(g.service, msg.Type, "unhandled")
		ack.Status = "ok"
		ack.Detail = "no handler registered; message acknowledged"
		return ack
	}

	// Re-check intake under the drain lock: a shutdown that raced past the
	// early check must not see new work registered after its drain started.
	g.drainMu.Lock()
	if !g.accepting.Load() {
		g.drainMu.Unlock()
		if ferr := g.dedup.Forget(ctx, g.service, msg.IdempotencyKey); ferr != nil {
			g.logger.Warn("Failed to release dedup record",
				zap.String("idempotency_key", msg.IdempotencyKey),
				zap.Error(ferr),
			)
		}
		ack.Status = "rejected"
		ack.Detail = "service is not accepting work"
		metrics.RecordUBICReceive(g.service, msg.Type, "rejected")
		return ack
	}
	g.inflight.Add(1)
	g.wg.Add(1)
	g.drainMu.Unlock()

	err = g.runHandler(ctx, handler, msg)
	g.wg.Done()
	g.inflight.Add(-1)

	if err != nil {
		g.failed.Add(1)
		metrics.RecordUBICReceive(g.service, msg.Type, "error")
		// Release the dedup record so a redelivery can retry
		if ferr := g.dedup.Forget(ctx, g.service, msg.IdempotencyKey); ferr != nil {
			g.logger.Warn("Failed to release dedup record",
				zap.String("idempotency_key", msg.IdempotencyKey),
				zap.Error(ferr),
			)
		}
		ack.Status = "error"
		ack.Detail = err.Error()
		return ack
	}

	g.succeeded.Add(1)
	metrics.RecordUBICReceive(g.service, msg.Type, "ok")
	ack.Status = "ok"
	return ack
}

// runHandler shields the gateway from handler panics
func (g *Gateway) runHandler(ctx context.Context, handler Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Send hands a message to the local bus. A confirmation means the bus
// accepted it, not that the target processed it.
func (g *Gateway) Send(ctx context.Context, msg Message) (DispatchConfirmation, error) {
	conf := DispatchConfirmation{Service: g.service, Target: msg.Target}

	if msg.Source == "" {
		msg.Source = g.service
	}
	if err := msg.Validate(); err != nil {
		conf.Detail = err.Error()
		return conf, err
	}
	if err := g.bus.Publish(ctx, msg); err != nil {
		conf.Detail = err.Error()
		metrics.UBICMessagesSent.WithLabelValues(g.service, "rejected").Inc()
		return conf, err
	}

	g.sent.Add(1)
	metrics.UBICMessagesSent.WithLabelValues(g.service, "accepted").Inc()
	conf.Accepted = true
	return conf, nil
}

// ReloadConfig applies configuration changes without a restart. In-flight
// work keeps its snapshot; changes apply to subsequently accepted work.
func (g *Gateway) ReloadConfig(ctx context.Context) error {
	g.mu.RLock()
	fn := g.reloadFn
	g.mu.RUnlock()

	if fn == nil {
		return nil
	}
	if err := fn(); err != nil {
		return fmt.Errorf("config reload: %w", err)
	}
	g.reloads.Add(1)
	g.logger.Info("Configuration reloaded")
	return nil
}

// Shutdown stops intake and drains in-flight work up to the bound.
// It never forcibly kills work; whatever misses the bound is reported pending.
func (g *Gateway) Shutdown(ctx context.Context, drainTimeout time.Duration) ShutdownReport {
	g.drainMu.Lock()
	g.accepting.Store(false)
	atStart := g.inflight.Load()
	g.drainMu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	pending := g.inflight.Load()
	report := ShutdownReport{
		Service: g.service,
		Drained: atStart - pending,
		Pending: pending,
		Clean:   pending == 0,
	}
	g.logger.Info("Graceful shutdown complete",
		zap.Int64("drained", report.Drained),
		zap.Int64("pending", report.Pending),
	)
	return report
}

// EmergencyStop halts immediately without draining. In-flight work may be
// abandoned; callers get no completion guarantee.
func (g *Gateway) EmergencyStop() StopReport {
	g.drainMu.Lock()
	g.accepting.Store(false)
	abandoned := g.inflight.Load()
	g.drainMu.Unlock()
	g.logger.Warn("Emergency stop", zap.Int64("abandoned", abandoned))
	return StopReport{Service: g.service, Abandoned: abandoned}
}
