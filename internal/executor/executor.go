package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnsupportedAnalysis is returned for analysis types outside the closed set
	ErrUnsupportedAnalysis = errors.New("unsupported analysis type")

	// ErrExecutionTimeout is returned when a routine exceeds the execution bound
	ErrExecutionTimeout = errors.New("analysis execution timed out")
)

// Executor runs one named analysis against a session's context.
// Implementations must return stable output shapes per analysis type: field
// names and types do not change between runs even when values are examples.
type Executor interface {
	// Name identifies the executing system, recorded on every task
	Name() string

	// SupportedTypes returns the closed set of analysis type labels
	SupportedTypes() []string

	// Run executes one analysis. Unknown types fail with
	// ErrUnsupportedAnalysis; exceeding the bound fails with ErrExecutionTimeout.
	Run(ctx context.Context, sessionContext map[string]interface{}, analysisType string, params map[string]interface{}) (map[string]interface{}, error)
}

// routine is one registered analysis implementation
type routine func(ctx context.Context, sessionContext, params map[string]interface{}) (map[string]interface{}, error)

// Analyzer is the in-process Executor. The current routines produce example
// payloads; production deployments swap in collaborator-backed routines
// behind the same interface.
type Analyzer struct {
	name     string
	timeout  time.Duration
	routines map[string]routine
	playbook Playbook
	logger   *zap.Logger
}

// NewAnalyzer creates an Analyzer with the built-in routine set
func NewAnalyzer(timeout time.Duration, playbook Playbook, logger *zap.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &Analyzer{
		name:     "brick_analyzer",
		timeout:  timeout,
		routines: make(map[string]routine),
		playbook: playbook,
		logger:   logger,
	}
	a.routines[AnalysisBricksRoadmap] = a.bricksRoadmap
	a.routines[AnalysisRevenueOpportunity] = a.revenueOpportunity
	a.routines[AnalysisStrategicGapDetection] = a.strategicGapDetection
	a.routines[AnalysisResourceOptimization] = a.resourceOptimization
	return a
}

// Name implements Executor
func (a *Analyzer) Name() string { return a.name }

// SupportedTypes implements Executor
func (a *Analyzer) SupportedTypes() []string {
	types := make([]string, 0, len(a.routines))
	for t := range a.routines {
		types = append(types, t)
	}
	return types
}

// SetTimeout replaces the execution bound for subsequently started runs
func (a *Analyzer) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		a.timeout = timeout
	}
}

// Run implements Executor
func (a *Analyzer) Run(ctx context.Context, sessionContext map[string]interface{}, analysisType string, params map[string]interface{}) (map[string]interface{}, error) {
	fn, ok := a.routines[analysisType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAnalysis, analysisType)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		result map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)

	start := time.Now()
	go func() {
		result, err := fn(runCtx, sessionContext, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		a.logger.Debug("Analysis completed",
			zap.String("analysis_type", analysisType),
			zap.Duration("duration", time.Since(start)),
		)
		return a.playbook.apply(analysisType, out.result), nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrExecutionTimeout, a.timeout)
		}
		return nil, runCtx.Err()
	}
}
