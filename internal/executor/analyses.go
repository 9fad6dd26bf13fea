package executor

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Analysis type labels form the closed set the orchestration layer accepts
const (
	AnalysisBricksRoadmap         = "bricks_roadmap"
	AnalysisRevenueOpportunity    = "revenue_opportunity"
	AnalysisStrategicGapDetection = "strategic_gap_detection"
	AnalysisResourceOptimization  = "resource_optimization"
)

// Playbook carries per-analysis payload overrides loaded from YAML.
// Keys are analysis type labels; values are merged over the routine output,
// so deployments can tune example payloads without a rebuild.
type Playbook map[string]map[string]interface{}

// LoadPlaybook reads a playbook file. An empty path yields an empty playbook.
func LoadPlaybook(path string) (Playbook, error) {
	if path == "" {
		return Playbook{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	if pb == nil {
		pb = Playbook{}
	}
	return pb, nil
}

func (p Playbook) apply(analysisType string, result map[string]interface{}) map[string]interface{} {
	overrides, ok := p[analysisType]
	if !ok || result == nil {
		return result
	}
	for k, v := range overrides {
		result[k] = v
	}
	return result
}

func scopeFromContext(sessionContext map[string]interface{}) string {
	if sessionContext != nil {
		if v, ok := sessionContext["business_unit"].(string); ok && v != "" {
			return v
		}
	}
	return "organization"
}

func (a *Analyzer) bricksRoadmap(ctx context.Context, sessionContext, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"scope":          scopeFromContext(sessionContext),
		"horizon_months": 12,
		"phases": []map[string]interface{}{
			{"phase": 1, "name": "Foundation", "focus": "data consolidation", "duration_weeks": 6},
			{"phase": 2, "name": "Expansion", "focus": "capability buildout", "duration_weeks": 10},
			{"phase": 3, "name": "Optimization", "focus": "margin improvement", "duration_weeks": 8},
		},
		"confidence": 0.82,
	}, nil
}

func (a *Analyzer) revenueOpportunity(ctx context.Context, sessionContext, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"scope":    scopeFromContext(sessionContext),
		"currency": "USD",
		"opportunities": []map[string]interface{}{
			{"name": "upsell_existing_accounts", "estimated_value_usd": 240000.0, "effort": "low"},
			{"name": "adjacent_segment_entry", "estimated_value_usd": 610000.0, "effort": "high"},
		},
		"total_estimated_value_usd": 850000.0,
	}, nil
}

func (a *Analyzer) strategicGapDetection(ctx context.Context, sessionContext, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"scope": scopeFromContext(sessionContext),
		"gaps": []map[string]interface{}{
			{"area": "automation_coverage", "severity": "high", "detail": "manual handoffs dominate fulfilment"},
			{"area": "pricing_telemetry", "severity": "medium", "detail": "no per-segment elasticity signal"},
		},
		"severity_summary": map[string]interface{}{
			"high":   1,
			"medium": 1,
			"low":    0,
		},
	}, nil
}

func (a *Analyzer) resourceOptimization(ctx context.Context, sessionContext, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"scope": scopeFromContext(sessionContext),
		"recommendations": []map[string]interface{}{
			{"resource": "analyst_hours", "action": "rebalance", "target_utilization": 0.75},
			{"resource": "compute_spend", "action": "rightsize", "target_utilization": 0.6},
		},
		"projected_savings_pct": 14.5,
	}, nil
}
