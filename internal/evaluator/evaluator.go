// Package evaluator contains the fraud risk evaluators and the
// orchestrator that aggregates their assessments. Evaluators are
// independent: each owns its private per-customer state and never calls
// another evaluator directly; all cross-evaluator communication goes
// through the orchestrator.
package evaluator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/banking/fraud-detection-service/internal/domain"
)

// Evaluator is the contract every fraud evaluator implements. Evaluate is
// pure with respect to its inputs except for the evaluator's own private
// history, which it may read and update as a side effect. Malformed
// optional fields must degrade to a neutral low-confidence result, never
// to an error; an error return is reserved for execution failures such as
// an unavailable history backend.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, tx *domain.Transaction, evalCtx *domain.EvaluationContext) (*domain.RiskAssessment, error)

	// CanHandle advertises suitability for a transaction type in [0,1].
	// Not used by the current aggregation; reserved for future routing.
	CanHandle(transactionType string, evalCtx *domain.EvaluationContext) float64
}

// MessageHandler is optionally implemented by evaluators that accept
// messages routed through the orchestrator
type MessageHandler interface {
	ReceiveMessage(msg domain.EvaluatorMessage) (*domain.EvaluatorMessage, error)
}

// Metrics tracks per-evaluator processing statistics
type Metrics struct {
	mu                  sync.RWMutex
	requestsProcessed   int64
	alertsGenerated     int64
	avgProcessingTimeMs float64
}

// MetricsSnapshot is a point-in-time copy of evaluator metrics
type MetricsSnapshot struct {
	RequestsProcessed   int64   `json:"requests_processed"`
	AlertsGenerated     int64   `json:"alerts_generated"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
}

// Record updates the metrics after an evaluate call
func (m *Metrics) Record(processingTimeMs float64, alerted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestsProcessed++
	if alerted {
		m.alertsGenerated++
	}
	// Incremental mean
	n := float64(m.requestsProcessed)
	m.avgProcessingTimeMs += (processingTimeMs - m.avgProcessingTimeMs) / n
}

// Snapshot returns a copy of the current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		RequestsProcessed:   m.requestsProcessed,
		AlertsGenerated:     m.alertsGenerated,
		AvgProcessingTimeMs: m.avgProcessingTimeMs,
	}
}

// dedupeFlags removes duplicate flag codes, keeping the first occurrence
func dedupeFlags(flags []domain.RiskFlag) []domain.RiskFlag {
	seen := make(map[string]bool, len(flags))
	out := flags[:0]
	for _, f := range flags {
		if seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		out = append(out, f)
	}
	return out
}

// summarizeFlags renders up to three flags for an explanation string
func summarizeFlags(flags []domain.RiskFlag, score float64) string {
	if len(flags) == 0 {
		return fmt.Sprintf("within normal patterns (score: %.1f)", score)
	}

	shown := flags
	if len(shown) > 3 {
		shown = shown[:3]
	}
	parts := make([]string, 0, len(shown))
	for _, f := range shown {
		if f.Detail != "" {
			parts = append(parts, f.Code+": "+f.Detail)
		} else {
			parts = append(parts, f.Code)
		}
	}
	return fmt.Sprintf("detected %d risk signals: %s (score: %.1f)", len(flags), strings.Join(parts, ", "), score)
}

// truncate shortens a string to at most n bytes
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
