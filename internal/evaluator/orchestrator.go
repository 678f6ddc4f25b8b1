package evaluator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// OrchestratorName is the producer name on final assessments
const OrchestratorName = "risk_orchestrator"

// shortCircuitAssessmentScore is the fixed score of a critical assessment
const shortCircuitAssessmentScore = 95.0

// DefaultWeights is the weight table applied when none is configured
var DefaultWeights = map[string]float64{
	TransactionMonitorName: 0.30,
	BehavioralProfilerName: 0.25,
	IdentityVerifierName:   0.20,
	AnomalyDetectorName:    0.15,
}

// OrchestratorConfig tunes aggregation behavior
type OrchestratorConfig struct {
	Weights           map[string]float64
	DefaultWeight     float64
	ShortCircuitScore float64
	BlockThreshold    float64
	ReviewThreshold   float64
	MaxLatency        time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.Weights == nil {
		c.Weights = DefaultWeights
	}
	if c.DefaultWeight == 0 {
		c.DefaultWeight = 0.10
	}
	if c.ShortCircuitScore == 0 {
		c.ShortCircuitScore = 90
	}
	if c.BlockThreshold == 0 {
		c.BlockThreshold = 75
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = 45
	}
	if c.MaxLatency == 0 {
		c.MaxLatency = 200 * time.Millisecond
	}
}

type registeredEvaluator struct {
	evaluator Evaluator
	metrics   *Metrics
}

// Orchestrator dispatches every registered evaluator against a
// transaction, merges their assessments into one decision, and routes
// messages between evaluators by name. Evaluators run concurrently within
// a call; none reads another's output.
type Orchestrator struct {
	cfg OrchestratorConfig
	log *logger.Logger

	mu         sync.RWMutex
	order      []string
	evaluators map[string]*registeredEvaluator

	metrics *Metrics
}

// NewOrchestrator creates an orchestrator with the given configuration
func NewOrchestrator(cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:        cfg,
		log:        log.Named(OrchestratorName),
		evaluators: make(map[string]*registeredEvaluator),
		metrics:    &Metrics{},
	}
}

// Register adds an evaluator to the registry. Registration order defines
// the deterministic order in which results are inspected.
func (o *Orchestrator) Register(ev Evaluator) {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := ev.Name()
	if _, exists := o.evaluators[name]; !exists {
		o.order = append(o.order, name)
	}
	o.evaluators[name] = &registeredEvaluator{evaluator: ev, metrics: &Metrics{}}
	o.log.Info("evaluator registered", logger.StringField("evaluator", name))
}

// evaluationState collects per-evaluator outcomes during a fan-out
type evaluationState struct {
	mu       sync.Mutex
	results  map[string]*domain.RiskAssessment
	failures map[string]error
}

// Evaluate fans the transaction out to every registered evaluator and
// merges the results into a final assessment. A failing evaluator is
// excluded from both the weighted-score and confidence denominators; the
// final assessment is always produced from whatever results remain.
func (o *Orchestrator) Evaluate(ctx context.Context, tx *domain.Transaction, evalCtx *domain.EvaluationContext) *domain.RiskAssessment {
	start := time.Now()
	o.log.EvaluationStarted(tx.ID, tx.CustomerID)

	o.mu.RLock()
	order := make([]string, len(o.order))
	copy(order, o.order)
	registry := make(map[string]*registeredEvaluator, len(o.evaluators))
	for name, reg := range o.evaluators {
		registry[name] = reg
	}
	o.mu.RUnlock()

	state := &evaluationState{
		results:  make(map[string]*domain.RiskAssessment, len(order)),
		failures: make(map[string]error),
	}

	// The latency budget travels through the context. Evaluators blocked
	// on I/O return early when it expires and count as failures, with the
	// decision made from the remaining results; CPU-bound evaluators run
	// to completion, so the budget bounds backend waits, not the fan-out.
	evalCtx2, cancel := context.WithTimeout(ctx, o.cfg.MaxLatency)
	defer cancel()

	g, gctx := errgroup.WithContext(evalCtx2)
	for _, name := range order {
		reg := registry[name]
		g.Go(func() error {
			o.runEvaluator(gctx, reg, tx, evalCtx, state)
			return nil
		})
	}
	_ = g.Wait()

	for name, err := range state.failures {
		o.log.EvaluatorFailed(name, tx.ID, err)
	}

	final := o.merge(order, state, tx)

	durationMs := time.Since(start).Milliseconds()
	o.metrics.Record(float64(durationMs), final.RecommendedAction != domain.ActionApprove)
	if durationMs > o.cfg.MaxLatency.Milliseconds() {
		o.log.LatencyWarning("evaluator_fan_out", durationMs, o.cfg.MaxLatency.Milliseconds())
	}
	o.log.EvaluationCompleted(tx.ID, string(final.RecommendedAction), final.Score, durationMs)

	return final
}

// runEvaluator invokes one evaluator with panic recovery, recording its
// result or failure and its processing metrics
func (o *Orchestrator) runEvaluator(ctx context.Context, reg *registeredEvaluator, tx *domain.Transaction, evalCtx *domain.EvaluationContext, state *evaluationState) {
	name := reg.evaluator.Name()
	start := time.Now()

	var assessment *domain.RiskAssessment
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("evaluator panic: %v", r)
			}
		}()
		assessment, err = reg.evaluator.Evaluate(ctx, tx, evalCtx)
	}()

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

	state.mu.Lock()
	defer state.mu.Unlock()

	if err != nil || assessment == nil {
		if err == nil {
			err = fmt.Errorf("evaluator returned no assessment")
		}
		state.failures[name] = err
		reg.metrics.Record(elapsedMs, false)
		return
	}

	state.results[name] = assessment
	reg.metrics.Record(elapsedMs, len(assessment.Flags) > 0)
}

// merge combines the collected assessments into the final decision
func (o *Orchestrator) merge(order []string, state *evaluationState, tx *domain.Transaction) *domain.RiskAssessment {
	state.mu.Lock()
	defer state.mu.Unlock()

	// Short-circuit: the first evaluator at or above the critical score
	// decides on its own. Inspection follows registration order so the
	// outcome is deterministic regardless of completion order.
	for _, name := range order {
		assessment, ok := state.results[name]
		if !ok {
			continue
		}
		if assessment.Score >= o.cfg.ShortCircuitScore {
			o.log.CriticalRiskDetected(name, tx.ID, assessment.Score)
			return o.criticalAssessment(name, assessment.Score)
		}
	}

	totalScore := 0.0
	totalWeight := 0.0
	for name, assessment := range state.results {
		weight, ok := o.cfg.Weights[name]
		if !ok {
			weight = o.cfg.DefaultWeight
		}
		totalScore += assessment.Score * weight
		totalWeight += weight
	}

	// No evaluators available or all failed: approving with no signal is
	// the documented conservative default, flagged for telemetry.
	if totalWeight == 0 {
		o.log.Warn("no evaluator results available", logger.StringField("transaction_id", tx.ID))
		return &domain.RiskAssessment{
			Score:      0,
			Confidence: 0.5,
			Flags: []domain.RiskFlag{{
				Code:   "NO_EVALUATORS",
				Detail: "no evaluator produced a result",
			}},
			Explanation:       "approved by default: no evaluator results available",
			RecommendedAction: domain.ActionApprove,
			Timestamp:         time.Now(),
			ProducerName:      OrchestratorName,
		}
	}

	finalScore := domain.ClampScore(totalScore / totalWeight)

	return &domain.RiskAssessment{
		Score:             finalScore,
		Confidence:        aggregateConfidence(state.results),
		Flags:             unionFlags(order, state.results),
		Explanation:       o.finalExplanation(order, state.results, finalScore),
		RecommendedAction: domain.ActionForScore(finalScore, o.cfg.ReviewThreshold, o.cfg.BlockThreshold),
		Timestamp:         time.Now(),
		ProducerName:      OrchestratorName,
	}
}

func (o *Orchestrator) criticalAssessment(triggeredBy string, score float64) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		Score:      shortCircuitAssessmentScore,
		Confidence: 0.95,
		Flags: []domain.RiskFlag{{
			Code:   "CRITICAL_RISK",
			Detail: fmt.Sprintf("critical score %.0f from %s", score, triggeredBy),
		}},
		Explanation:       fmt.Sprintf("immediate action required: critical score detected by %s", triggeredBy),
		RecommendedAction: domain.ActionBlock,
		Timestamp:         time.Now(),
		ProducerName:      OrchestratorName,
	}
}

// aggregateConfidence is the score-weighted mean of per-evaluator
// confidences; evaluators with higher scores carry more weight. Defaults
// to 0.5 when every score is zero.
func aggregateConfidence(results map[string]*domain.RiskAssessment) float64 {
	totalConfidence := 0.0
	totalScore := 0.0
	for _, a := range results {
		totalConfidence += a.Confidence * a.Score
		totalScore += a.Score
	}

	if totalScore == 0 {
		return 0.5
	}
	confidence := totalConfidence / totalScore
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// unionFlags merges all evaluator flags, de-duplicated by code, walking
// evaluators in registration order
func unionFlags(order []string, results map[string]*domain.RiskAssessment) []domain.RiskFlag {
	var all []domain.RiskFlag
	for _, name := range order {
		if a, ok := results[name]; ok {
			all = append(all, a.Flags...)
		}
	}
	return dedupeFlags(all)
}

// finalExplanation concatenates up to three summaries from evaluators
// scoring above 20
func (o *Orchestrator) finalExplanation(order []string, results map[string]*domain.RiskAssessment, finalScore float64) string {
	var parts []string
	for _, name := range order {
		assessment, ok := results[name]
		if !ok || assessment.Score <= 20 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %.0f/100 - %s", name, assessment.Score, truncate(assessment.Explanation, 100)))
		if len(parts) == 3 {
			break
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("transaction approved - aggregate score: %.1f/100", finalScore)
	}
	return fmt.Sprintf("aggregate score: %.1f/100. %s", finalScore, strings.Join(parts, " | "))
}

// RouteMessage delivers a message envelope to the named evaluator. When a
// request produces a response, the response is delivered back to the
// sender. Delivery only; no queueing, evaluators are synchronous.
func (o *Orchestrator) RouteMessage(msg domain.EvaluatorMessage) error {
	o.mu.RLock()
	target, ok := o.evaluators[msg.To]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown evaluator: %s", msg.To)
	}

	handler, ok := target.evaluator.(MessageHandler)
	if !ok {
		o.log.Debug("evaluator does not accept messages", logger.StringField("evaluator", msg.To))
		return nil
	}

	response, err := handler.ReceiveMessage(msg)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", msg.To, err)
	}

	if response != nil && msg.Type == domain.MessageRequest {
		o.mu.RLock()
		sender, ok := o.evaluators[msg.From]
		o.mu.RUnlock()
		if ok {
			if senderHandler, ok := sender.evaluator.(MessageHandler); ok {
				_, err = senderHandler.ReceiveMessage(*response)
				return err
			}
		}
	}

	return nil
}

// EvaluatorNames returns registered evaluator names in registration order
func (o *Orchestrator) EvaluatorNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, len(o.order))
	copy(names, o.order)
	return names
}

// Weights returns the active weight table
func (o *Orchestrator) Weights() map[string]float64 {
	weights := make(map[string]float64, len(o.cfg.Weights))
	for name, w := range o.cfg.Weights {
		weights[name] = w
	}
	return weights
}

// MetricsSnapshot returns per-evaluator metrics plus the orchestrator's
// own, keyed by evaluator name
func (o *Orchestrator) MetricsSnapshot() map[string]MetricsSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]MetricsSnapshot, len(o.evaluators)+1)
	for name, reg := range o.evaluators {
		out[name] = reg.metrics.Snapshot()
	}
	out[OrchestratorName] = o.metrics.Snapshot()
	return out
}
