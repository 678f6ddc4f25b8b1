package evaluator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/history"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// AnomalyDetectorName identifies the anomaly detector in the
// orchestrator's weight table
const AnomalyDetectorName = "anomaly_detection"

// AnomalyWindowSize is the count bound of the per-customer amount window
const AnomalyWindowSize = 1000

// minBaselineSize is the number of prior transactions needed before
// z-score analysis is meaningful
const minBaselineSize = 5

// AnomalyDetector flags statistical outliers in a customer's amount
// history via z-scores over a count-bounded window
type AnomalyDetector struct {
	store history.Store
	log   *logger.Logger
}

// NewAnomalyDetector creates a detector backed by the given count-bounded
// history store
func NewAnomalyDetector(store history.Store, log *logger.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		store: store,
		log:   log.Named(AnomalyDetectorName),
	}
}

// Name implements Evaluator
func (a *AnomalyDetector) Name() string { return AnomalyDetectorName }

// CanHandle implements Evaluator
func (a *AnomalyDetector) CanHandle(string, *domain.EvaluationContext) float64 {
	return 0.5
}

// Evaluate implements Evaluator
func (a *AnomalyDetector) Evaluate(ctx context.Context, tx *domain.Transaction, _ *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	ts := tx.EffectiveTimestamp()

	if tx.CustomerID == "" {
		return a.baselineAssessment(0.3, "no customer id - baseline unavailable"), nil
	}

	// One atomic step: record the amount and read the priors it joins, so
	// concurrent evaluations for one customer never score against the
	// same baseline twice.
	window, err := a.store.AppendAndGet(ctx, tx.CustomerID, history.Record{Timestamp: ts, Amount: tx.Amount})
	if err != nil {
		return nil, fmt.Errorf("amount history unavailable: %w", err)
	}

	if len(window) == 0 {
		return a.baselineAssessment(0.3, "first transaction - building baseline"), nil
	}

	if len(window) < minBaselineSize {
		return a.baselineAssessment(0.4, "insufficient history for analysis"), nil
	}

	amounts := history.Amounts(window)
	mean, std := meanAndStdDev(amounts)

	zScore := math.Abs(tx.Amount-mean) / std

	var flags []domain.RiskFlag
	score := 0.0
	switch {
	case zScore > 5:
		score = 35
		flags = append(flags, domain.RiskFlag{
			Code:   "EXTREME_ZSCORE",
			Detail: fmt.Sprintf("%.1f sigma deviation", zScore),
		})
	case zScore > 3:
		score = 20
		flags = append(flags, domain.RiskFlag{
			Code:   "HIGH_ZSCORE",
			Detail: fmt.Sprintf("%.1f sigma deviation", zScore),
		})
	case zScore > 2:
		score = 8
		flags = append(flags, domain.RiskFlag{
			Code:   "ELEVATED_ZSCORE",
			Detail: fmt.Sprintf("%.1f sigma deviation", zScore),
		})
	}

	score = domain.ClampScore(score)

	confidence := 0.5
	explanation := fmt.Sprintf("within normal pattern (z: %.2f)", zScore)
	if len(flags) > 0 {
		confidence = 0.8
		explanation = fmt.Sprintf("z-score %.2f (mean: %.0f, sigma: %.0f)", zScore, mean, std)
	}

	return &domain.RiskAssessment{
		Score:             score,
		Confidence:        confidence,
		Flags:             flags,
		Explanation:       explanation,
		RecommendedAction: domain.ActionForScore(score, 40, 70),
		Timestamp:         time.Now(),
		ProducerName:      AnomalyDetectorName,
	}, nil
}

func (a *AnomalyDetector) baselineAssessment(confidence float64, explanation string) *domain.RiskAssessment {
	return &domain.RiskAssessment{
		Score:             0,
		Confidence:        confidence,
		Explanation:       explanation,
		RecommendedAction: domain.ActionApprove,
		Timestamp:         time.Now(),
		ProducerName:      AnomalyDetectorName,
	}
}

// meanAndStdDev returns the population mean and standard deviation of the
// series, with the deviation floored at 1 to avoid division by zero
func meanAndStdDev(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	std := 1.0
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return mean, std
}
