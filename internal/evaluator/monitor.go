package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/history"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// TransactionMonitorName identifies the transaction monitor in the
// orchestrator's weight table
const TransactionMonitorName = "transaction_monitor"

const (
	velocityWindow = 5 * time.Minute

	// Fallback baseline when the caller supplies no customer profile
	defaultAvgTransaction = 100.0
	defaultMaxTransaction = 500.0
)

// Merchant names containing these keywords score +15
var highRiskMerchantKeywords = []string{"crypto", "gambling", "adult", "money_transfer"}

// TransactionMonitor runs real-time rule checks: amount anomalies,
// velocity, geographic impossibility, unusual hours, and high-risk
// merchants. It keeps a 24h rolling window of past transactions per
// customer.
type TransactionMonitor struct {
	store history.Store
	log   *logger.Logger
}

// NewTransactionMonitor creates a monitor backed by the given time-bounded
// history store
func NewTransactionMonitor(store history.Store, log *logger.Logger) *TransactionMonitor {
	return &TransactionMonitor{
		store: store,
		log:   log.Named(TransactionMonitorName),
	}
}

// Name implements Evaluator
func (m *TransactionMonitor) Name() string { return TransactionMonitorName }

// CanHandle implements Evaluator; the monitor applies to all transactions
func (m *TransactionMonitor) CanHandle(string, *domain.EvaluationContext) float64 {
	return 0.95
}

// Evaluate implements Evaluator
func (m *TransactionMonitor) Evaluate(ctx context.Context, tx *domain.Transaction, evalCtx *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	ts := tx.EffectiveTimestamp()
	var flags []domain.RiskFlag
	score := 0.0

	avgTransaction := defaultAvgTransaction
	maxTransaction := defaultMaxTransaction
	var profile *domain.CustomerProfile
	if evalCtx != nil && evalCtx.CustomerProfile != nil {
		profile = evalCtx.CustomerProfile
		if profile.AvgTransactionAmount > 0 {
			avgTransaction = profile.AvgTransactionAmount
		}
		if profile.MaxTransactionAmount > 0 {
			maxTransaction = profile.MaxTransactionAmount
		}
	}

	// Record the transaction and read the prior window in one atomic
	// step, so concurrent evaluations for one customer each count every
	// earlier transaction. The window prunes to the trailing 24 hours on
	// every write.
	var window []history.Record
	if tx.CustomerID != "" {
		var err error
		rec := history.Record{Timestamp: ts, Amount: tx.Amount, Location: tx.Location}
		window, err = m.store.AppendAndGet(ctx, tx.CustomerID, rec)
		if err != nil {
			return nil, fmt.Errorf("transaction history unavailable: %w", err)
		}
	}

	// Rule 1: amount anomaly
	if tx.Amount > maxTransaction*2 {
		score += 25
		flags = append(flags, domain.RiskFlag{
			Code:   "HIGH_AMOUNT",
			Detail: fmt.Sprintf("%.2f is 2x above customer max %.2f", tx.Amount, maxTransaction),
		})
	} else if tx.Amount > avgTransaction*5 {
		score += 15
		flags = append(flags, domain.RiskFlag{
			Code:   "HIGH_AMOUNT",
			Detail: fmt.Sprintf("%.2f is 5x above customer average %.2f", tx.Amount, avgTransaction),
		})
	}

	// Rule 2: velocity
	if velocityScore := m.checkVelocity(window, ts); velocityScore > 0 {
		score += velocityScore
		flags = append(flags, domain.RiskFlag{
			Code:   "VELOCITY",
			Detail: "multiple transactions in a short window",
		})
	}

	// Rule 3: geographic impossibility
	if geoScore, speed := m.checkGeographicImpossibility(window, tx.Location, ts); geoScore > 0 {
		score += geoScore
		flags = append(flags, domain.RiskFlag{
			Code:   "GEO_IMPOSSIBLE",
			Detail: fmt.Sprintf("implied travel speed %.0f km/h", speed),
		})
	}

	// Rule 4: unusual hours
	if timeScore, detail := checkTimeRisk(ts, profile); timeScore > 0 {
		score += timeScore
		flags = append(flags, domain.RiskFlag{Code: "TIME_RISK", Detail: detail})
	}

	// Rule 5: high-risk merchant
	for _, keyword := range highRiskMerchantKeywords {
		if tx.MerchantContains(keyword) {
			score += 15
			flags = append(flags, domain.RiskFlag{
				Code:   "MERCHANT_RISK",
				Detail: "high-risk merchant category: " + keyword,
			})
			break
		}
	}

	score = domain.ClampScore(score)

	confidence := 0.6
	if len(flags) > 0 {
		confidence = 0.85
	}

	return &domain.RiskAssessment{
		Score:             score,
		Confidence:        confidence,
		Flags:             flags,
		Explanation:       summarizeFlags(flags, score),
		RecommendedAction: domain.ActionForScore(score, 40, 70),
		Timestamp:         time.Now(),
		ProducerName:      TransactionMonitorName,
	}, nil
}

// checkVelocity counts prior transactions within the last five minutes
// relative to the current transaction's timestamp
func (m *TransactionMonitor) checkVelocity(window []history.Record, ts time.Time) float64 {
	count := history.CountSince(window, ts.Add(-velocityWindow))

	switch {
	case count >= 5:
		return 30
	case count >= 3:
		return 15
	case count >= 2:
		return 5
	default:
		return 0
	}
}

// checkGeographicImpossibility derives the implied travel speed from the
// most recent stored transaction. Skipped when elapsed time is zero.
func (m *TransactionMonitor) checkGeographicImpossibility(window []history.Record, loc *domain.Location, ts time.Time) (float64, float64) {
	if loc == nil || len(window) == 0 {
		return 0, 0
	}

	last := window[len(window)-1]
	if last.Location == nil || last.Timestamp.IsZero() {
		return 0, 0
	}

	distanceKm := loc.PlanarDistanceKm(*last.Location)
	elapsedHours := ts.Sub(last.Timestamp).Hours()
	if elapsedHours == 0 {
		return 0, 0
	}

	speed := distanceKm / elapsedHours
	switch {
	case speed > 900: // faster than a commercial flight
		return 35, speed
	case speed > 300: // faster than a high-speed train
		return 20, speed
	case speed > 120 && distanceKm > 200:
		return 10, speed
	default:
		return 0, speed
	}
}

// checkTimeRisk scores transactions at unusual hours. 00:00-05:00 is
// always risky; outside the customer's usual hours is mildly risky.
func checkTimeRisk(ts time.Time, profile *domain.CustomerProfile) (float64, string) {
	hour := ts.Hour()

	if hour >= 0 && hour < 5 {
		return 10, fmt.Sprintf("transaction at %02d:00", hour)
	}

	fallback := domain.CustomerProfile{}
	p := profile
	if p == nil {
		p = &fallback
	}
	if !p.HasUsualHour(hour) {
		return 8, fmt.Sprintf("%02d:00 not among customer's usual hours", hour)
	}

	return 0, ""
}
