package evaluator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// BehavioralProfilerName identifies the behavioral profiler in the
// orchestrator's weight table
const BehavioralProfilerName = "behavioral_analysis"

const (
	maxProfileLocations = 10
	maxProfileMerchants = 50
)

// behaviorProfile is the persistent per-customer baseline. Unlike the
// rolling windows, profiles are never time-pruned.
type behaviorProfile struct {
	mu sync.Mutex

	avgAmount        float64
	stdAmount        float64
	usualHours       []int
	usualLocations   []domain.Location
	usualMerchants   []string
	knownDevices     []string
	transactionCount int
	createdAt        time.Time
}

func newBehaviorProfile() *behaviorProfile {
	hours := make([]int, 0, 15)
	for h := 8; h < 23; h++ {
		hours = append(hours, h)
	}
	return &behaviorProfile{
		avgAmount:  100.0,
		stdAmount:  30.0,
		usualHours: hours,
		createdAt:  time.Now(),
	}
}

func (p *behaviorProfile) hasHour(hour int) bool {
	for _, h := range p.usualHours {
		if h == hour {
			return true
		}
	}
	return false
}

func (p *behaviorProfile) hasMerchant(merchant string) bool {
	for _, m := range p.usualMerchants {
		if m == merchant {
			return true
		}
	}
	return false
}

func (p *behaviorProfile) hasDevice(deviceID string) bool {
	for _, d := range p.knownDevices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// BehavioralProfiler maintains a behavioral baseline per customer and
// scores how far a transaction deviates from it
type BehavioralProfiler struct {
	mu       sync.RWMutex
	profiles map[string]*behaviorProfile
	log      *logger.Logger
}

// NewBehavioralProfiler creates a profiler with an empty profile registry
func NewBehavioralProfiler(log *logger.Logger) *BehavioralProfiler {
	return &BehavioralProfiler{
		profiles: make(map[string]*behaviorProfile),
		log:      log.Named(BehavioralProfilerName),
	}
}

// Name implements Evaluator
func (b *BehavioralProfiler) Name() string { return BehavioralProfilerName }

// CanHandle implements Evaluator; confidence is higher when the caller
// supplies a customer profile
func (b *BehavioralProfiler) CanHandle(_ string, evalCtx *domain.EvaluationContext) float64 {
	if evalCtx != nil && evalCtx.CustomerProfile != nil {
		return 0.9
	}
	return 0.6
}

// SeedDevices registers known devices for a customer. Device knowledge
// only arrives through seeding: the per-transaction update never appends
// devices.
func (b *BehavioralProfiler) SeedDevices(customerID string, deviceIDs []string) {
	profile := b.profile(customerID)
	profile.mu.Lock()
	defer profile.mu.Unlock()
	profile.knownDevices = append(profile.knownDevices, deviceIDs...)
}

// ProfileSnapshot is a read-only view of a customer's baseline
type ProfileSnapshot struct {
	CustomerID       string    `json:"customer_id"`
	AvgAmount        float64   `json:"avg_amount"`
	TransactionCount int       `json:"transaction_count"`
	UsualHours       []int     `json:"usual_hours"`
	KnownMerchants   int       `json:"known_merchants"`
	KnownLocations   int       `json:"known_locations"`
	KnownDevices     int       `json:"known_devices"`
	CreatedAt        time.Time `json:"created_at"`
}

// Snapshot returns a copy of a customer's current baseline. The second
// return is false when the customer has never been seen.
func (b *BehavioralProfiler) Snapshot(customerID string) (*ProfileSnapshot, bool) {
	b.mu.RLock()
	p, ok := b.profiles[customerID]
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	hours := make([]int, len(p.usualHours))
	copy(hours, p.usualHours)
	return &ProfileSnapshot{
		CustomerID:       customerID,
		AvgAmount:        p.avgAmount,
		TransactionCount: p.transactionCount,
		UsualHours:       hours,
		KnownMerchants:   len(p.usualMerchants),
		KnownLocations:   len(p.usualLocations),
		KnownDevices:     len(p.knownDevices),
		CreatedAt:        p.createdAt,
	}, true
}

func (b *BehavioralProfiler) profile(customerID string) *behaviorProfile {
	b.mu.RLock()
	p, ok := b.profiles[customerID]
	b.mu.RUnlock()
	if ok {
		return p
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.profiles[customerID]; ok {
		return p
	}
	p = newBehaviorProfile()
	b.profiles[customerID] = p
	return p
}

// Evaluate implements Evaluator
func (b *BehavioralProfiler) Evaluate(_ context.Context, tx *domain.Transaction, _ *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	if tx.CustomerID == "" {
		return &domain.RiskAssessment{
			Score:             0,
			Confidence:        0,
			Explanation:       "no customer id provided",
			RecommendedAction: domain.ActionApprove,
			Timestamp:         time.Now(),
			ProducerName:      BehavioralProfilerName,
		}, nil
	}

	ts := tx.EffectiveTimestamp()
	profile := b.profile(tx.CustomerID)

	// Read-then-write on the profile is a critical section: two
	// simultaneous transactions for one customer race on the running
	// average otherwise.
	profile.mu.Lock()
	defer profile.mu.Unlock()

	var flags []domain.RiskFlag
	score := 0.0

	checks := []func(*domain.Transaction, time.Time, *behaviorProfile) (float64, *domain.RiskFlag){
		checkAmountDeviation,
		checkTimeDeviation,
		checkLocationDeviation,
		checkMerchantDeviation,
		checkFrequencyDeviation,
		checkDeviceDeviation,
	}
	for _, check := range checks {
		if checkScore, flag := check(tx, ts, profile); checkScore > 0 {
			score += checkScore
			if flag != nil {
				flags = append(flags, *flag)
			}
		}
	}

	b.updateProfile(profile, tx, ts)

	score = domain.ClampScore(score)

	confidence := 0.5
	if len(flags) > 0 {
		confidence = 0.8
	}

	return &domain.RiskAssessment{
		Score:             score,
		Confidence:        confidence,
		Flags:             flags,
		Explanation:       summarizeFlags(flags, score),
		RecommendedAction: domain.ActionForScore(score, 30, 60),
		Timestamp:         time.Now(),
		ProducerName:      BehavioralProfilerName,
	}, nil
}

// updateProfile folds the transaction into the customer's baseline:
// incremental mean for the amount, append-if-new for hours and merchants,
// bounded append for locations. Caller holds the profile lock.
func (b *BehavioralProfiler) updateProfile(profile *behaviorProfile, tx *domain.Transaction, ts time.Time) {
	n := float64(profile.transactionCount)
	profile.avgAmount = (profile.avgAmount*n + tx.Amount) / (n + 1)
	profile.transactionCount++

	hour := ts.Hour()
	if !profile.hasHour(hour) {
		profile.usualHours = append(profile.usualHours, hour)
	}

	if tx.Location != nil {
		profile.usualLocations = append(profile.usualLocations, *tx.Location)
		if len(profile.usualLocations) > maxProfileLocations {
			profile.usualLocations = profile.usualLocations[len(profile.usualLocations)-maxProfileLocations:]
		}
	}

	if tx.Merchant != "" && !profile.hasMerchant(tx.Merchant) {
		profile.usualMerchants = append(profile.usualMerchants, tx.Merchant)
		if len(profile.usualMerchants) > maxProfileMerchants {
			profile.usualMerchants = profile.usualMerchants[len(profile.usualMerchants)-maxProfileMerchants:]
		}
	}
}

func checkAmountDeviation(tx *domain.Transaction, _ time.Time, profile *behaviorProfile) (float64, *domain.RiskFlag) {
	if profile.avgAmount == 0 {
		return 0, nil
	}

	zScore := 0.0
	if profile.stdAmount > 0 {
		zScore = math.Abs(tx.Amount-profile.avgAmount) / profile.stdAmount
	}

	switch {
	case zScore > 5:
		return 25, &domain.RiskFlag{
			Code:   "AMOUNT_DEVIATION",
			Detail: fmt.Sprintf("%.2f is over 5 sigma from average %.0f", tx.Amount, profile.avgAmount),
		}
	case zScore > 3:
		return 15, &domain.RiskFlag{
			Code:   "AMOUNT_DEVIATION",
			Detail: fmt.Sprintf("%.2f is over 3 sigma from average", tx.Amount),
		}
	case zScore > 2:
		return 5, &domain.RiskFlag{
			Code:   "AMOUNT_DEVIATION",
			Detail: fmt.Sprintf("%.2f is over 2 sigma from average", tx.Amount),
		}
	default:
		return 0, nil
	}
}

func checkTimeDeviation(_ *domain.Transaction, ts time.Time, profile *behaviorProfile) (float64, *domain.RiskFlag) {
	hour := ts.Hour()

	// 03:00-06:00 is unusual regardless of history
	if hour >= 3 && hour <= 6 {
		return 20, &domain.RiskFlag{
			Code:   "TIME_DEVIATION",
			Detail: fmt.Sprintf("transaction at %02d:00", hour),
		}
	}

	if len(profile.usualHours) > 5 && !profile.hasHour(hour) {
		return 10, &domain.RiskFlag{
			Code:   "TIME_DEVIATION",
			Detail: fmt.Sprintf("%02d:00 not among customer's usual hours", hour),
		}
	}

	return 0, nil
}

func checkLocationDeviation(tx *domain.Transaction, _ time.Time, profile *behaviorProfile) (float64, *domain.RiskFlag) {
	if tx.Location == nil || len(profile.usualLocations) < 3 {
		return 0, nil
	}

	minDistance := math.Inf(1)
	for _, loc := range profile.usualLocations {
		if d := tx.Location.PlanarDistanceKm(loc); d < minDistance {
			minDistance = d
		}
	}

	switch {
	case minDistance > 500:
		return 20, &domain.RiskFlag{
			Code:   "LOCATION_DEVIATION",
			Detail: fmt.Sprintf("%.0f km from usual locations", minDistance),
		}
	case minDistance > 100:
		return 8, &domain.RiskFlag{
			Code:   "LOCATION_DEVIATION",
			Detail: fmt.Sprintf("%.0f km from usual locations", minDistance),
		}
	default:
		return 0, nil
	}
}

func checkMerchantDeviation(tx *domain.Transaction, _ time.Time, profile *behaviorProfile) (float64, *domain.RiskFlag) {
	if tx.Merchant == "" || len(profile.usualMerchants) < 5 {
		return 0, nil
	}

	if !profile.hasMerchant(tx.Merchant) {
		return 5, &domain.RiskFlag{
			Code:   "NEW_MERCHANT",
			Detail: tx.Merchant + " seen for the first time",
		}
	}

	return 0, nil
}

// checkFrequencyDeviation is a reserved slot for frequency-spike
// detection; it currently contributes nothing.
func checkFrequencyDeviation(*domain.Transaction, time.Time, *behaviorProfile) (float64, *domain.RiskFlag) {
	return 0, nil
}

func checkDeviceDeviation(tx *domain.Transaction, _ time.Time, profile *behaviorProfile) (float64, *domain.RiskFlag) {
	if tx.DeviceID == "" || len(profile.knownDevices) == 0 {
		return 0, nil
	}

	if !profile.hasDevice(tx.DeviceID) {
		return 10, &domain.RiskFlag{
			Code:   "NEW_DEVICE",
			Detail: "transaction from unrecognized device",
		}
	}

	return 0, nil
}
