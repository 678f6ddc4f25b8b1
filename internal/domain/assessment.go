package domain

import (
	"time"
)

// RecommendedAction represents the action suggested by an evaluation
type RecommendedAction string

const (
	ActionApprove RecommendedAction = "APPROVE"
	ActionReview  RecommendedAction = "REVIEW"
	ActionBlock   RecommendedAction = "BLOCK"
)

// RiskFlag is a single risk signal with a short human-readable detail
type RiskFlag struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// RiskAssessment is the result produced by every evaluator and by the
// orchestrator. Score is always clamped to [0,100] and the recommended
// action is a pure function of the score.
type RiskAssessment struct {
	Score             float64           `json:"score"`      // 0-100
	Confidence        float64           `json:"confidence"` // 0-1
	Flags             []RiskFlag        `json:"flags"`
	Explanation       string            `json:"explanation"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
	Timestamp         time.Time         `json:"timestamp"`
	ProducerName      string            `json:"producer_name"`
}

// HasFlag reports whether the assessment carries a flag with the given code
func (a *RiskAssessment) HasFlag(code string) bool {
	for _, f := range a.Flags {
		if f.Code == code {
			return true
		}
	}
	return false
}

// FlagCodes returns the ordered list of flag codes
func (a *RiskAssessment) FlagCodes() []string {
	codes := make([]string, 0, len(a.Flags))
	for _, f := range a.Flags {
		codes = append(codes, f.Code)
	}
	return codes
}

// ClampScore limits a raw score to the [0,100] range
func ClampScore(score float64) float64 {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// ActionForScore maps a score to an action given REVIEW and BLOCK thresholds
func ActionForScore(score, reviewAt, blockAt float64) RecommendedAction {
	switch {
	case score >= blockAt:
		return ActionBlock
	case score >= reviewAt:
		return ActionReview
	default:
		return ActionApprove
	}
}
