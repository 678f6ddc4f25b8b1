package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// IdentityVerifierName identifies the identity evaluator in the
// orchestrator's weight table
const IdentityVerifierName = "identity_verification"

const minPassportNumberLength = 6

// faceMatchThreshold is the minimum acceptable biometric face match score
const faceMatchThreshold = 0.7

// Accepted layouts for document expiry dates
var expiryDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// IdentityVerifier scores document and biometric consistency for a single
// request. It is stateless: no history persists between evaluations.
type IdentityVerifier struct {
	log *logger.Logger
}

// NewIdentityVerifier creates the identity evaluator
func NewIdentityVerifier(log *logger.Logger) *IdentityVerifier {
	return &IdentityVerifier{log: log.Named(IdentityVerifierName)}
}

// Name implements Evaluator
func (v *IdentityVerifier) Name() string { return IdentityVerifierName }

// CanHandle implements Evaluator
func (v *IdentityVerifier) CanHandle(string, *domain.EvaluationContext) float64 {
	return 0.5
}

// Evaluate implements Evaluator
func (v *IdentityVerifier) Evaluate(_ context.Context, _ *domain.Transaction, evalCtx *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	if evalCtx == nil || evalCtx.IdentityData == nil {
		return &domain.RiskAssessment{
			Score:             0,
			Confidence:        0,
			Explanation:       "no identity data provided",
			RecommendedAction: domain.ActionApprove,
			Timestamp:         time.Now(),
			ProducerName:      IdentityVerifierName,
		}, nil
	}

	identity := evalCtx.IdentityData
	var flags []domain.RiskFlag
	score := 0.0

	doc := identity.Document
	if doc != nil {
		if doc.Type == "passport" && len(doc.Number) < minPassportNumberLength {
			score += 20
			flags = append(flags, domain.RiskFlag{
				Code:   "INVALID_PASSPORT",
				Detail: "passport number too short",
			})
		}

		if doc.ExpiryDate != "" {
			expiry, err := parseExpiryDate(doc.ExpiryDate)
			switch {
			case err != nil:
				score += 15
				flags = append(flags, domain.RiskFlag{
					Code:   "INVALID_DATE",
					Detail: "unparseable expiry date: " + doc.ExpiryDate,
				})
			case expiry.Before(time.Now()):
				score += 30
				flags = append(flags, domain.RiskFlag{
					Code:   "EXPIRED_DOCUMENT",
					Detail: "document expired " + expiry.Format("2006-01-02"),
				})
			}
		}
	}

	if bio := identity.Biometric; bio != nil {
		if bio.FaceMatchScore != nil && *bio.FaceMatchScore < faceMatchThreshold {
			score += 30
			flags = append(flags, domain.RiskFlag{
				Code:   "FACE_MISMATCH",
				Detail: fmt.Sprintf("face match score %.2f below %.1f", *bio.FaceMatchScore, faceMatchThreshold),
			})
		}
		if bio.DeepfakeDetected {
			score += 50
			flags = append(flags, domain.RiskFlag{
				Code:   "DEEPFAKE_DETECTED",
				Detail: "biometric capture flagged as synthetic",
			})
		}
	}

	if doc != nil && identity.Personal != nil {
		docName := strings.ToLower(doc.Name)
		personalName := strings.ToLower(identity.Personal.Name)
		if docName != "" && personalName != "" && docName != personalName {
			score += 25
			flags = append(flags, domain.RiskFlag{
				Code:   "NAME_MISMATCH",
				Detail: "document name does not match personal profile",
			})
		}
	}

	score = domain.ClampScore(score)

	confidence := 0.6
	explanation := fmt.Sprintf("identity score: %.1f", score)
	if len(flags) > 0 {
		confidence = 0.9
		explanation = summarizeFlags(flags, score)
	}

	return &domain.RiskAssessment{
		Score:             score,
		Confidence:        confidence,
		Flags:             flags,
		Explanation:       explanation,
		RecommendedAction: domain.ActionForScore(score, 40, 75),
		Timestamp:         time.Now(),
		ProducerName:      IdentityVerifierName,
	}, nil
}

func parseExpiryDate(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range expiryDateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
