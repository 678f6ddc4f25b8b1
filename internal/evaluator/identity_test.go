package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

func newTestVerifier() *IdentityVerifier {
	return NewIdentityVerifier(logger.NewNop())
}

func identityCtx(data *domain.IdentityData) *domain.EvaluationContext {
	return &domain.EvaluationContext{IdentityData: data}
}

func floatPtr(v float64) *float64 { return &v }

func TestIdentityVerifier_NoIdentityData(t *testing.T) {
	v := newTestVerifier()

	for _, evalCtx := range []*domain.EvaluationContext{nil, {}} {
		assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, evalCtx)
		require.NoError(t, err)

		assert.Equal(t, 0.0, assessment.Score)
		assert.Equal(t, 0.0, assessment.Confidence)
		assert.Equal(t, domain.ActionApprove, assessment.RecommendedAction)
	}
}

func TestIdentityVerifier_ValidIdentity(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{
			Type:       "passport",
			Number:     "X1234567",
			Name:       "Jordan Reyes",
			ExpiryDate: "2031-06-15",
		},
		Biometric: &domain.IdentityBiometric{FaceMatchScore: floatPtr(0.96)},
		Personal:  &domain.IdentityPersonal{Name: "Jordan Reyes"},
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.0, assessment.Score)
	assert.Equal(t, 0.6, assessment.Confidence)
	assert.Empty(t, assessment.Flags)
}

func TestIdentityVerifier_ShortPassportNumber(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "passport", Number: "123"},
	}))
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("INVALID_PASSPORT"))
	assert.Equal(t, 20.0, assessment.Score)
	assert.Equal(t, 0.9, assessment.Confidence)
}

func TestIdentityVerifier_ShortNumberOnNonPassport(t *testing.T) {
	v := newTestVerifier()

	// The length rule only applies to passports
	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "national_id", Number: "123"},
	}))
	require.NoError(t, err)

	assert.False(t, assessment.HasFlag("INVALID_PASSPORT"))
}

func TestIdentityVerifier_ExpiredDocument(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "passport", Number: "X1234567", ExpiryDate: "2020-01-01"},
	}))
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("EXPIRED_DOCUMENT"))
	assert.Equal(t, 30.0, assessment.Score)
}

func TestIdentityVerifier_UnparseableExpiryDate(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "passport", Number: "X1234567", ExpiryDate: "someday"},
	}))
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("INVALID_DATE"))
	assert.Equal(t, 15.0, assessment.Score)
}

func TestIdentityVerifier_AcceptedDateLayouts(t *testing.T) {
	for _, value := range []string{"2031-06-15", "2031-06-15T00:00:00Z", "2031-06-15T00:00:00"} {
		parsed, err := parseExpiryDate(value)
		require.NoError(t, err, value)
		assert.Equal(t, 2031, parsed.Year())
	}
}

func TestIdentityVerifier_FaceMismatch(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Biometric: &domain.IdentityBiometric{FaceMatchScore: floatPtr(0.5)},
	}))
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("FACE_MISMATCH"))
	assert.Equal(t, 30.0, assessment.Score)
}

func TestIdentityVerifier_AbsentFaceScoreIsNotAMismatch(t *testing.T) {
	v := newTestVerifier()

	// A missing score is unknown, not a failed match at zero
	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Biometric: &domain.IdentityBiometric{},
	}))
	require.NoError(t, err)

	assert.False(t, assessment.HasFlag("FACE_MISMATCH"))
	assert.Equal(t, 0.0, assessment.Score)
}

func TestIdentityVerifier_DeepfakeBlocks(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Biometric: &domain.IdentityBiometric{
			FaceMatchScore:   floatPtr(0.4),
			DeepfakeDetected: true,
		},
	}))
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("DEEPFAKE_DETECTED"))
	assert.True(t, assessment.HasFlag("FACE_MISMATCH"))
	assert.Equal(t, 80.0, assessment.Score)
	assert.Equal(t, domain.ActionBlock, assessment.RecommendedAction)
}

func TestIdentityVerifier_NameMismatch(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "passport", Number: "X1234567", Name: "Alice Smith"},
		Personal: &domain.IdentityPersonal{Name: "Bob Jones"},
	}))
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("NAME_MISMATCH"))
	assert.Equal(t, 25.0, assessment.Score)
}

func TestIdentityVerifier_NameComparisonIsCaseInsensitive(t *testing.T) {
	v := newTestVerifier()

	assessment, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "passport", Number: "X1234567", Name: "JORDAN REYES"},
		Personal: &domain.IdentityPersonal{Name: "jordan reyes"},
	}))
	require.NoError(t, err)

	assert.False(t, assessment.HasFlag("NAME_MISMATCH"))
}

func TestIdentityVerifier_Stateless(t *testing.T) {
	v := newTestVerifier()
	data := identityCtx(&domain.IdentityData{
		Document: &domain.IdentityDocument{Type: "passport", Number: "123"},
	})

	first, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, data)
	require.NoError(t, err)
	second, err := v.Evaluate(context.Background(), &domain.Transaction{ID: "tx-1"}, data)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Flags, second.Flags)
}
