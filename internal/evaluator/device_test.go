package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/history"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

func newTestFingerprinter() *DeviceFingerprinter {
	return NewDeviceFingerprinter(history.NewMemoryStore(0, deviceSwitchWindow), logger.NewNop())
}

func ordinaryDevice() domain.DeviceInfo {
	return domain.DeviceInfo{
		"user_agent":        "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		"screen_resolution": "390x844",
		"color_depth":       "24",
		"timezone":          "America/New_York",
		"language":          "en-US",
		"platform":          "iPhone",
		"touch_support":     "true",
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	info := ordinaryDevice()

	fp1 := Fingerprint(info)
	fp2 := Fingerprint(ordinaryDevice())

	assert.Equal(t, fp1, fp2)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), fp1)
}

func TestFingerprint_SensitiveToAttributes(t *testing.T) {
	info := ordinaryDevice()
	changed := ordinaryDevice()
	changed["timezone"] = "Europe/London"

	assert.NotEqual(t, Fingerprint(info), Fingerprint(changed))
}

func TestDeviceFingerprinter_NoDeviceInfo(t *testing.T) {
	d := newTestFingerprinter()

	assessment, err := d.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Amount:     50,
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, assessment.Score)
	assert.Equal(t, 0.3, assessment.Confidence)
	assert.Equal(t, domain.ActionApprove, assessment.RecommendedAction)
}

func TestDeviceFingerprinter_CleanDevice(t *testing.T) {
	d := newTestFingerprinter()

	assessment, err := d.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		DeviceInfo: ordinaryDevice(),
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, assessment.Score)
	assert.Equal(t, 0.6, assessment.Confidence)
	assert.Empty(t, assessment.Flags)
}

func TestDeviceFingerprinter_DeviceSharing(t *testing.T) {
	d := newTestFingerprinter()
	ctx := context.Background()
	info := ordinaryDevice()

	_, err := d.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-a",
		DeviceInfo: info,
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assessment, err := d.Evaluate(ctx, &domain.Transaction{
		ID:         "tx-2",
		CustomerID: "cust-b",
		DeviceInfo: info,
		Timestamp:  quietAfternoon.Add(time.Minute),
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("DEVICE_SHARING"))
	assert.Equal(t, 35.0, assessment.Score)

	// First registration wins; the second customer never takes ownership
	owner, ok := d.RegisteredOwner(Fingerprint(info))
	require.True(t, ok)
	assert.Equal(t, "cust-a", owner)
}

func TestDeviceFingerprinter_SameCustomerNotSharing(t *testing.T) {
	d := newTestFingerprinter()
	ctx := context.Background()
	info := ordinaryDevice()

	for i := 0; i < 2; i++ {
		assessment, err := d.Evaluate(ctx, &domain.Transaction{
			ID:         "tx",
			CustomerID: "cust-a",
			DeviceInfo: info,
			Timestamp:  quietAfternoon.Add(time.Duration(i) * time.Minute),
		}, nil)
		require.NoError(t, err)
		assert.False(t, assessment.HasFlag("DEVICE_SHARING"))
	}
}

func TestDeviceFingerprinter_ResetRegistry(t *testing.T) {
	d := newTestFingerprinter()
	ctx := context.Background()
	info := ordinaryDevice()

	_, err := d.Evaluate(ctx, &domain.Transaction{
		ID: "tx-1", CustomerID: "cust-a", DeviceInfo: info, Timestamp: quietAfternoon,
	}, nil)
	require.NoError(t, err)

	d.ResetRegistry()

	_, ok := d.RegisteredOwner(Fingerprint(info))
	assert.False(t, ok)
}

func TestDeviceFingerprinter_RapidSwitching(t *testing.T) {
	d := newTestFingerprinter()
	ctx := context.Background()

	// Five distinct devices inside 24 hours; switching needs at least two
	// prior sightings, so flags appear from the third evaluation on.
	var last *domain.RiskAssessment
	for i := 0; i < 6; i++ {
		info := ordinaryDevice()
		info["user_agent"] = fmt.Sprintf("Mozilla/5.0 (Device %d)", i)

		assessment, err := d.Evaluate(ctx, &domain.Transaction{
			ID:         "tx",
			CustomerID: "cust-1",
			DeviceInfo: info,
			Timestamp:  quietAfternoon.Add(time.Duration(i) * time.Hour),
		}, nil)
		require.NoError(t, err)
		last = assessment
	}

	assert.True(t, last.HasFlag("RAPID_DEVICE_CHANGE"))
	assert.Equal(t, 30.0, last.Score)
}

func TestDeviceFingerprinter_FewDevicesNotFlagged(t *testing.T) {
	d := newTestFingerprinter()
	ctx := context.Background()

	info := ordinaryDevice()
	for i := 0; i < 4; i++ {
		assessment, err := d.Evaluate(ctx, &domain.Transaction{
			ID:         "tx",
			CustomerID: "cust-1",
			DeviceInfo: info,
			Timestamp:  quietAfternoon.Add(time.Duration(i) * time.Hour),
		}, nil)
		require.NoError(t, err)
		assert.False(t, assessment.HasFlag("RAPID_DEVICE_CHANGE"))
		assert.False(t, assessment.HasFlag("MULTIPLE_DEVICES"))
	}
}

func TestDeviceFingerprinter_EmulatorDetected(t *testing.T) {
	d := newTestFingerprinter()

	info := ordinaryDevice()
	info["platform"] = "VMware Virtual Platform"

	assessment, err := d.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		DeviceInfo: info,
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("EMULATOR_DETECTED"))
	assert.GreaterOrEqual(t, assessment.Score, 40.0)
	assert.Equal(t, domain.ActionReview, assessment.RecommendedAction)
}

func TestDeviceFingerprinter_ResolutionMismatch(t *testing.T) {
	d := newTestFingerprinter()

	info := ordinaryDevice()
	info["user_agent"] = "Mozilla/5.0 (Linux; Android 14; Mobile)"
	info["screen_resolution"] = "1920x1080"

	assessment, err := d.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		DeviceInfo: info,
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("RESOLUTION_MISMATCH"))
	assert.Equal(t, 15.0, assessment.Score)
}

func TestDeviceFingerprinter_HeadlessBrowser(t *testing.T) {
	d := newTestFingerprinter()

	info := ordinaryDevice()
	info["user_agent"] = "Mozilla/5.0 HeadlessChrome/120.0"

	assessment, err := d.Evaluate(context.Background(), &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		DeviceInfo: info,
		Timestamp:  quietAfternoon,
	}, nil)
	require.NoError(t, err)

	assert.True(t, assessment.HasFlag("HEADLESS_BROWSER"))
	assert.Equal(t, 25.0, assessment.Score)
}
