package evaluator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/history"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
)

// DeviceFingerprintName identifies the device evaluator in the
// orchestrator's weight table
const DeviceFingerprintName = "device_fingerprint"

const deviceSwitchWindow = 24 * time.Hour

// Device attributes folded into the fingerprint, in order
var fingerprintAttributes = []string{
	"user_agent",
	"screen_resolution",
	"color_depth",
	"timezone",
	"language",
	"platform",
	"touch_support",
}

var emulatorIndicators = []string{
	"emulator", "simulator", "virtual", "vmware", "virtualbox",
	"qemu", "xen", "parallels", "hyper-v",
}

var headlessIndicators = []string{
	"headlesschrome", "phantomjs", "selenium", "puppeteer",
}

// Desktop-class resolutions that should not appear with a mobile user agent
var desktopResolutions = map[string]bool{
	"1920x1080": true,
	"1366x768":  true,
}

// DeviceFingerprinter detects device-based fraud: cross-account device
// sharing, rapid device switching, emulators, and automation tooling. The
// fingerprint is content-addressed, not a secret: identical attribute
// tuples always hash to the same digest.
type DeviceFingerprinter struct {
	store history.Store // per-customer device sightings, 24h window

	registryMu sync.Mutex
	registry   map[string]string // fingerprint -> first-seen customer id

	log *logger.Logger
}

// NewDeviceFingerprinter creates a device evaluator backed by the given
// time-bounded history store
func NewDeviceFingerprinter(store history.Store, log *logger.Logger) *DeviceFingerprinter {
	return &DeviceFingerprinter{
		store:    store,
		registry: make(map[string]string),
		log:      log.Named(DeviceFingerprintName),
	}
}

// Name implements Evaluator
func (d *DeviceFingerprinter) Name() string { return DeviceFingerprintName }

// CanHandle implements Evaluator
func (d *DeviceFingerprinter) CanHandle(string, *domain.EvaluationContext) float64 {
	return 0.5
}

// Fingerprint derives the 16-hex-character device fingerprint from the
// attribute tuple
func Fingerprint(info domain.DeviceInfo) string {
	components := make([]string, 0, len(fingerprintAttributes))
	for _, attr := range fingerprintAttributes {
		components = append(components, info.Get(attr))
	}
	digest := md5.Sum([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(digest[:])[:16]
}

// RegisteredOwner returns the customer first seen with a fingerprint
func (d *DeviceFingerprinter) RegisteredOwner(fingerprint string) (string, bool) {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()
	owner, ok := d.registry[fingerprint]
	return owner, ok
}

// ResetRegistry clears the fingerprint-to-customer registry. The registry
// is otherwise append-only with first-owner-wins semantics; this exists
// for administrative resets only.
func (d *DeviceFingerprinter) ResetRegistry() {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()
	d.registry = make(map[string]string)
}

// Evaluate implements Evaluator
func (d *DeviceFingerprinter) Evaluate(ctx context.Context, tx *domain.Transaction, _ *domain.EvaluationContext) (*domain.RiskAssessment, error) {
	if len(tx.DeviceInfo) == 0 {
		return &domain.RiskAssessment{
			Score:             0,
			Confidence:        0.3,
			Explanation:       "no device info provided",
			RecommendedAction: domain.ActionApprove,
			Timestamp:         time.Now(),
			ProducerName:      DeviceFingerprintName,
		}, nil
	}

	ts := tx.EffectiveTimestamp()
	fingerprint := Fingerprint(tx.DeviceInfo)

	var flags []domain.RiskFlag
	score := 0.0

	// Check 1: device sharing across accounts
	if sharingScore, flag := d.checkDeviceSharing(fingerprint, tx.CustomerID); sharingScore > 0 {
		score += sharingScore
		flags = append(flags, *flag)
	}

	// Check 2: rapid device switching. Recording the sighting and reading
	// the prior window is one atomic step, so simultaneous evaluations
	// for one customer each see every earlier sighting.
	if tx.CustomerID != "" {
		rec := history.Record{Timestamp: ts, Fingerprint: fingerprint}
		window, err := d.store.AppendAndGet(ctx, tx.CustomerID, rec)
		if err != nil {
			return nil, fmt.Errorf("device history unavailable: %w", err)
		}
		if switchScore, flag := checkRapidSwitching(window, ts); switchScore > 0 {
			score += switchScore
			flags = append(flags, *flag)
		}
	}

	// Check 3: emulator / VM indicators
	if emulatorScore, emulatorFlags := detectEmulator(tx.DeviceInfo); emulatorScore > 0 {
		score += emulatorScore
		flags = append(flags, emulatorFlags...)
	}

	// Check 4: headless / automation tooling
	if headlessScore, flag := checkBrowserConsistency(tx.DeviceInfo); headlessScore > 0 {
		score += headlessScore
		flags = append(flags, *flag)
	}

	// Check 5: screen anomalies - reserved slot

	flags = dedupeFlags(flags)
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
		ProducerName:      DeviceFingerprintName,
	}, nil
}

// checkDeviceSharing flags a fingerprint already registered to another
// customer. First registration wins and is never overwritten.
func (d *DeviceFingerprinter) checkDeviceSharing(fingerprint, customerID string) (float64, *domain.RiskFlag) {
	if customerID == "" {
		return 0, nil
	}

	d.registryMu.Lock()
	defer d.registryMu.Unlock()

	owner, known := d.registry[fingerprint]
	if !known {
		d.registry[fingerprint] = customerID
		return 0, nil
	}

	if owner != customerID {
		d.log.DeviceSharingDetected(fingerprint, customerID, owner)
		return 35, &domain.RiskFlag{
			Code:   "DEVICE_SHARING",
			Detail: "same device used by multiple accounts",
		}
	}

	return 0, nil
}

// checkRapidSwitching counts distinct fingerprints seen for the customer
// in the trailing 24 hours
func checkRapidSwitching(window []history.Record, ts time.Time) (float64, *domain.RiskFlag) {
	if len(window) < 2 {
		return 0, nil
	}

	cutoff := ts.Add(-deviceSwitchWindow)
	unique := make(map[string]bool)
	for _, rec := range window {
		if rec.Timestamp.After(cutoff) {
			unique[rec.Fingerprint] = true
		}
	}

	switch {
	case len(unique) >= 5:
		return 30, &domain.RiskFlag{
			Code:   "RAPID_DEVICE_CHANGE",
			Detail: fmt.Sprintf("%d different devices in 24h", len(unique)),
		}
	case len(unique) >= 3:
		return 15, &domain.RiskFlag{
			Code:   "MULTIPLE_DEVICES",
			Detail: fmt.Sprintf("%d devices in 24h", len(unique)),
		}
	default:
		return 0, nil
	}
}

// detectEmulator matches virtualization vendor keywords against the user
// agent and platform, plus desktop resolutions claimed by mobile agents
func detectEmulator(info domain.DeviceInfo) (float64, []domain.RiskFlag) {
	var flags []domain.RiskFlag
	score := 0.0

	userAgent := strings.ToLower(info.Get("user_agent"))
	platform := strings.ToLower(info.Get("platform"))

	for _, indicator := range emulatorIndicators {
		if strings.Contains(userAgent, indicator) || strings.Contains(platform, indicator) {
			score += 40
			flags = append(flags, domain.RiskFlag{
				Code:   "EMULATOR_DETECTED",
				Detail: indicator,
			})
			break
		}
	}

	resolution := info.Get("screen_resolution")
	if desktopResolutions[resolution] && strings.Contains(userAgent, "mobile") {
		score += 15
		flags = append(flags, domain.RiskFlag{
			Code:   "RESOLUTION_MISMATCH",
			Detail: "desktop resolution on mobile device",
		})
	}

	return score, flags
}

// checkBrowserConsistency flags known headless and automation tokens in
// the user agent
func checkBrowserConsistency(info domain.DeviceInfo) (float64, *domain.RiskFlag) {
	userAgent := strings.ToLower(info.Get("user_agent"))

	for _, indicator := range headlessIndicators {
		if strings.Contains(userAgent, indicator) {
			return 25, &domain.RiskFlag{
				Code:   "HEADLESS_BROWSER",
				Detail: indicator,
			}
		}
	}

	return 0, nil
}
