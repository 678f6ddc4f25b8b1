package domain

import (
	"strings"
	"time"
)

// Location is a lat/lon coordinate pair
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PlanarDistanceKm returns the simplified planar distance between two
// coordinates in kilometers. Intentionally not a geodesic: every distance
// threshold in the evaluators was calibrated against this exact metric.
func (l Location) PlanarDistanceKm(other Location) float64 {
	dLat := l.Lat - other.Lat
	if dLat < 0 {
		dLat = -dLat
	}
	dLon := l.Lon - other.Lon
	if dLon < 0 {
		dLon = -dLon
	}
	return dLat*111 + dLon*111
}

// DeviceInfo carries device attributes captured from transaction headers
type DeviceInfo map[string]string

// Get returns the attribute value or empty string when absent
func (d DeviceInfo) Get(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// Transaction is the immutable input of an evaluation
type Transaction struct {
	ID               string     `json:"transaction_id"`
	CustomerID       string     `json:"customer_id"`
	Amount           float64    `json:"amount"`
	Currency         string     `json:"currency"`
	Merchant         string     `json:"merchant"`
	MerchantCategory string     `json:"merchant_category,omitempty"`
	Location         *Location  `json:"location,omitempty"`
	Timestamp        time.Time  `json:"timestamp,omitempty"`
	CardType         string     `json:"card_type,omitempty"`
	Channel          string     `json:"channel,omitempty"`
	DeviceID         string     `json:"device_id,omitempty"`
	DeviceInfo       DeviceInfo `json:"device_info,omitempty"`
}

// EffectiveTimestamp returns the transaction timestamp, defaulting to the
// evaluation time when the caller did not supply one
func (t *Transaction) EffectiveTimestamp() time.Time {
	if t.Timestamp.IsZero() {
		return time.Now()
	}
	return t.Timestamp
}

// MerchantContains reports a case-insensitive substring match on the
// merchant name
func (t *Transaction) MerchantContains(keyword string) bool {
	return strings.Contains(strings.ToLower(t.Merchant), keyword)
}

// CustomerProfile holds caller-supplied baseline data about the customer
type CustomerProfile struct {
	AvgTransactionAmount  float64 `json:"avg_transaction_amount"`
	MaxTransactionAmount  float64 `json:"max_transaction_amount"`
	UsualTransactionHours []int   `json:"usual_transaction_hours,omitempty"`
}

// HasUsualHour reports whether the given hour is among the customer's
// usual transaction hours. An empty list falls back to 08:00-22:00.
func (p *CustomerProfile) HasUsualHour(hour int) bool {
	hours := p.UsualTransactionHours
	if len(hours) == 0 {
		return hour >= 8 && hour <= 22
	}
	for _, h := range hours {
		if h == hour {
			return true
		}
	}
	return false
}

// IdentityDocument holds document fields used for identity checks
type IdentityDocument struct {
	Type       string `json:"type,omitempty"`
	Number     string `json:"number,omitempty"`
	Name       string `json:"name,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
}

// IdentityBiometric holds biometric verification results
type IdentityBiometric struct {
	FaceMatchScore   *float64 `json:"face_match_score,omitempty"`
	DeepfakeDetected bool     `json:"deepfake_detected,omitempty"`
}

// IdentityPersonal holds declared personal data
type IdentityPersonal struct {
	Name string `json:"name,omitempty"`
}

// IdentityData groups the identity-verification inputs
type IdentityData struct {
	Document  *IdentityDocument  `json:"document,omitempty"`
	Biometric *IdentityBiometric `json:"biometric,omitempty"`
	Personal  *IdentityPersonal  `json:"personal,omitempty"`
}

// EvaluationContext is optional caller-supplied context. The core never
// fetches it itself.
type EvaluationContext struct {
	CustomerProfile *CustomerProfile `json:"customer_profile,omitempty"`
	IdentityData    *IdentityData    `json:"identity_data,omitempty"`
}
