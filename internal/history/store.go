// Package history provides per-customer rolling windows of past
// transaction observations. Two retention policies coexist: count-bounded
// windows (most recent N entries) and time-bounded windows (trailing
// duration). Entries are appended on every evaluation and pruned on write.
package history

import (
	"context"
	"time"

	"github.com/banking/fraud-detection-service/internal/domain"
)

// Record is a single stored observation for a customer
type Record struct {
	Timestamp   time.Time        `json:"timestamp"`
	Amount      float64          `json:"amount"`
	Location    *domain.Location `json:"location,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
}

// Store is the narrow capability each stateful evaluator owns for its
// per-customer history. Each operation is atomic for a single customer's
// window; evaluators that score against priors and then record the
// current transaction must use AppendAndGet so the read and the write
// form one critical section. Operations on different customers may
// proceed in parallel.
type Store interface {
	// Append stores a record for the customer and prunes the window
	// according to the store's retention policy.
	Append(ctx context.Context, customerID string, rec Record) error

	// AppendAndGet stores a record and returns the window as it was
	// before the append, oldest first, in one atomic step. Concurrent
	// calls for one customer serialize: each caller observes every
	// record appended before its own.
	AppendAndGet(ctx context.Context, customerID string, rec Record) ([]Record, error)

	// All returns the customer's current window, oldest first. A customer
	// with no history yields an empty slice, not an error.
	All(ctx context.Context, customerID string) ([]Record, error)

	// Clear drops the customer's window. Provided for external eviction;
	// the core never calls it during evaluation.
	Clear(ctx context.Context, customerID string) error
}

// CountSince returns how many records carry a timestamp strictly after the
// given instant
func CountSince(records []Record, since time.Time) int {
	count := 0
	for _, r := range records {
		if r.Timestamp.After(since) {
			count++
		}
	}
	return count
}

// Amounts extracts the amount series from a window, oldest first
func Amounts(records []Record) []float64 {
	amounts := make([]float64, 0, len(records))
	for _, r := range records {
		amounts = append(amounts, r.Amount)
	}
	return amounts
}
