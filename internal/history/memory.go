package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process Store. Windows are created lazily
// on first append and never destroyed in-process; Clear provides external
// eviction. Each customer's window has its own lock so concurrent
// evaluations for different customers never contend.
type MemoryStore struct {
	maxEntries int           // 0 = unbounded by count
	maxAge     time.Duration // 0 = unbounded by age

	mu      sync.RWMutex
	windows map[string]*customerWindow
}

type customerWindow struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore creates a store with the given retention policy. Either
// bound may be zero to disable it.
func NewMemoryStore(maxEntries int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxEntries: maxEntries,
		maxAge:     maxAge,
		windows:    make(map[string]*customerWindow),
	}
}

func (s *MemoryStore) window(customerID string) *customerWindow {
	s.mu.RLock()
	w, ok := s.windows[customerID]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[customerID]; ok {
		return w
	}
	w = &customerWindow{}
	s.windows[customerID] = w
	return w
}

// Append stores a record and prunes the window
func (s *MemoryStore) Append(_ context.Context, customerID string, rec Record) error {
	w := s.window(customerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	s.appendLocked(w, rec)
	return nil
}

// AppendAndGet stores a record and returns the prior window in one
// critical section, so simultaneous evaluations for one customer each see
// every earlier append
func (s *MemoryStore) AppendAndGet(_ context.Context, customerID string, rec Record) ([]Record, error) {
	w := s.window(customerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	prior := make([]Record, len(w.records))
	copy(prior, w.records)

	s.appendLocked(w, rec)
	return prior, nil
}

// appendLocked appends and prunes; the caller holds the window lock
func (s *MemoryStore) appendLocked(w *customerWindow, rec Record) {
	w.records = append(w.records, rec)

	if s.maxAge > 0 {
		// Prune relative to the newest record so replayed transactions
		// evaluate deterministically.
		cutoff := rec.Timestamp.Add(-s.maxAge)
		kept := w.records[:0]
		for _, r := range w.records {
			if r.Timestamp.After(cutoff) {
				kept = append(kept, r)
			}
		}
		w.records = kept
	}

	if s.maxEntries > 0 && len(w.records) > s.maxEntries {
		w.records = w.records[len(w.records)-s.maxEntries:]
	}
}

// All returns a copy of the customer's window, oldest first
func (s *MemoryStore) All(_ context.Context, customerID string) ([]Record, error) {
	s.mu.RLock()
	w, ok := s.windows[customerID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Record, len(w.records))
	copy(out, w.records)
	return out, nil
}

// Clear drops the customer's window
func (s *MemoryStore) Clear(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, customerID)
	return nil
}
