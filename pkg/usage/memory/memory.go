// Package memory provides an in-memory usage recorder backed by a
// bounded ring buffer. Suitable for single-instance deployments where
// usage history does not need to survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/vermittler-dev/vermittler/pkg/usage"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 10000

// Recorder keeps the most recent usage records in memory.
type Recorder struct {
	mu      sync.Mutex
	records []usage.Record
	next    int
	full    bool
}

var _ usage.Recorder = (*Recorder)(nil)

// New creates a recorder holding at most capacity records. Older
// records are overwritten once the ring is full.
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{records: make([]usage.Record, capacity)}
}

// Record stores one record, evicting the oldest when full.
func (r *Recorder) Record(_ context.Context, rec usage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.next] = rec
	r.next++
	if r.next == len(r.records) {
		r.next = 0
		r.full = true
	}
	return nil
}

// Close is a no-op for the in-memory recorder.
func (r *Recorder) Close() {}

// Recent returns up to n records, newest first.
func (r *Recorder) Recent(n int) []usage.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.records)
	}
	if n > size {
		n = size
	}

	out := make([]usage.Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.records)) % len(r.records)
		out = append(out, r.records[idx])
	}
	return out
}

// Totals aggregates total tokens by model over everything in the ring.
func (r *Recorder) Totals() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.records)
	}

	totals := make(map[string]int64)
	for i := 0; i < size; i++ {
		rec := r.records[i]
		totals[rec.Model] += rec.TotalTokens
	}
	return totals
}
