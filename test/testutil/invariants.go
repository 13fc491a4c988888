package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/segpool/types"
)

// Delivery is one handler invocation seen by a Recorder.
type Delivery struct {
	Owner    string
	Position int64
	Key      string
	Replay   bool
}

// Recorder is an event handler shared by several coordinators that records
// every delivery together with the process that handled it.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	inFlight   map[string]string
	conflicts  []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{inFlight: make(map[string]string)}
}

// For returns the handler a coordinator with the given owner identity uses.
//
// A key handled by two processes at the same time is recorded as a conflict.
func (r *Recorder) For(owner string) types.EventHandler {
	return types.HandlerFunc(func(_ context.Context, ev types.Event) error {
		pos, _ := ev.Token.Position()

		r.mu.Lock()
		if other, busy := r.inFlight[ev.PartitionKey]; busy && other != owner {
			r.conflicts = append(r.conflicts, ev.PartitionKey)
		}
		r.inFlight[ev.PartitionKey] = owner
		r.mu.Unlock()

		time.Sleep(time.Millisecond)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.inFlight[ev.PartitionKey] == owner {
			delete(r.inFlight, ev.PartitionKey)
		}
		r.deliveries = append(r.deliveries, Delivery{Owner: owner, Position: pos, Key: ev.PartitionKey, Replay: ev.Replay})

		return nil
	})
}

// Distinct returns how many different positions were delivered.
func (r *Recorder) Distinct() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int64]struct{}, len(r.deliveries))
	for _, d := range r.deliveries {
		seen[d.Position] = struct{}{}
	}

	return len(seen)
}

// Owners returns the number of deliveries per process.
func (r *Recorder) Owners() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	owners := make(map[string]int)
	for _, d := range r.deliveries {
		owners[d.Owner]++
	}

	return owners
}

// AssertNoConcurrentKeys fails if two processes handled one key at the same time.
func (r *Recorder) AssertNoConcurrentKeys(t *testing.T) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conflicts) > 0 {
		t.Fatalf("keys handled concurrently by two processes: %v", r.conflicts)
	}
}

// AssertKeyOrder verifies that the first delivery of every position happens
// in stream order per key. Redeliveries after a takeover may repeat earlier
// positions, but a new position never appears before an older one.
func (r *Recorder) AssertKeyOrder(t *testing.T) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	last := make(map[string]int64)
	seen := make(map[int64]struct{})
	for _, d := range r.deliveries {
		if _, dup := seen[d.Position]; dup {
			continue
		}
		seen[d.Position] = struct{}{}

		if prev, ok := last[d.Key]; ok && d.Position < prev {
			t.Fatalf("key %s: position %d delivered after %d", d.Key, d.Position, prev)
		}
		last[d.Key] = d.Position
	}
}

// AssertExactlyOnce verifies that n distinct positions were each delivered exactly once.
func (r *Recorder) AssertExactlyOnce(t *testing.T, n int) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[int64]int, n)
	for _, d := range r.deliveries {
		counts[d.Position]++
	}
	if len(counts) != n {
		t.Fatalf("delivered %d distinct positions, want %d", len(counts), n)
	}
	for pos, c := range counts {
		if c != 1 {
			t.Fatalf("position %d delivered %d times", pos, c)
		}
	}
}
