package progress

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"parcelharvest/internal/model"
)

// Observer receives a snapshot after every completion or failure.
// Observers run synchronously on the reporting worker's goroutine, so a
// slow observer slows completion reporting.
type Observer func(model.ProgressSnapshot)

// Tracker aggregates per-run completion state. Counters are atomic so
// worker completion callbacks never contend on a lock shared with the
// queue; observers are guarded separately.
type Tracker struct {
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu        sync.RWMutex
	observers []Observer
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Register counts a newly submitted job.
func (t *Tracker) Register(jobID uuid.UUID) {
	t.total.Add(1)
	log.Trace().Str("job_id", jobID.String()).Msg("Job registered with progress tracker")
}

// MarkComplete counts a successful job and notifies observers.
func (t *Tracker) MarkComplete(jobID uuid.UUID) {
	t.completed.Add(1)
	t.notify()
}

// MarkFailed counts a failed or cancelled job and notifies observers.
func (t *Tracker) MarkFailed(jobID uuid.UUID) {
	t.failed.Add(1)
	t.notify()
}

// Snapshot returns the current state. Percentage is derived, never
// stored, so concurrent readers cannot observe drift.
func (t *Tracker) Snapshot() model.ProgressSnapshot {
	total := t.total.Load()
	completed := t.completed.Load()
	failed := t.failed.Load()

	var pct float64
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}

	return model.ProgressSnapshot{
		TotalJobs:     total,
		CompletedJobs: completed,
		FailedJobs:    failed,
		Percentage:    pct,
	}
}

// AddObserver registers a callback invoked on every state change.
func (t *Tracker) AddObserver(fn Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// Reset clears all counters, e.g. when the caller starts a new batch.
func (t *Tracker) Reset() {
	t.total.Store(0)
	t.completed.Store(0)
	t.failed.Store(0)
}

func (t *Tracker) notify() {
	t.mu.RLock()
	observers := t.observers
	t.mu.RUnlock()

	if len(observers) == 0 {
		return
	}
	snapshot := t.Snapshot()
	for _, fn := range observers {
		fn(snapshot)
	}
}
