package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"parcelharvest/internal/model"
)

// Queue is the scheduler's priority queue of collection jobs. It owns
// every job lifecycle transition up to RUNNING; the worker that dequeued
// a job owns its terminal transition, reported back through Finish.
//
// Dedup: at most one PENDING-or-RUNNING job exists per (collection type,
// subject key) pair, and two jobs for the same subject never run
// concurrently regardless of collection type.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond // signalled on submit and on subject release
	idle     *sync.Cond // signalled when a running job finishes

	pending entryHeap
	byID    map[uuid.UUID]*entry     // pending entries only
	jobs    map[uuid.UUID]*model.Job // every job ever submitted this run
	active  map[string]uuid.UUID     // dedup key -> newest pending/running job
	running map[string]uuid.UUID     // subject key -> running job

	seq       uint64
	capacity  int // 0 = unbounded
	closed    bool
	cancelled bool // close requested cancellation of pending work
}

// New creates an empty queue. capacity bounds the number of pending jobs;
// 0 means unbounded.
func New(capacity int) *Queue {
	q := &Queue{
		byID:     make(map[uuid.UUID]*entry),
		jobs:     make(map[uuid.UUID]*model.Job),
		active:   make(map[string]uuid.UUID),
		running:  make(map[string]uuid.UUID),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

func dedupKey(ct model.CollectionType, subjectKey string) string {
	return string(ct) + "|" + subjectKey
}

// Submit admits a pending job. Without force, an equivalent pending or
// running job fails the submission with DuplicateSubjectError. With
// force, a pending duplicate is cancelled and replaced — its ID is
// returned so the caller can account for it — while a running duplicate
// stays in flight and the new job waits its turn behind it.
func (q *Queue) Submit(job *model.Job, force bool) (superseded *uuid.UUID, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	key := dedupKey(job.Type, job.SubjectKey)
	if existingID, ok := q.active[key]; ok {
		if !force {
			return nil, &DuplicateSubjectError{
				Type:       job.Type,
				SubjectKey: job.SubjectKey,
				ExistingID: existingID,
			}
		}
		if e, pending := q.byID[existingID]; pending {
			q.cancelLocked(e, "superseded by force refresh")
			id := existingID
			superseded = &id
		}
	}

	if q.capacity > 0 && len(q.pending) >= q.capacity {
		return superseded, fmt.Errorf("%w (%d pending)", ErrQueueFull, len(q.pending))
	}

	q.seq++
	e := &entry{job: job, seq: q.seq}
	heap.Push(&q.pending, e)
	q.byID[job.ID] = e
	q.jobs[job.ID] = job
	q.active[key] = job.ID

	log.Debug().
		Str("job_id", job.ID.String()).
		Str("subject", job.SubjectKey).
		Str("type", string(job.Type)).
		Str("priority", job.Priority.String()).
		Int("pending", len(q.pending)).
		Msg("Job submitted")

	q.notEmpty.Signal()
	return superseded, nil
}

// Next blocks until a pending job whose subject is not already running is
// available, atomically marks it RUNNING, and returns it. It returns
// ErrClosed once the queue is shut down and no more work will be served,
// and ctx.Err() if the caller's context ends first.
func (q *Queue) Next(ctx context.Context) (*model.Job, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e := q.popRunnableLocked(); e != nil {
			job := e.job
			now := time.Now()
			job.Status = model.StatusRunning
			job.StartedAt = &now
			q.running[job.SubjectKey] = job.ID

			log.Debug().
				Str("job_id", job.ID.String()).
				Str("subject", job.SubjectKey).
				Dur("queued_for", now.Sub(job.CreatedAt)).
				Msg("Job dequeued")
			return job, nil
		}
		if q.closed && (q.cancelled || len(q.pending) == 0) {
			return nil, ErrClosed
		}
		q.notEmpty.Wait()
	}
}

// popRunnableLocked extracts the highest-priority entry whose subject has
// no running job. Entries skipped over are re-pushed with their original
// sequence numbers so band-internal FIFO order is preserved.
func (q *Queue) popRunnableLocked() *entry {
	var skipped []*entry
	var found *entry
	for len(q.pending) > 0 {
		e := heap.Pop(&q.pending).(*entry)
		if _, busy := q.running[e.job.SubjectKey]; busy {
			skipped = append(skipped, e)
			continue
		}
		found = e
		break
	}
	for _, e := range skipped {
		heap.Push(&q.pending, e)
	}
	if found != nil {
		delete(q.byID, found.job.ID)
	}
	return found
}

// Cancel cancels a pending job. It returns false if the job is unknown,
// already running, or terminal; in-flight work is not interrupted here.
func (q *Queue) Cancel(jobID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[jobID]
	if !ok {
		return false
	}
	q.cancelLocked(e, "cancelled by caller")
	q.idle.Broadcast()
	return true
}

func (q *Queue) cancelLocked(e *entry, reason string) {
	heap.Remove(&q.pending, e.index)
	delete(q.byID, e.job.ID)

	key := dedupKey(e.job.Type, e.job.SubjectKey)
	if q.active[key] == e.job.ID {
		delete(q.active, key)
	}

	now := time.Now()
	e.job.Status = model.StatusCancelled
	e.job.CompletedAt = &now
	e.job.Error = reason

	log.Debug().
		Str("job_id", e.job.ID.String()).
		Str("subject", e.job.SubjectKey).
		Str("reason", reason).
		Msg("Job cancelled")
}

// Finish records the terminal outcome of a running job and releases its
// subject so queued work for the same subject can proceed.
func (q *Queue) Finish(jobID uuid.UUID, status model.JobStatus, result *model.CollectionResult, jobErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.StatusRunning {
		log.Warn().Str("job_id", jobID.String()).Msg("Finish called for job that is not running")
		return
	}

	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	job.Result = result
	if jobErr != nil {
		job.Error = jobErr.Error()
	}

	if q.running[job.SubjectKey] == jobID {
		delete(q.running, job.SubjectKey)
	}
	key := dedupKey(job.Type, job.SubjectKey)
	if q.active[key] == jobID {
		delete(q.active, key)
	}

	// The released subject may unblock a pending job for the same key.
	q.notEmpty.Broadcast()
	q.idle.Broadcast()
}

// Close shuts the queue down in two phases: new submissions are rejected
// immediately, then pending work is either drained to completion or
// cancelled, per drain. It blocks until every job reachable at close time
// is terminal and returns the manifest of what happened to each job,
// plus the IDs of the pending jobs this call cancelled so the caller can
// reconcile its own accounting for them.
func (q *Queue) Close(drain bool) (outcomes []model.JobOutcome, cancelled []uuid.UUID) {
	q.mu.Lock()

	if !q.closed {
		q.closed = true
		q.cancelled = !drain
		if !drain {
			for len(q.pending) > 0 {
				e := q.pending[0]
				q.cancelLocked(e, "cancelled by shutdown")
				cancelled = append(cancelled, e.job.ID)
			}
		}
		q.notEmpty.Broadcast()
	}

	for len(q.pending) > 0 || len(q.running) > 0 {
		q.idle.Wait()
	}

	outcomes = make([]model.JobOutcome, 0, len(q.jobs))
	for _, job := range q.jobs {
		outcomes = append(outcomes, model.JobOutcome{
			JobID:      job.ID,
			SubjectKey: job.SubjectKey,
			Type:       job.Type,
			Status:     job.Status,
			Error:      job.Error,
		})
	}
	q.mu.Unlock()

	log.Info().
		Bool("drain", drain).
		Int("jobs", len(outcomes)).
		Int("cancelled", len(cancelled)).
		Msg("Queue closed")
	return outcomes, cancelled
}

// Job returns a copy of a job by ID.
func (q *Queue) Job(jobID uuid.UUID) (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Jobs returns copies of every job submitted during this run.
func (q *Queue) Jobs() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// PendingCount reports how many jobs are waiting to run.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunningCount reports how many jobs are currently executing.
func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}
