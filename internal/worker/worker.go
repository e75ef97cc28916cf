package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"parcelharvest/internal/archive"
	"parcelharvest/internal/cache"
	"parcelharvest/internal/events"
	"parcelharvest/internal/model"
	"parcelharvest/internal/progress"
	"parcelharvest/internal/queue"
	"parcelharvest/internal/ratelimit"
	"parcelharvest/internal/remote"
)

// Fetcher executes one remote collection request.
type Fetcher interface {
	Fetch(ctx context.Context, req remote.Request) (*remote.Result, error)
}

// Persister writes one successful collection through the storage layer.
type Persister interface {
	SaveCollection(ctx context.Context, result *model.CollectionResult, attempts int) error
}

// Config is the per-pool tuning derived from engine config.
type Config struct {
	Workers            int
	MaxAttempts        int
	BaseBackoff        time.Duration
	RateAcquireTimeout time.Duration
	DefaultTTL         time.Duration
	NegativeTTL        time.Duration
}

// Deps are the collaborators a pool executes jobs against. Publisher and
// Archiver are optional.
type Deps struct {
	Queue     *queue.Queue
	Cache     cache.Cache
	Limiter   *ratelimit.Limiter
	Fetcher   Fetcher
	Persister Persister
	Tracker   *progress.Tracker
	Stats     *progress.Stats
	Publisher events.Publisher
	Archiver  archive.Archiver
}

// Pool runs N identical workers, each looping dequeue, execute, report.
// Every failure below this layer is captured onto the job; nothing
// escapes a worker's loop and kills it.
type Pool struct {
	cfg  Config
	deps Deps
	wg   sync.WaitGroup
}

// NewPool wires a pool; Start actually launches the workers.
func NewPool(cfg Config, deps Deps) *Pool {
	return &Pool{cfg: cfg, deps: deps}
}

// Start launches the workers. They exit when the queue closes or ctx is
// cancelled; Wait blocks until all of them have.
func (p *Pool) Start(ctx context.Context) {
	log.Info().Int("workers", p.cfg.Workers).Msg("Starting worker pool")
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log.Debug().Int("worker", id).Msg("Worker started")

	for {
		job, err := p.deps.Queue.Next(ctx)
		if err != nil {
			log.Debug().Int("worker", id).AnErr("reason", err).Msg("Worker stopping")
			return
		}
		p.safeExecute(ctx, job)
	}
}

// safeExecute guarantees a terminal report even if execution panics.
func (p *Pool) safeExecute(ctx context.Context, job *model.Job) {
	done := false
	finish := func(status model.JobStatus, result *model.CollectionResult, err error) {
		done = true
		p.finish(job, status, result, err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", job.ID.String()).
				Interface("panic", r).
				Msg("Worker recovered from panic during job execution")
			if !done {
				p.finish(job, model.StatusFailed, nil, fmt.Errorf("unexpected error: %v", r))
			}
		}
	}()

	p.execute(ctx, job, finish)
}

type finishFunc func(status model.JobStatus, result *model.CollectionResult, err error)

func (p *Pool) execute(ctx context.Context, job *model.Job, finish finishFunc) {
	key := job.Fingerprint()

	// Force refresh bypasses the cache read; the engine already
	// invalidated the subject's entries at submit time.
	if !job.ForceRefresh {
		if value, err := p.deps.Cache.Get(ctx, key); err == nil {
			p.deps.Stats.CacheHit()
			if cache.IsNegative(value) {
				finish(model.StatusFailed, nil, remote.ErrNotFound)
				return
			}
			finish(model.StatusSucceeded, &model.CollectionResult{
				JobID:      job.ID,
				SubjectKey: job.SubjectKey,
				Type:       job.Type,
				Payload:    value,
				FetchedAt:  time.Now(),
				FromCache:  true,
			}, nil)
			return
		}
		p.deps.Stats.CacheMiss()
	}

	req := remote.Request{Type: job.Type, SubjectKey: job.SubjectKey, Params: job.Params}

	var result *remote.Result
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			finish(model.StatusCancelled, nil, fmt.Errorf("cancelled before attempt %d", attempt))
			return
		}
		job.Attempts = attempt

		if err := p.deps.Limiter.Acquire(ctx, p.cfg.RateAcquireTimeout); err != nil {
			if ctx.Err() != nil {
				finish(model.StatusCancelled, nil, ctx.Err())
				return
			}
			p.deps.Stats.RateLimitTimeout()
			lastErr = err
			if !p.retryAfter(ctx, job, attempt, err) {
				break
			}
			continue
		}

		result, lastErr = p.deps.Fetcher.Fetch(ctx, req)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			finish(model.StatusCancelled, nil, ctx.Err())
			return
		}

		if errors.Is(lastErr, remote.ErrNotFound) {
			// Cache the negative result so repeated lookups for a
			// missing subject do not hammer the data source.
			if err := p.deps.Cache.Set(ctx, key, cache.NegativeEntry(), p.cfg.NegativeTTL, time.Now()); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Failed to cache negative result")
			}
			finish(model.StatusFailed, nil, lastErr)
			return
		}
		if !remote.IsTransient(lastErr) {
			finish(model.StatusFailed, nil, lastErr)
			return
		}
		if !p.retryAfter(ctx, job, attempt, lastErr) {
			break
		}
	}

	if lastErr != nil {
		log.Warn().
			Str("job_id", job.ID.String()).
			Int("attempts", job.Attempts).
			Err(lastErr).
			Msg("Job failed after exhausting retries")
		finish(model.StatusFailed, nil, fmt.Errorf("after %d attempts: %w", job.Attempts, lastErr))
		return
	}

	if err := p.deps.Cache.Set(ctx, key, result.Payload, p.cfg.DefaultTTL, result.FetchedAt); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache collection result")
	}

	collected := &model.CollectionResult{
		JobID:      job.ID,
		SubjectKey: job.SubjectKey,
		Type:       job.Type,
		Payload:    result.Payload,
		FetchedAt:  result.FetchedAt,
	}

	if err := p.deps.Persister.SaveCollection(ctx, collected, job.Attempts); err != nil {
		finish(model.StatusFailed, nil, fmt.Errorf("persist collection: %w", err))
		return
	}

	if p.deps.Archiver != nil {
		if _, err := p.deps.Archiver.Archive(ctx, collected); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Payload archive failed")
		}
	}

	finish(model.StatusSucceeded, collected, nil)
}

// retryAfter sleeps the exponential backoff with jitter for the given
// attempt. It returns false when the retry budget is spent or the
// context ended, in which case the caller stops retrying.
func (p *Pool) retryAfter(ctx context.Context, job *model.Job, attempt int, cause error) bool {
	if attempt >= p.cfg.MaxAttempts {
		return false
	}
	p.deps.Stats.Retry()

	backoff := p.cfg.BaseBackoff << (attempt - 1)
	backoff += time.Duration(rand.Int63n(int64(backoff)/2 + 1))

	log.Debug().
		Str("job_id", job.ID.String()).
		Int("attempt", attempt).
		Dur("backoff", backoff).
		Err(cause).
		Msg("Retrying after transient failure")

	select {
	case <-time.After(backoff):
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the terminal transition and reports it everywhere that
// listens: queue state, progress tracker, stats, and the optional event
// publisher.
func (p *Pool) finish(job *model.Job, status model.JobStatus, result *model.CollectionResult, jobErr error) {
	started := job.CreatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}

	p.deps.Queue.Finish(job.ID, status, result, jobErr)
	p.deps.Stats.ObserveLatency(time.Since(started))

	switch status {
	case model.StatusSucceeded:
		p.deps.Stats.Succeeded()
		p.deps.Tracker.MarkComplete(job.ID)
	default:
		p.deps.Stats.Failed()
		p.deps.Tracker.MarkFailed(job.ID)
	}

	if p.deps.Publisher != nil {
		ev := events.JobEvent{
			JobID:       job.ID.String(),
			SubjectKey:  job.SubjectKey,
			Type:        job.Type,
			Status:      status,
			Attempts:    job.Attempts,
			CompletedAt: time.Now(),
		}
		if jobErr != nil {
			ev.Error = jobErr.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.deps.Publisher.PublishJobEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Str("job_id", ev.JobID).Msg("Terminal event publish failed")
		}
		cancel()
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("subject", job.SubjectKey).
		Str("type", string(job.Type)).
		Str("status", string(status)).
		Int("attempts", job.Attempts).
		Msg("Job finished")
}
