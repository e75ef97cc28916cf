package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"parcelharvest/internal/archive"
	"parcelharvest/internal/cache"
	"parcelharvest/internal/config"
	"parcelharvest/internal/events"
	"parcelharvest/internal/model"
	"parcelharvest/internal/progress"
	"parcelharvest/internal/queue"
	"parcelharvest/internal/ratelimit"
	"parcelharvest/internal/worker"
)

// ErrEngineClosed is returned for submissions after shutdown began.
var ErrEngineClosed = queue.ErrClosed

// Options are the engine's injected collaborators. Everything is passed
// in explicitly so tests can build isolated engines; there are no
// process-wide singletons.
type Options struct {
	Config    config.EngineConfig
	Cache     cache.Cache
	Fetcher   worker.Fetcher
	Persister worker.Persister
	Publisher events.Publisher // optional
	Archiver  archive.Archiver // optional
}

// Engine is the collection engine facade: it owns the scheduler queue,
// the worker pool, and the maintenance schedule, and exposes the
// interface the GUI or CLI caller consumes. It decides when and in what
// order work runs, never what to search for.
type Engine struct {
	cfg     config.EngineConfig
	queue   *queue.Queue
	cache   cache.Cache
	limiter *ratelimit.Limiter
	tracker *progress.Tracker
	stats   *progress.Stats
	workers *worker.Pool
	cron    *cron.Cron

	workerCtx     context.Context
	cancelWorkers context.CancelFunc

	shutdownMu     sync.Mutex
	shutdownReport *model.ShutdownReport
}

// SubmitRequest is one collection request from the external caller.
type SubmitRequest struct {
	SubjectKey   string
	Priority     model.Priority
	Type         model.CollectionType
	Params       model.JobParams
	ForceRefresh bool
}

// New assembles an engine from its collaborators. Call Start to launch
// the workers.
func New(opts Options) *Engine {
	cfg := opts.Config
	cfg.ApplyDefaults()

	q := queue.New(cfg.QueueCapacity)
	tracker := progress.NewTracker()
	stats := progress.NewStats()
	limiter := ratelimit.New(cfg.RateLimit)

	pool := worker.NewPool(
		worker.Config{
			Workers:            cfg.WorkerCount,
			MaxAttempts:        cfg.Retry.MaxAttempts,
			BaseBackoff:        time.Duration(cfg.Retry.BaseBackoffMS) * time.Millisecond,
			RateAcquireTimeout: time.Duration(cfg.RateLimit.AcquireTimeoutMS) * time.Millisecond,
			DefaultTTL:         time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
			NegativeTTL:        time.Duration(cfg.Cache.NegativeTTLSeconds) * time.Second,
		},
		worker.Deps{
			Queue:     q,
			Cache:     opts.Cache,
			Limiter:   limiter,
			Fetcher:   opts.Fetcher,
			Persister: opts.Persister,
			Tracker:   tracker,
			Stats:     stats,
			Publisher: opts.Publisher,
			Archiver:  opts.Archiver,
		},
	)

	e := &Engine{
		cfg:     cfg,
		queue:   q,
		cache:   opts.Cache,
		limiter: limiter,
		tracker: tracker,
		stats:   stats,
		workers: pool,
		cron:    cron.New(),
	}
	// The worker context exists from construction so Shutdown is safe on
	// an engine that was never started.
	e.workerCtx, e.cancelWorkers = context.WithCancel(context.Background())
	e.registerMaintenance()
	return e
}

// registerMaintenance schedules the optional cache sweep and a periodic
// statistics log line.
func (e *Engine) registerMaintenance() {
	if mem, ok := e.cache.(*cache.MemoryCache); ok {
		spec := fmt.Sprintf("@every %dm", e.cfg.Cache.SweepIntervalMin)
		if _, err := e.cron.AddFunc(spec, func() {
			mem.Sweep()
		}); err != nil {
			log.Error().Err(err).Msg("Failed to schedule cache sweep")
		}
	}

	if _, err := e.cron.AddFunc("@every 5m", func() {
		s := e.stats.Snapshot()
		log.Info().
			Uint64("cache_hits", s.CacheHits).
			Uint64("cache_misses", s.CacheMisses).
			Uint64("succeeded", s.TotalSucceeded).
			Uint64("failed", s.TotalFailed).
			Float64("avg_latency_ms", s.AverageLatencyMS).
			Int("pending", e.queue.PendingCount()).
			Int("running", e.queue.RunningCount()).
			Msg("Engine statistics")
	}); err != nil {
		log.Error().Err(err).Msg("Failed to schedule statistics log")
	}
}

// Start launches the worker pool and the maintenance schedule.
func (e *Engine) Start() {
	e.workers.Start(e.workerCtx)
	e.cron.Start()
	log.Info().
		Int("workers", e.cfg.WorkerCount).
		Int("queue_capacity", e.cfg.QueueCapacity).
		Msg("Collection engine started")
}

// SubmitJob validates and enqueues a collection job, returning its ID.
// It fails with a DuplicateSubjectError when an equivalent job is
// already pending or running, unless ForceRefresh is set; force refresh
// also drops every cached entry for the subject first.
func (e *Engine) SubmitJob(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	if req.SubjectKey == "" {
		return uuid.Nil, errors.New("subject key is required")
	}
	if req.Params == nil {
		params, err := model.ParamsFromJSON(req.Type, nil)
		if err != nil {
			return uuid.Nil, err
		}
		req.Params = params
	}
	if err := req.Params.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid params: %w", err)
	}

	if req.ForceRefresh {
		if err := e.cache.InvalidateSubject(ctx, req.SubjectKey); err != nil {
			log.Warn().Err(err).Str("subject", req.SubjectKey).Msg("Cache invalidation on force refresh failed")
		}
	}

	job := model.NewJob(req.SubjectKey, req.Priority, req.Type, req.Params, req.ForceRefresh)
	superseded, err := e.queue.Submit(job, req.ForceRefresh)
	if superseded != nil {
		// The replaced pending job was registered; close it out so the
		// progress percentage still converges.
		e.tracker.MarkFailed(*superseded)
	}
	if err != nil {
		return uuid.Nil, err
	}

	e.tracker.Register(job.ID)
	return job.ID, nil
}

// CancelJob cancels a pending job. It returns false if the job is
// already running or terminal; in-flight cancellation is best-effort and
// only observed at the worker's next checkpoint.
func (e *Engine) CancelJob(jobID uuid.UUID) bool {
	if !e.queue.Cancel(jobID) {
		return false
	}
	e.tracker.MarkFailed(jobID)
	return true
}

// Progress returns the current completion snapshot.
func (e *Engine) Progress() model.ProgressSnapshot {
	return e.tracker.Snapshot()
}

// RegisterObserver adds a callback invoked synchronously on every job
// completion or failure. Callbacks must not block materially.
func (e *Engine) RegisterObserver(fn progress.Observer) {
	e.tracker.AddObserver(fn)
}

// Statistics returns engine-wide counters since startup.
func (e *Engine) Statistics() model.Statistics {
	return e.stats.Snapshot()
}

// Job returns a copy of one job by ID.
func (e *Engine) Job(jobID uuid.UUID) (*model.Job, bool) {
	return e.queue.Job(jobID)
}

// Jobs returns copies of every job submitted during this run.
func (e *Engine) Jobs() []*model.Job {
	return e.queue.Jobs()
}

// Shutdown stops the engine in two phases: submissions are rejected
// immediately, then pending work is drained or cancelled per mode. It
// blocks until every worker has exited and returns the manifest of what
// happened to each job. Calling it again returns the first report.
func (e *Engine) Shutdown(mode model.ShutdownMode) *model.ShutdownReport {
	e.shutdownMu.Lock()
	defer e.shutdownMu.Unlock()
	if e.shutdownReport != nil {
		return e.shutdownReport
	}

	log.Info().Str("mode", string(mode)).Msg("Engine shutdown initiated")
	started := time.Now()

	var outcomes []model.JobOutcome
	var cancelled []uuid.UUID
	if mode == model.ShutdownCancelAll {
		// Wake workers first so in-flight jobs observe cancellation at
		// their next checkpoint, then cancel everything still pending.
		e.cancelWorkers()
		outcomes, cancelled = e.queue.Close(false)
	} else {
		outcomes, cancelled = e.queue.Close(true)
		e.cancelWorkers()
	}
	e.workers.Wait()

	// In-flight jobs report their own terminal state through the worker;
	// jobs the queue cancelled while still pending never reach a worker,
	// so the tracker has to be told here or progress never converges.
	for _, id := range cancelled {
		e.tracker.MarkFailed(id)
	}

	cronCtx := e.cron.Stop()
	<-cronCtx.Done()

	report := &model.ShutdownReport{
		Mode:       mode,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Jobs:       outcomes,
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case model.StatusSucceeded:
			report.Drained++
		case model.StatusCancelled:
			report.Cancelled++
		case model.StatusFailed:
			report.Failed++
		}
	}

	log.Info().
		Str("mode", string(mode)).
		Int("drained", report.Drained).
		Int("cancelled", report.Cancelled).
		Int("failed", report.Failed).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Engine shutdown complete")

	e.shutdownReport = report
	return report
}
