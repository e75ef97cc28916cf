package model

import (
	"time"

	"github.com/google/uuid"
)

// ProgressSnapshot is a point-in-time view of overall completion state.
type ProgressSnapshot struct {
	TotalJobs     int64   `json:"total_jobs"`
	CompletedJobs int64   `json:"completed_jobs"`
	FailedJobs    int64   `json:"failed_jobs"`
	Percentage    float64 `json:"percentage"`
}

// Statistics aggregates engine-wide counters since startup.
type Statistics struct {
	CacheHits         uint64  `json:"cache_hits"`
	CacheMisses       uint64  `json:"cache_misses"`
	TotalSucceeded    uint64  `json:"total_succeeded"`
	TotalFailed       uint64  `json:"total_failed"`
	Retries           uint64  `json:"retries"`
	RateLimitTimeouts uint64  `json:"rate_limit_timeouts"`
	AverageLatencyMS  float64 `json:"average_latency_ms"`
}

// ShutdownMode selects what happens to outstanding work on shutdown.
type ShutdownMode string

const (
	// ShutdownDrain waits for pending and in-flight jobs to finish.
	ShutdownDrain ShutdownMode = "drain"
	// ShutdownCancelAll cancels pending jobs and returns promptly.
	ShutdownCancelAll ShutdownMode = "cancel_all"
)

// ParseShutdownMode converts the wire representation of a shutdown mode.
func ParseShutdownMode(s string) (ShutdownMode, bool) {
	switch ShutdownMode(s) {
	case ShutdownDrain, ShutdownCancelAll:
		return ShutdownMode(s), true
	}
	return "", false
}

// JobOutcome records how one job ended during shutdown.
type JobOutcome struct {
	JobID      uuid.UUID      `json:"job_id"`
	SubjectKey string         `json:"subject_key"`
	Type       CollectionType `json:"type"`
	Status     JobStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
}

// ShutdownReport is the manifest returned by Engine.Shutdown.
type ShutdownReport struct {
	Mode       ShutdownMode `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Drained    int          `json:"drained"`
	Cancelled  int          `json:"cancelled"`
	Failed     int          `json:"failed"`
	Jobs       []JobOutcome `json:"jobs"`
}
