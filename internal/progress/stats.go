package progress

import (
	"sync/atomic"
	"time"

	"parcelharvest/internal/model"
)

// Stats collects engine-wide counters. All fields are atomic; Snapshot
// is a consistent-enough read for polling callers.
type Stats struct {
	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	succeeded         atomic.Uint64
	failed            atomic.Uint64
	retries           atomic.Uint64
	rateLimitTimeouts atomic.Uint64

	latencyTotalNS atomic.Int64
	latencyCount   atomic.Int64
}

// NewStats creates a zeroed collector.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) CacheHit()         { s.cacheHits.Add(1) }
func (s *Stats) CacheMiss()        { s.cacheMisses.Add(1) }
func (s *Stats) Succeeded()        { s.succeeded.Add(1) }
func (s *Stats) Failed()           { s.failed.Add(1) }
func (s *Stats) Retry()            { s.retries.Add(1) }
func (s *Stats) RateLimitTimeout() { s.rateLimitTimeouts.Add(1) }

// ObserveLatency records one job's start-to-terminal duration.
func (s *Stats) ObserveLatency(d time.Duration) {
	s.latencyTotalNS.Add(int64(d))
	s.latencyCount.Add(1)
}

// Snapshot renders the counters as the external statistics document.
func (s *Stats) Snapshot() model.Statistics {
	var avgMS float64
	if count := s.latencyCount.Load(); count > 0 {
		avgMS = float64(s.latencyTotalNS.Load()) / float64(count) / float64(time.Millisecond)
	}

	return model.Statistics{
		CacheHits:         s.cacheHits.Load(),
		CacheMisses:       s.cacheMisses.Load(),
		TotalSucceeded:    s.succeeded.Load(),
		TotalFailed:       s.failed.Load(),
		Retries:           s.retries.Load(),
		RateLimitTimeouts: s.rateLimitTimeouts.Load(),
		AverageLatencyMS:  avgMS,
	}
}
