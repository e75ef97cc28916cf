package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

// ErrPoolExhausted is returned when no connection frees up within the
// acquire timeout. The job that hit it fails; the worker survives.
var ErrPoolExhausted = errors.New("storage pool exhausted")

// ErrPoolClosed is returned for acquisitions after Close.
var ErrPoolClosed = errors.New("storage pool closed")

// Conn is one reusable storage connection. Connections are owned by the
// pool; callers only ever see them through a Lease.
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx is an open storage transaction.
type Tx interface {
	UpsertSubject(ctx context.Context, rec *model.SubjectRecord) error
	InsertHistory(ctx context.Context, entries []model.HistoryEntry) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Factory creates a new connection when the pool grows toward its cap.
type Factory func(ctx context.Context) (Conn, error)

// Lease is a borrowed connection. It is held by exactly one caller and
// must be released, on error paths included, before the pool considers
// the capacity free again.
type Lease struct {
	conn       Conn
	acquiredAt time.Time
	pool       *Pool
	released   atomic.Bool
}

// Conn exposes the leased connection.
func (l *Lease) Conn() Conn { return l.conn }

// AcquiredAt reports when the lease was handed out.
func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// Pool is a bounded pool of storage connections. Connections are created
// lazily up to MaxConnections and reused in LIFO order.
type Pool struct {
	factory Factory
	timeout time.Duration
	sem     chan struct{}

	mu     sync.Mutex
	idle   []Conn
	closed bool
}

// NewPool creates a pool over factory with limits from cfg. A zero or
// negative acquire timeout falls back to the config default rather than
// producing a timer that expires immediately.
func NewPool(factory Factory, cfg config.PoolConfig) *Pool {
	timeout := time.Duration(cfg.AcquireTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	log.Info().
		Int("max_connections", cfg.MaxConnections).
		Dur("acquire_timeout", timeout).
		Msg("Initializing storage connection pool")

	return &Pool{
		factory: factory,
		timeout: timeout,
		sem:     make(chan struct{}, cfg.MaxConnections),
	}
}

// Acquire blocks until a connection is free or the configured timeout
// elapses, returning ErrPoolExhausted on timeout.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	start := time.Now()
	select {
	case p.sem <- struct{}{}:
	case <-timer.C:
		log.Warn().
			Dur("waited", time.Since(start)).
			Int("max_connections", cap(p.sem)).
			Msg("Storage pool acquire timed out")
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		<-p.sem
		return nil, err
	}

	return &Lease{conn: conn, acquiredAt: time.Now(), pool: p}, nil
}

func (p *Pool) checkout(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	return p.factory(ctx)
}

// Release returns the leased connection for reuse. Releasing twice is
// logged and ignored; it never corrupts pool accounting.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}
	if !l.released.CompareAndSwap(false, true) {
		log.Warn().
			Dur("held_for", time.Since(l.acquiredAt)).
			Msg("Double release of storage lease ignored")
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if err := l.conn.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Error closing connection released into closed pool")
		}
	} else {
		p.idle = append(p.idle, l.conn)
		p.mu.Unlock()
	}

	<-p.sem
}

// Close shuts the pool down and closes idle connections. Leases still out
// are closed as they come back.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, conn := range idle {
		if err := conn.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	log.Info().Int("closed_idle", len(idle)).Msg("Storage pool closed")
	return firstErr
}
