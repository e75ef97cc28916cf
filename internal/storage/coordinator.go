package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"parcelharvest/internal/model"
)

// Coordinator executes storage units of work: each one runs on a pooled
// connection inside an explicit transaction, and the lease is released on
// every path out.
type Coordinator struct {
	pool *Pool
}

// NewCoordinator wraps a pool.
func NewCoordinator(pool *Pool) *Coordinator {
	return &Coordinator{pool: pool}
}

// WithTx acquires a lease, opens a transaction, runs fn, then commits on
// success or aborts on error. The lease is released either way.
func (c *Coordinator) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	lease, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(lease)

	tx, err := lease.Conn().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if abortErr := tx.Abort(ctx); abortErr != nil {
			log.Error().Err(abortErr).Msg("Error aborting storage transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SaveCollection persists one successful collection: the subject record
// upsert and its history row share a single transaction.
func (c *Coordinator) SaveCollection(ctx context.Context, result *model.CollectionResult, attempts int) error {
	return c.SaveCollections(ctx, []*model.CollectionResult{result}, attempts)
}

// SaveCollections persists a batch of results in one transaction, one
// transaction per batch rather than per row to keep pool contention low.
func (c *Coordinator) SaveCollections(ctx context.Context, results []*model.CollectionResult, attempts int) error {
	if len(results) == 0 {
		return nil
	}

	start := time.Now()
	err := c.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		history := make([]model.HistoryEntry, 0, len(results))
		for _, result := range results {
			rec := &model.SubjectRecord{
				SubjectKey:  result.SubjectKey,
				Type:        result.Type,
				Payload:     result.Payload,
				JobID:       result.JobID.String(),
				CollectedAt: result.FetchedAt,
				UpdatedAt:   time.Now(),
			}
			if err := tx.UpsertSubject(ctx, rec); err != nil {
				return fmt.Errorf("upsert subject %s: %w", result.SubjectKey, err)
			}
			history = append(history, model.HistoryEntry{
				SubjectKey:  result.SubjectKey,
				Type:        result.Type,
				JobID:       result.JobID.String(),
				Attempts:    attempts,
				PayloadSize: len(result.Payload),
				CollectedAt: result.FetchedAt,
			})
		}
		return tx.InsertHistory(ctx, history)
	})

	if err != nil {
		return err
	}

	log.Debug().
		Int("results", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Persisted collection batch")
	return nil
}
