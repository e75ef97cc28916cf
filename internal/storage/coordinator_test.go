package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelharvest/internal/config"
	"parcelharvest/internal/model"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	pool := NewPool(func(context.Context) (Conn, error) {
		return conn, nil
	}, config.PoolConfig{MaxConnections: 1, AcquireTimeoutMS: 100})
	return NewCoordinator(pool), conn
}

func TestCoordinator_WithTxCommits(t *testing.T) {
	coordinator, conn := newTestCoordinator(t)

	err := coordinator.WithTx(context.Background(), func(_ context.Context, tx Tx) error {
		return tx.UpsertSubject(context.Background(), &model.SubjectRecord{SubjectKey: "APN-123"})
	})
	require.NoError(t, err)

	require.NotNil(t, conn.tx)
	assert.True(t, conn.tx.committed)
	assert.False(t, conn.tx.aborted)

	// The lease went back; a second unit of work runs on the same conn.
	require.NoError(t, coordinator.WithTx(context.Background(), func(context.Context, Tx) error {
		return nil
	}))
	assert.Equal(t, int32(2), conn.begins.Load())
}

func TestCoordinator_WithTxAbortsOnError(t *testing.T) {
	coordinator, conn := newTestCoordinator(t)

	boom := errors.New("write rejected")
	err := coordinator.WithTx(context.Background(), func(context.Context, Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NotNil(t, conn.tx)
	assert.True(t, conn.tx.aborted)
	assert.False(t, conn.tx.committed)

	// Error path must release the lease too.
	require.NoError(t, coordinator.WithTx(context.Background(), func(context.Context, Tx) error {
		return nil
	}))
}

func TestCoordinator_SaveCollection(t *testing.T) {
	coordinator, conn := newTestCoordinator(t)

	jobID := uuid.New()
	fetchedAt := time.Now().Add(-time.Second)
	result := &model.CollectionResult{
		JobID:      jobID,
		SubjectKey: "APN-123",
		Type:       model.CollectionProperty,
		Payload:    []byte(`{"sqft":1200}`),
		FetchedAt:  fetchedAt,
	}

	require.NoError(t, coordinator.SaveCollection(context.Background(), result, 2))

	require.NotNil(t, conn.tx)
	assert.True(t, conn.tx.committed)

	require.Len(t, conn.tx.subjects, 1)
	rec := conn.tx.subjects[0]
	assert.Equal(t, "APN-123", rec.SubjectKey)
	assert.Equal(t, model.CollectionProperty, rec.Type)
	assert.Equal(t, jobID.String(), rec.JobID)
	assert.Equal(t, fetchedAt, rec.CollectedAt)

	require.Len(t, conn.tx.history, 1)
	entry := conn.tx.history[0]
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, len(result.Payload), entry.PayloadSize)
}

func TestCoordinator_SaveCollectionsSingleTransaction(t *testing.T) {
	coordinator, conn := newTestCoordinator(t)

	results := []*model.CollectionResult{
		{JobID: uuid.New(), SubjectKey: "APN-1", Type: model.CollectionProperty, Payload: []byte("a"), FetchedAt: time.Now()},
		{JobID: uuid.New(), SubjectKey: "APN-2", Type: model.CollectionTaxRecords, Payload: []byte("b"), FetchedAt: time.Now()},
	}

	require.NoError(t, coordinator.SaveCollections(context.Background(), results, 1))

	assert.Equal(t, int32(1), conn.begins.Load(), "batch must share one transaction")
	assert.Len(t, conn.tx.subjects, 2)
	assert.Len(t, conn.tx.history, 2)
}

func TestCoordinator_SaveCollectionsEmptyBatch(t *testing.T) {
	coordinator, conn := newTestCoordinator(t)

	require.NoError(t, coordinator.SaveCollections(context.Background(), nil, 0))
	assert.Equal(t, int32(0), conn.begins.Load())
}
