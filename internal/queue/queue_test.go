package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelharvest/internal/model"
)

func submitJob(t *testing.T, q *Queue, subject string, priority model.Priority, ct model.CollectionType) *model.Job {
	t.Helper()
	job := model.NewJob(subject, priority, ct, model.PropertyParams{}, false)
	_, err := q.Submit(job, false)
	require.NoError(t, err)
	return job
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := New(0)

	low := submitJob(t, q, "parcel-low", model.PriorityLow, model.CollectionProperty)
	normal := submitJob(t, q, "parcel-normal", model.PriorityNormal, model.CollectionProperty)
	critical := submitJob(t, q, "parcel-critical", model.PriorityCritical, model.CollectionProperty)
	high := submitJob(t, q, "parcel-high", model.PriorityHigh, model.CollectionProperty)

	var order []string
	for i := 0; i < 4; i++ {
		job, err := q.Next(context.Background())
		require.NoError(t, err)
		order = append(order, job.SubjectKey)
		q.Finish(job.ID, model.StatusSucceeded, nil, nil)
	}

	assert.Equal(t, []string{
		critical.SubjectKey, high.SubjectKey, normal.SubjectKey, low.SubjectKey,
	}, order)
}

func TestQueue_FIFOWithinPriorityBand(t *testing.T) {
	q := New(0)

	first := submitJob(t, q, "parcel-1", model.PriorityNormal, model.CollectionProperty)
	second := submitJob(t, q, "parcel-2", model.PriorityNormal, model.CollectionProperty)
	third := submitJob(t, q, "parcel-3", model.PriorityNormal, model.CollectionProperty)

	var order []string
	for i := 0; i < 3; i++ {
		job, err := q.Next(context.Background())
		require.NoError(t, err)
		order = append(order, job.SubjectKey)
		q.Finish(job.ID, model.StatusSucceeded, nil, nil)
	}

	assert.Equal(t, []string{first.SubjectKey, second.SubjectKey, third.SubjectKey}, order)
}

func TestQueue_DuplicateSubject(t *testing.T) {
	q := New(0)

	submitJob(t, q, "parcel-9", model.PriorityNormal, model.CollectionProperty)

	dup := model.NewJob("parcel-9", model.PriorityNormal, model.CollectionProperty, model.PropertyParams{}, false)
	_, err := q.Submit(dup, false)
	require.Error(t, err)
	assert.True(t, IsDuplicateSubject(err))

	var dupErr *DuplicateSubjectError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, "parcel-9", dupErr.SubjectKey)

	// Different collection type for the same subject is not a duplicate.
	other := model.NewJob("parcel-9", model.PriorityNormal, model.CollectionTaxRecords, model.TaxRecordParams{}, false)
	_, err = q.Submit(other, false)
	assert.NoError(t, err)
}

func TestQueue_ForceSupersedesPending(t *testing.T) {
	q := New(0)

	original := submitJob(t, q, "parcel-9", model.PriorityNormal, model.CollectionProperty)

	replacement := model.NewJob("parcel-9", model.PriorityNormal, model.CollectionProperty, model.PropertyParams{}, true)
	superseded, err := q.Submit(replacement, true)
	require.NoError(t, err)
	require.NotNil(t, superseded)
	assert.Equal(t, original.ID, *superseded)

	got, ok := q.Job(original.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCancelled, got.Status)

	job, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, job.ID)
}

func TestQueue_CancelPendingOnly(t *testing.T) {
	q := New(0)

	job := submitJob(t, q, "parcel-9", model.PriorityNormal, model.CollectionProperty)
	assert.True(t, q.Cancel(job.ID))
	assert.False(t, q.Cancel(job.ID), "terminal job must not cancel again")

	running := submitJob(t, q, "parcel-10", model.PriorityNormal, model.CollectionProperty)
	dequeued, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, running.ID, dequeued.ID)
	assert.False(t, q.Cancel(running.ID), "running job must not cancel")
}

func TestQueue_SameSubjectNeverRunsConcurrently(t *testing.T) {
	q := New(0)

	first := model.NewJob("parcel-9", model.PriorityNormal, model.CollectionProperty, model.PropertyParams{}, false)
	_, err := q.Submit(first, false)
	require.NoError(t, err)
	second := model.NewJob("parcel-9", model.PriorityNormal, model.CollectionTaxRecords, model.TaxRecordParams{}, false)
	_, err = q.Submit(second, false)
	require.NoError(t, err)

	running, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, running.ID)

	// The second job shares the subject, so Next must block until the
	// first finishes even though the queue is non-empty.
	blockedCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = q.Next(blockedCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.Finish(first.ID, model.StatusSucceeded, nil, nil)

	job, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, job.ID)
}

func TestQueue_SubjectBlockDoesNotStarveOthers(t *testing.T) {
	q := New(0)

	first := model.NewJob("parcel-9", model.PriorityCritical, model.CollectionProperty, model.PropertyParams{}, false)
	_, err := q.Submit(first, false)
	require.NoError(t, err)
	blocked := model.NewJob("parcel-9", model.PriorityCritical, model.CollectionTaxRecords, model.TaxRecordParams{}, false)
	_, err = q.Submit(blocked, false)
	require.NoError(t, err)
	other := model.NewJob("parcel-10", model.PriorityLow, model.CollectionProperty, model.PropertyParams{}, false)
	_, err = q.Submit(other, false)
	require.NoError(t, err)

	running, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.ID, running.ID)

	// The busy subject's second job is skipped over, not a roadblock.
	job, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, other.ID, job.ID)
}

func TestQueue_CapacityBound(t *testing.T) {
	q := New(2)

	submitJob(t, q, "parcel-1", model.PriorityNormal, model.CollectionProperty)
	submitJob(t, q, "parcel-2", model.PriorityNormal, model.CollectionProperty)

	job := model.NewJob("parcel-3", model.PriorityNormal, model.CollectionProperty, model.PropertyParams{}, false)
	_, err := q.Submit(job, false)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_CloseDrain(t *testing.T) {
	q := New(0)

	submitJob(t, q, "parcel-1", model.PriorityNormal, model.CollectionProperty)
	submitJob(t, q, "parcel-2", model.PriorityHigh, model.CollectionProperty)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			job, err := q.Next(context.Background())
			if err != nil {
				return
			}
			q.Finish(job.ID, model.StatusSucceeded, nil, nil)
		}
	}()

	outcomes, cancelled := q.Close(true)
	wg.Wait()

	require.Len(t, outcomes, 2)
	for _, outcome := range outcomes {
		assert.Equal(t, model.StatusSucceeded, outcome.Status)
	}
	assert.Empty(t, cancelled, "drain must not cancel anything")

	_, err := q.Submit(model.NewJob("parcel-3", model.PriorityNormal, model.CollectionProperty, model.PropertyParams{}, false), false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_CloseCancelAll(t *testing.T) {
	q := New(0)

	first := submitJob(t, q, "parcel-1", model.PriorityNormal, model.CollectionProperty)
	second := submitJob(t, q, "parcel-2", model.PriorityNormal, model.CollectionProperty)
	third := submitJob(t, q, "parcel-3", model.PriorityNormal, model.CollectionProperty)

	outcomes, cancelled := q.Close(false)
	require.Len(t, outcomes, 3)
	for _, outcome := range outcomes {
		assert.Equal(t, model.StatusCancelled, outcome.Status)
	}

	// The cancelled IDs are reported so the caller can account for the
	// jobs that never reached a worker.
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID, third.ID}, cancelled)

	_, err := q.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_CloseCancelAllReportsOnlyPendingAsCancelled(t *testing.T) {
	q := New(0)

	running := submitJob(t, q, "parcel-1", model.PriorityNormal, model.CollectionProperty)
	pending := submitJob(t, q, "parcel-2", model.PriorityNormal, model.CollectionProperty)

	dequeued, err := q.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, running.ID, dequeued.ID)

	done := make(chan []uuid.UUID, 1)
	go func() {
		_, cancelled := q.Close(false)
		done <- cancelled
	}()

	// Close blocks on the in-flight job; finish it as its worker would.
	require.Eventually(t, func() bool {
		job, ok := q.Job(pending.ID)
		return ok && job.Status == model.StatusCancelled
	}, time.Second, time.Millisecond)
	q.Finish(running.ID, model.StatusCancelled, nil, context.Canceled)

	select {
	case cancelled := <-done:
		// The running job reported its own terminal state through Finish;
		// only the pending one is the queue's to account for.
		assert.Equal(t, []uuid.UUID{pending.ID}, cancelled)
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the running job finished")
	}
}

func TestQueue_NextHonorsContext(t *testing.T) {
	q := New(0)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Next(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Next did not observe context cancellation")
	}
}
