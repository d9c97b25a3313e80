package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/services/events"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

func TestSchedulerDispatchesSubmittedJobToCompletion(t *testing.T) {
	store := storage.NewMemory()
	bus := events.New(store, nil)
	sched := New(store, bus, nil)

	var mu sync.Mutex
	var processed []string
	sched.RegisterExecutor(job.TypeMirror, func(j job.Job) (Executor, error) {
		return func(ctx context.Context, userID, itemID string) error {
			mu.Lock()
			processed = append(processed, itemID)
			mu.Unlock()
			return nil
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	saved, err := sched.Submit(ctx, job.Job{
		UserID:  "user-1",
		Type:    job.TypeMirror,
		BatchID: "batch-1",
		ItemIDs: []string{"repo-1", "repo-2"},
	}, true)
	require.NoError(t, err)
	require.True(t, saved.InProgress)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHasActiveSyncBatchReflectsInProgressJobs(t *testing.T) {
	store := storage.NewMemory()
	sched := New(store, nil, nil)
	sched.RegisterExecutor(job.TypeSync, func(j job.Job) (Executor, error) {
		return func(ctx context.Context, userID, itemID string) error {
			<-ctx.Done()
			return ctx.Err()
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	active, err := sched.HasActiveSyncBatch(ctx, "user-2")
	require.NoError(t, err)
	require.False(t, active)

	_, err = sched.Submit(ctx, job.Job{
		UserID:  "user-2",
		Type:    job.TypeSync,
		BatchID: "batch-2",
		ItemIDs: []string{"repo-1"},
	}, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		active, err := sched.HasActiveSyncBatch(ctx, "user-2")
		return err == nil && active
	}, time.Second, 10*time.Millisecond)
}

func TestSubmittedJobFinishesWithoutRegisteredExecutor(t *testing.T) {
	store := storage.NewMemory()
	sched := New(store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	saved, err := sched.Submit(ctx, job.Job{
		UserID:  "user-3",
		Type:    job.TypeRetry,
		BatchID: "batch-3",
		ItemIDs: []string{"repo-1"},
	}, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		jobs, err := store.ListJobs(ctx, "user-3", 0)
		return err == nil && len(jobs) == 1 && !jobs[0].InProgress
	}, time.Second, 10*time.Millisecond)
	require.NotEmpty(t, saved.ID)
}
