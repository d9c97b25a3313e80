package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/services/batch"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

func TestDisplayCronExprRoundTrips(t *testing.T) {
	require.Equal(t, "*/5 * * * *", DisplayCronExpr(5*time.Minute))
	require.Equal(t, "0 */2 * * *", DisplayCronExpr(2*time.Hour))
	require.Equal(t, "0 0 */3 * *", DisplayCronExpr(3*24*time.Hour))
	require.Equal(t, "*/1 * * * *", DisplayCronExpr(0))
}

func TestControllerSubmitsSyncBatchForDueSchedule(t *testing.T) {
	store := storage.NewMemory()
	sched := batch.New(store, nil, nil)
	sched.RegisterExecutor(job.TypeSync, func(j job.Job) (batch.Executor, error) {
		return func(ctx context.Context, userID, itemID string) error { return nil }, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	cfg, err := store.CreateConfig(ctx, config.Configuration{
		UserID:   "user-1",
		IsActive: true,
		Schedule: config.Schedule{Enabled: true, Interval: time.Hour},
	})
	require.NoError(t, err)
	_, err = store.UpsertRepository(ctx, repository.Repository{
		UserID: "user-1",
		Status: repository.StatusMirrored,
	})
	require.NoError(t, err)

	controller := New(store, store, sched, nil)
	controller.tick(ctx)

	updated, err := store.GetActiveConfig(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, updated.Schedule.LastRun)
	require.NotNil(t, updated.Schedule.NextRun)
	require.True(t, updated.Schedule.NextRun.After(*updated.Schedule.LastRun))
	require.NotEqual(t, cfg.ID, "")
}

func TestControllerSkipsSubmissionWhenNoSyncableRepositories(t *testing.T) {
	store := storage.NewMemory()
	sched := batch.New(store, nil, nil)
	sched.RegisterExecutor(job.TypeSync, func(j job.Job) (batch.Executor, error) {
		return func(ctx context.Context, userID, itemID string) error { return nil }, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sched.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
	}()

	_, err := store.CreateConfig(ctx, config.Configuration{
		UserID:   "user-no-repos",
		IsActive: true,
		Schedule: config.Schedule{Enabled: true, Interval: time.Hour},
	})
	require.NoError(t, err)

	controller := New(store, store, sched, nil)
	controller.tick(ctx)

	updated, err := store.GetActiveConfig(ctx, "user-no-repos")
	require.NoError(t, err)
	require.NotNil(t, updated.Schedule.LastRun)

	jobs, err := store.ListJobs(ctx, "user-no-repos", 0)
	require.NoError(t, err)
	require.Empty(t, jobs)
}
