package cleanup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/domain/event"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

func TestPurgeActivitiesFailsJobsThenDeletesEverything(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, store, store, nil, nil)

	ctx := context.Background()
	_, err := store.CreateJob(ctx, job.Job{UserID: "user-1", Type: job.TypeMirror, InProgress: true, ItemIDs: []string{"repo-1"}})
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, event.Event{UserID: "user-1", Channel: "user:user-1", Payload: []byte(`{}`)})
	require.NoError(t, err)

	result, err := svc.PurgeActivities(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.JobsFailed)
	require.Equal(t, 1, result.JobsDeleted)
	require.Equal(t, 1, result.EventsDeleted)

	remaining, err := store.ListJobs(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestPurgeActivitiesIsNoopForUserWithNoActivity(t *testing.T) {
	store := storage.NewMemory()
	svc := New(store, store, store, nil, nil)

	result, err := svc.PurgeActivities(context.Background(), "user-without-activity")
	require.NoError(t, err)
	require.Zero(t, result.JobsFailed)
	require.Zero(t, result.JobsDeleted)
	require.Zero(t, result.EventsDeleted)
}
