package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemirror/mirror-layer/internal/app/storage"
)

func newTestBus() *Bus {
	return New(storage.NewMemory(), nil)
}

func TestPublishPersistsBeforeDelivery(t *testing.T) {
	bus := newTestBus()
	ch, cancel := bus.Subscribe("user-1")
	defer cancel()

	saved, err := bus.Publish(context.Background(), "user-1", "user:user-1", map[string]string{"kind": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	select {
	case e := <-ch:
		require.Equal(t, saved.ID, e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected live delivery of published event")
	}

	replayed, err := bus.ReplaySince(context.Background(), "user-1", saved.CreatedAt.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	require.Equal(t, saved.ID, replayed[0].ID)
}

func TestSubscribeOnlyDeliversMatchingUser(t *testing.T) {
	bus := newTestBus()
	chA, cancelA := bus.Subscribe("user-a")
	defer cancelA()
	chB, cancelB := bus.Subscribe("user-b")
	defer cancelB()

	_, err := bus.Publish(context.Background(), "user-a", "user:user-a", "payload")
	require.NoError(t, err)

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("expected delivery to user-a's subscriber")
	}

	select {
	case <-chB:
		t.Fatal("user-b should not receive user-a's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	bus := newTestBus()
	_, cancel := bus.Subscribe("user-1")
	cancel()
	cancel() // must be safe to call twice

	require.Len(t, bus.subs, 0)
}

func TestDroppedCountIncrementsWhenSubscriberBufferFull(t *testing.T) {
	bus := newTestBus()
	ch, cancel := bus.Subscribe("user-1")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		_, err := bus.Publish(context.Background(), "user-1", "user:user-1", i)
		require.NoError(t, err)
	}

	require.Greater(t, bus.DroppedCount(), int64(0))

	// drain without asserting exact contents; buffer is bounded.
	for len(ch) > 0 {
		<-ch
	}
}

func TestPruneRetentionDeletesOldEvents(t *testing.T) {
	bus := newTestBus()
	_, err := bus.Publish(context.Background(), "user-1", "user:user-1", "payload")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	deleted, err := bus.PruneRetention(context.Background(), "user-1", time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestPruneRetentionNoopForZeroRetention(t *testing.T) {
	bus := newTestBus()
	deleted, err := bus.PruneRetention(context.Background(), "user-1", 0)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)
}
