// Package events implements C9: a durable append-only event log backed by
// storage.EventStore, plus an in-process publish/subscribe fan-out to
// long-lived client streams. Publish first commits the durable row, then
// delivers to subscribers best-effort and non-blocking, following the
// teacher's system/events.Dispatcher buffered-channel/worker-pool discipline
// (adapted from contract-event routing to user-scoped progress events) —
// see spec §4.8 and invariant 6 (a durable row exists before live delivery).
package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/forgemirror/mirror-layer/internal/app/domain/event"
	"github.com/forgemirror/mirror-layer/internal/app/metrics"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// subscriberBuffer bounds how many undelivered events a slow subscriber may
// accumulate before the bus starts dropping its oldest undelivered live
// events (the durable record is never affected).
const subscriberBuffer = 64

// Publisher is the narrow interface the mirror engine, batch scheduler,
// cleanup reconciler, and schedule controller depend on to emit progress
// events without importing the full Bus.
type Publisher interface {
	Publish(ctx context.Context, userID, channel string, payload any) (event.Event, error)
}

// Bus is the durable-append-plus-fan-out event bus.
type Bus struct {
	store storage.EventStore
	log   *logger.Logger

	mu   sync.RWMutex
	subs map[string]*subscription

	dropped int64
}

type subscription struct {
	id      string
	userID  string
	ch      chan event.Event
	closeCh chan struct{}
	once    sync.Once
}

// New constructs a Bus over the durable EventStore.
func New(store storage.EventStore, log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Bus{store: store, log: log, subs: make(map[string]*subscription)}
}

// Publish durably appends the event (C9 invariant: a row exists before any
// subscriber sees it), then fans out to every matching live subscriber
// without blocking the caller.
func (b *Bus) Publish(ctx context.Context, userID, channel string, payload any) (event.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return event.Event{}, err
	}
	e := event.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	saved, err := b.store.AppendEvent(ctx, e)
	if err != nil {
		return event.Event{}, err
	}

	b.fanOut(saved)
	return saved, nil
}

// fanOut delivers saved to every subscriber whose userID matches saved.UserID
// or who subscribed to the broadcast channel. Delivery is non-blocking:
// a full subscriber buffer drops its oldest queued event to make room,
// preferring freshness over completeness for live delivery (the durable
// record is retained regardless).
func (b *Bus) fanOut(saved event.Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.userID == saved.UserID || sub.userID == event.BroadcastChannel {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- saved:
		default:
			select {
			case <-sub.ch:
				atomic.AddInt64(&b.dropped, 1)
				metrics.EventBusDropped.WithLabelValues(sub.userID).Inc()
			default:
			}
			select {
			case sub.ch <- saved:
			default:
			}
		}
		metrics.EventBusQueueDepth.WithLabelValues(sub.userID).Set(float64(len(sub.ch)))
	}
}

// Subscribe registers a live subscriber for userID (or event.BroadcastChannel
// for every user's events) and returns its event channel plus a cancel func
// that unsubscribes and releases the channel. Callers should replay
// ListEventsSince(lastSeen) before consuming the channel to avoid a gap
// between reconnect and subscription registration.
func (b *Bus) Subscribe(userID string) (<-chan event.Event, func()) {
	sub := &subscription{
		id:      uuid.NewString(),
		userID:  userID,
		ch:      make(chan event.Event, subscriberBuffer),
		closeCh: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
			close(sub.closeCh)
		})
	}
	return sub.ch, cancel
}

// ReplaySince returns durable events for userID created after since, for
// reconnecting clients to catch up before resuming the live stream.
func (b *Bus) ReplaySince(ctx context.Context, userID string, since time.Time, limit int) ([]event.Event, error) {
	return b.store.ListEventsSince(ctx, userID, since, limit)
}

// DroppedCount reports how many live (not durable) events have been dropped
// for slow subscribers since startup, for metrics exposition.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// PruneRetention deletes durable events for userID older than retention; a
// non-positive retention deletes nothing.
func (b *Bus) PruneRetention(ctx context.Context, userID string, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	return b.store.DeleteEventsOlderThan(ctx, userID, cutoff)
}
