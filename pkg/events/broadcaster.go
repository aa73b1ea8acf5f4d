// Package events fans queue events out to in-process subscribers. The
// engine publishes every terminal and stream-only event here; WebSocket
// clients attach through the connection manager. Run handles have their
// own ordered channel and do not go through the broadcaster.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/copilotz/copilotz/pkg/models"
)

// DefaultSubscriptionBuffer is the per-subscriber channel capacity when
// the caller passes no explicit buffer.
const DefaultSubscriptionBuffer = 64

// Subscription is one subscriber's view of a thread's event feed.
type Subscription struct {
	// ThreadID is the thread this subscription follows.
	ThreadID string

	id         uint64
	ch         chan *models.Event
	closeOnce  sync.Once
	unregister func()
}

// Events returns the subscriber's channel. Closed when the subscription
// or the broadcaster shuts down.
func (s *Subscription) Events() <-chan *models.Event {
	return s.ch
}

// Close detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.unregister)
}

// Broadcaster is a process-local fan-out of queue events keyed by thread
// id. Publish never blocks: a subscriber that cannot keep up loses
// events rather than stalling the worker.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Int64
	logger  *slog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[uint64]*Subscription),
		logger: slog.With("component", "events"),
	}
}

// Subscribe attaches a new subscriber to the thread's feed. A buffer of
// 0 or less uses DefaultSubscriptionBuffer. Returns nil after Close.
func (b *Broadcaster) Subscribe(threadID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	b.nextID++
	sub := &Subscription{
		ThreadID: threadID,
		id:       b.nextID,
		ch:       make(chan *models.Event, buffer),
	}
	sub.unregister = func() { b.remove(sub) }

	if b.subs[threadID] == nil {
		b.subs[threadID] = make(map[uint64]*Subscription)
	}
	b.subs[threadID][sub.id] = sub
	return sub
}

// Publish delivers the event to every subscriber of its thread. Full
// subscriber buffers drop the event for that subscriber only.
func (b *Broadcaster) Publish(event *models.Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[event.ThreadID]))
	for _, sub := range b.subs[event.ThreadID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Subscriber buffer full, event dropped",
				"thread_id", event.ThreadID, "event_type", event.Type)
		}
	}
}

// Dropped reports how many events were dropped on full buffers since
// startup.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of subscribers on the thread.
func (b *Broadcaster) SubscriberCount(threadID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[threadID])
}

// Close detaches every subscriber and rejects future subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, threadSubs := range b.subs {
		for _, sub := range threadSubs {
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[uint64]*Subscription)
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	threadSubs := b.subs[sub.ThreadID]
	if _, ok := threadSubs[sub.id]; !ok {
		return
	}
	delete(threadSubs, sub.id)
	if len(threadSubs) == 0 {
		delete(b.subs, sub.ThreadID)
	}
	close(sub.ch)
}
