// Package state provides the broadcaster that fans playback state snapshots
// out to subscribers. A UI layer subscribes and renders whatever arrives; a
// slow subscriber loses intermediate snapshots, never the latest one.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yaytsa/player/internal/app/queue"
	"github.com/yaytsa/player/internal/app/sleeptimer"
	"github.com/yaytsa/player/internal/domain/track"
)

// Snapshot is one observable playback state. Snapshots are self-contained;
// subscribers never need to diff against an earlier one.
type Snapshot struct {
	SequenceNo uint64

	Track    *track.Track
	Playing  bool
	Loading  bool
	Position time.Duration

	Shuffle bool
	Repeat  queue.RepeatMode

	SleepPhase sleeptimer.Phase

	Err error
}

// subscription holds one subscriber's delivery channel. The per-subscription
// lock serializes delivery against closure so a send never races a close.
type subscription struct {
	id string

	mu     sync.Mutex
	closed bool
	ch     chan Snapshot
}

// deliver enqueues the snapshot without blocking, evicting the oldest
// pending snapshot when the buffer is full.
func (s *subscription) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Broadcaster manages subscriptions and snapshot delivery.
type Broadcaster struct {
	mu         sync.RWMutex
	subs       map[string]*subscription
	sequenceNo uint64
	closed     bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]*subscription),
	}
}

// Subscribe registers a subscriber and returns its ID and delivery channel.
// The channel is closed on Unsubscribe or Close. Subscribing to a closed
// broadcaster yields an already-closed channel.
func (b *Broadcaster) Subscribe() (string, <-chan Snapshot) {
	sub := &subscription{
		id: uuid.New().String(),
		ch: make(chan Snapshot, 8),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.id, sub.ch
	}
	b.subs[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish stamps the snapshot with the next sequence number and delivers it
// to every subscriber without blocking the publisher.
func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.sequenceNo++
	s.SequenceNo = b.sequenceNo
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(s)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes all subscriptions and closes their channels. Publish and
// Subscribe become no-ops afterwards.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		delete(b.subs, id)
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
