package activity

import (
	"container/ring"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

// DefaultHistorySize is the number of recent entries replayed to new subscribers.
const DefaultHistorySize = 100

const subscriberBuffer = 256

// Broadcaster fans new activity entries out to live subscribers and keeps a
// bounded history for late joiners.
type Broadcaster struct {
	mu          sync.RWMutex
	buffer      *ring.Ring
	size        int
	subscribers map[string]chan *store.ActivityEntry
}

// NewBroadcaster creates a broadcaster retaining size entries of history.
func NewBroadcaster(size int) *Broadcaster {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &Broadcaster{
		buffer:      ring.New(size),
		size:        size,
		subscribers: make(map[string]chan *store.ActivityEntry),
	}
}

// Publish records e in the history and delivers it to every subscriber.
// Slow subscribers miss the entry rather than block the publisher.
func (b *Broadcaster) Publish(e *store.ActivityEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer.Value = e
	b.buffer = b.buffer.Next()

	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			log.Warn().Str("subscriber", id).Str("activity_id", e.ID).Msg("Activity subscriber blocked, dropping entry")
		}
	}
}

// Subscribe registers a subscriber and returns its id, its channel and a
// snapshot of the history, oldest first.
func (b *Broadcaster) Subscribe() (string, <-chan *store.ActivityEntry, []*store.ActivityEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan *store.ActivityEntry, subscriberBuffer)
	b.subscribers[id] = ch
	return id, ch, b.historyLocked()
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// History returns the buffered entries, oldest first.
func (b *Broadcaster) History() []*store.ActivityEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.historyLocked()
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broadcaster) historyLocked() []*store.ActivityEntry {
	history := make([]*store.ActivityEntry, 0, b.size)
	b.buffer.Do(func(p any) {
		if e, ok := p.(*store.ActivityEntry); ok {
			history = append(history, e)
		}
	})
	return history
}
