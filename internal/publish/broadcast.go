package publish

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/haptic-data/touch.report/internal/tactile"
)

// subscriberBuffer is the per-subscriber channel depth. A consumer that
// falls further behind than this starts losing snapshots, which is the
// right trade for a live view: the latest state matters, not the backlog.
const subscriberBuffer = 8

// Broadcaster fans snapshots out to any number of subscribers, typically
// SSE stream handlers. Sends never block: a full subscriber channel is
// skipped.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan tactile.ContactSnapshot
	closing     bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan tactile.ContactSnapshot),
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new snapshot channel. The returned ID identifies the
// channel when unsubscribing.
func (b *Broadcaster) Subscribe() (string, <-chan tactile.ContactSnapshot) {
	id := randomID()
	ch := make(chan tactile.ContactSnapshot, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a channel from the list of subscribers and closes it.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Publish delivers the snapshot to every subscriber that has room.
func (b *Broadcaster) Publish(_ context.Context, snap tactile.ContactSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return nil
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- snap:
		default:
			// subscriber is behind, drop this snapshot for them
		}
	}
	return nil
}

// Close closes all subscriber channels and rejects future subscriptions.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closing = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	return nil
}
