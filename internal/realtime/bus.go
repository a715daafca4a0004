package realtime

import (
	"context"
	"fmt"
	"sync"
)

const (
	EventNotificationInserted = "notification.inserted"
	EventKnowledgeChanged     = "knowledge.changed"
	EventTimetablesChanged    = "timetables.changed"
)

// SharedUserID addresses events about data every viewer shares. Real user
// IDs start at 1.
const SharedUserID int64 = 0

// Event is a push notice scoped to one viewer. Consumers treat it as a hint
// to refetch, not as authoritative data.
type Event struct {
	Kind           string `json:"kind"`
	UserID         int64  `json:"user_id"`
	NotificationID string `json:"notification_id,omitempty"`
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe delivers events for userID until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, userID int64) (<-chan Event, error)
	Close() error
}

const subscriberBuffer = 16

// MemoryBus is an in-process Bus for single-instance deployments and tests.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int64]map[chan Event]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int64]map[chan Event]struct{})}
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("memory bus closed")
	}
	for ch := range b.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; it already has a pending refetch trigger.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, userID int64) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory bus closed")
	}
	ch := make(chan Event, subscriberBuffer)
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan Event]struct{})
	}
	b.subs[userID][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[userID][ch]; ok {
			delete(b.subs[userID], ch)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			close(ch)
		}
	}()
	return ch, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for userID, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, userID)
	}
	return nil
}
