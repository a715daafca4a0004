package core

import (
	"context"
	"sync"
)

// observers fans snapshots out to subscribers. Each subscriber holds at most
// one pending snapshot; a newer one replaces it, so a slow reader skips
// intermediate states but always ends on the latest.
type observers[T any] struct {
	mu   sync.Mutex
	subs map[chan T]struct{}
}

func (o *observers[T]) subscribe(ctx context.Context, initial T) <-chan T {
	ch := make(chan T, 1)
	ch <- initial

	o.mu.Lock()
	if o.subs == nil {
		o.subs = make(map[chan T]struct{})
	}
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
	}()
	return ch
}

// publish must be called in state order; it holds the lock while delivering.
func (o *observers[T]) publish(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (o *observers[T]) closeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for ch := range o.subs {
		delete(o.subs, ch)
		close(ch)
	}
}

func (o *observers[T]) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}
