// Copyright 2025 James Ross
package memory

import (
	"sync"

	"github.com/flyingrobots/dogqueue/internal/queue"
)

// broadcaster fans one stream of events out to many subscribers via bounded
// channels; a slow or gone subscriber never blocks a Send — events are
// dropped for it instead, mirroring the bounded-capacity tokio::broadcast
// channel this type replaces.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan queue.Event]struct{}
	cap  int
}

func newBroadcaster(capacity int) *broadcaster {
	return &broadcaster{subs: make(map[chan queue.Event]struct{}), cap: capacity}
}

func (b *broadcaster) subscribe() (ch chan queue.Event, cancel func()) {
	ch = make(chan queue.Event, b.cap)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

func (b *broadcaster) send(ev queue.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// subscriber too slow; drop rather than block the backend.
		}
	}
}
