package projection

import (
	"sync"

	"github.com/linnemanlabs/argus/internal/event"
	"github.com/linnemanlabs/argus/internal/investigation"
)

// Feed fans stored events out to live subscribers (the SSE stream). Each
// subscriber gets a buffered channel; a subscriber that cannot keep up
// drops events rather than stalling the append path. Delivery is
// at-least-once per subscriber and ordered per aggregate.
type Feed struct {
	mu      sync.Mutex
	subs    map[int]chan event.Event
	nextID  int
	buffer  int
	closed  bool
	dropped uint64
}

// NewFeed creates a feed with the given per-subscriber buffer.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{
		subs:   make(map[int]chan event.Event),
		buffer: buffer,
	}
}

// Subscribe registers a listener. The returned cancel function removes
// the subscription and closes the channel; it is safe to call twice.
func (f *Feed) Subscribe() (<-chan event.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan event.Event, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish implements investigation.Publisher with non-blocking delivery.
func (f *Feed) Publish(events []event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, e := range events {
		for _, ch := range f.subs {
			select {
			case ch <- e:
			default:
				f.dropped++
			}
		}
	}
}

// Dropped reports how many deliveries were dropped on full buffers.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Subscribers reports the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drains the feed at shutdown: all subscriber channels are closed
// and later publishes are ignored.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}

// Combine builds a publisher that forwards to each of ps in order.
func Combine(ps ...investigation.Publisher) investigation.Publisher {
	return multi(ps)
}

type multi []investigation.Publisher

func (m multi) Publish(events []event.Event) {
	for _, p := range m {
		p.Publish(events)
	}
}
