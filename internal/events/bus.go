package events

import "sync"

// Handler receives every published event. Handlers run synchronously on
// the publishing goroutine and must not block.
type Handler func(event any)

// Bus fans published events out to registered handlers and to channel
// subscribers. Handler registration does not deduplicate; register once.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	subs     map[chan any]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan any]struct{})}
}

// OnEvent registers a synchronous handler.
func (b *Bus) OnEvent(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe returns a buffered channel fed with every published event.
// A slow subscriber drops events instead of blocking publishers.
func (b *Bus) Subscribe(buffer int) chan any {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan any, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (b *Bus) Unsubscribe(ch chan any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish delivers the event to all handlers and subscribers. Handlers
// run outside the lock on a copy of the registration list, so a handler
// may call OnEvent or Unsubscribe; it sees the handler set as it was
// when the publish started. Channel sends stay under the read lock so
// they cannot race an Unsubscribe close.
func (b *Bus) Publish(event any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
