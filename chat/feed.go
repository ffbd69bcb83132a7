package chat

import "sync"

// statusFeed fans connection state transitions out to any number of
// subscribers. Each subscriber gets its own buffered channel and a cancel
// function for deterministic teardown; a slow subscriber drops transitions
// rather than blocking the publisher.
type statusFeed struct {
	mu   sync.Mutex
	subs map[int]chan StateEvent
	next int
}

func newStatusFeed() *statusFeed {
	return &statusFeed{subs: make(map[int]chan StateEvent)}
}

func (f *statusFeed) subscribe() (<-chan StateEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan StateEvent, 8)
	f.subs[id] = ch
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (f *statusFeed) publish(ev StateEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
