package session

import "sync"

// Broadcaster fans snapshots out to any number of subscribers. Publish never
// blocks; a subscriber whose buffer is full misses that update.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Snapshot]struct{}
	last Snapshot
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Snapshot]struct{})}
}

// Subscribe registers a new listener. The returned cancel func unregisters it
// and closes the channel.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- b.last
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers s to every subscriber that has room for it.
func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = s
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Last returns the most recently published snapshot.
func (b *Broadcaster) Last() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Subscribers returns the number of registered listeners.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
