package driver

import (
	"sync"

	"github.com/dbac/electorate/internal/elog"
	"github.com/dbac/electorate/internal/election"
)

// broadcaster fans ElectionEvents out to every current subscriber. Per the
// spec's design notes (§9), this is a bounded multi-producer multi-consumer
// channel with drop-on-slow-consumer semantics: a subscriber that falls
// behind loses events rather than stalling the election loop that produces
// them.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan election.Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan election.Event]struct{})}
}

// subscribe returns a new channel of the given buffer depth. The caller's
// weak view: if it stops reading, events for it are simply dropped.
func (b *broadcaster) subscribe(buffer int) <-chan election.Event {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan election.Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) publish(ev election.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			elog.With(elog.Fields{"kind": ev.Kind.String()}).
				Warn("driver: event subscriber too slow, dropping event")
		}
	}
}
