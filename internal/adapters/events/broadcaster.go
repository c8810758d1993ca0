package events

import (
	"fmt"
	"sync"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// Broadcaster fans events out to its listeners. Each listener owns a
// bounded queue drained by its own goroutine; Emit never waits on a
// listener and drops the event for any listener whose queue is full.
type Broadcaster struct {
	obs    ports.Observability
	buffer int

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	listener ports.EventListener
	queue    chan domain.Event
}

func NewBroadcaster(buffer int, obs ports.Observability) *Broadcaster {
	if buffer <= 0 {
		buffer = ports.DefaultEventBuffer
	}
	return &Broadcaster{obs: obs, buffer: buffer}
}

// Subscribe starts delivering events to l. Subscribing after Close is a no-op.
func (b *Broadcaster) Subscribe(l ports.EventListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	s := &subscriber{listener: l, queue: make(chan domain.Event, b.buffer)}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go b.deliver(s)
}

func (b *Broadcaster) Emit(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.queue <- e:
		default:
			b.obs.IncCounter("mondon_events_dropped_total", 1)
			b.obs.LogError("event_dropped", fmt.Errorf("listener %s queue full", s.listener.Name()),
				ports.Field{Key: "kind", Value: e.Kind.String()})
		}
	}
}

func (b *Broadcaster) deliver(s *subscriber) {
	defer b.wg.Done()
	for e := range s.queue {
		b.handle(s.listener, e)
	}
}

func (b *Broadcaster) handle(l ports.EventListener, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.obs.LogError("listener_panic", fmt.Errorf("%v", r), ports.Field{Key: "listener", Value: l.Name()})
		}
	}()
	l.HandleEvent(e)
}

// Close stops accepting events and waits until every queued event has been
// handed to its listener.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

var _ ports.EventEmitter = (*Broadcaster)(nil)
