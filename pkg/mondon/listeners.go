package mondon

import (
	"errors"
	"sync"
)

// ErrChannelListenerClosed reports an event delivered after the listener's close function ran.
var ErrChannelListenerClosed = errors.New("mondon: channel listener closed")

// EventHandler is invoked for every event delivered to a callback listener.
type EventHandler func(Event)

// NewCallbackListener adapts a function into an EventListener so callers can
// react to readings without defining structs.
func NewCallbackListener(name string, fn EventHandler) EventListener {
	if name == "" {
		name = "callback"
	}
	return &callbackListener{name: name, fn: fn}
}

// NewChannelListener exposes events through a channel; it returns the
// listener, the read-only channel, and a close function that the caller
// should invoke during shutdown. Delivery blocks while the channel is full,
// which only delays this listener's own queue.
func NewChannelListener(name string, buffer int) (EventListener, <-chan Event, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	l := &channelListener{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return l, ch, l.close
}

type callbackListener struct {
	name string
	fn   EventHandler
}

func (l *callbackListener) HandleEvent(e Event) {
	if l.fn != nil {
		l.fn(e)
	}
}

func (l *callbackListener) Name() string { return l.name }

type channelListener struct {
	name   string
	ch     chan Event
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (l *channelListener) HandleEvent(e Event) {
	_ = l.send(e)
}

func (l *channelListener) send(e Event) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	select {
	case <-l.closed:
		return ErrChannelListenerClosed
	default:
	}
	select {
	case <-l.closed:
		return ErrChannelListenerClosed
	case l.ch <- e:
		return nil
	}
}

func (l *channelListener) Name() string { return l.name }

func (l *channelListener) close() {
	l.once.Do(func() {
		close(l.closed)
		l.mu.Lock()
		close(l.ch)
		l.mu.Unlock()
	})
}
