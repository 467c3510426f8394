package event

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Publish once the bus is closed.
var ErrClosed = errors.New("event bus closed")

// Bus is a bounded FIFO inbox with any number of producers and exactly one
// consumer. Producers block while the inbox is full; nothing is dropped.
type Bus struct {
	inbox     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewBus creates a bus holding up to size pending events.
func NewBus(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{
		inbox: make(chan Event, size),
		done:  make(chan struct{}),
	}
}

// Publish enqueues ev, blocking until there is room or the bus is closed.
func (b *Bus) Publish(ev Event) error {
	// Fail fast after Close even if there is room left.
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.inbox <- ev:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// Events returns the receive side for the consumer. The channel is never
// closed; consumers select on Done as well.
func (b *Bus) Events() <-chan Event {
	return b.inbox
}

// Done is closed when the bus is closed.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Len reports the number of queued events.
func (b *Bus) Len() int {
	return len(b.inbox)
}

// Close unblocks every pending and future Publish. Safe to call repeatedly.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
