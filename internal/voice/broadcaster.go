package voice

import (
	"context"
	"sync"
)

type tapKind int

const (
	tapEvents tapKind = iota
	tapReplies
	tapCount
)

// subscriberBuffer bounds how far a subscriber may lag before publishing
// blocks. Publishing never buffers unboundedly and never drops an event for a
// live subscriber.
const subscriberBuffer = 32

// broadcaster fans a session's event sequence out to at most one events
// subscriber and one replies subscriber. A new subscription on a tap
// supersedes the old one: the old consumer's channel closes gracefully, and
// events published after the supersession go only to the new subscriber.
// Events published while a tap has no subscriber are not replayed.
type broadcaster struct {
	ctx  context.Context
	mu   sync.Mutex
	taps [tapCount]*tap
}

type tap struct {
	in       chan Event
	out      chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

func (t *tap) close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func newBroadcaster(ctx context.Context) *broadcaster {
	return &broadcaster{ctx: ctx}
}

// subscribe attaches a consumer to the tap, superseding any prior one. The
// returned cancel releases the subscription; it is safe to call more than
// once. The channel closes when the subscription ends for any reason.
func (b *broadcaster) subscribe(kind tapKind) (<-chan Event, func()) {
	t := &tap{
		in:   make(chan Event),
		out:  make(chan Event, subscriberBuffer),
		stop: make(chan struct{}),
	}

	b.mu.Lock()
	if old := b.taps[kind]; old != nil {
		old.close()
	}
	b.taps[kind] = t
	b.mu.Unlock()

	go b.forward(t)

	cancel := func() {
		b.mu.Lock()
		if b.taps[kind] == t {
			b.taps[kind] = nil
		}
		b.mu.Unlock()
		t.close()
	}
	return t.out, cancel
}

// forward owns the out channel: it is the only goroutine that closes it, so a
// publisher blocked mid-send can never race a close.
func (b *broadcaster) forward(t *tap) {
	defer close(t.out)
	for {
		select {
		case <-t.stop:
			return
		case <-b.ctx.Done():
			return
		case evt := <-t.in:
			// An event already accepted from a publisher is delivered
			// whenever the buffer has room, even during shutdown.
			select {
			case t.out <- evt:
				continue
			default:
			}
			select {
			case t.out <- evt:
			case <-t.stop:
				return
			case <-b.ctx.Done():
				return
			}
		}
	}
}

// publish delivers the event to both taps, preserving order per tap. Callers
// serialize publish per session, which is what makes the order total.
func (b *broadcaster) publish(evt Event) {
	b.deliver(tapEvents, evt)
	b.deliver(tapReplies, evt)
}

func (b *broadcaster) deliver(kind tapKind, evt Event) {
	for {
		b.mu.Lock()
		t := b.taps[kind]
		b.mu.Unlock()
		if t == nil {
			return
		}
		select {
		case t.in <- evt:
			return
		case <-t.stop:
			// Superseded mid-send; retry against the current tap.
		case <-b.ctx.Done():
			return
		}
	}
}
