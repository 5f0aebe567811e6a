package voice

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func expectClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			t.Logf("draining event %+v", evt)
		case <-deadline:
			t.Fatalf("channel not closed")
		}
	}
}

func TestBroadcasterPreservesOrder(t *testing.T) {
	b := newBroadcaster(context.Background())
	ch, cancel := b.subscribe(tapEvents)
	defer cancel()

	for i := 0; i < 10; i++ {
		b.publish(Event{Type: EventReply, Text: fmt.Sprintf("msg-%d", i)})
	}
	for i := 0; i < 10; i++ {
		evt := recvEvent(t, ch)
		if want := fmt.Sprintf("msg-%d", i); evt.Text != want {
			t.Fatalf("event %d text = %q, want %q", i, evt.Text, want)
		}
	}
}

func TestBroadcasterTapsAreIndependent(t *testing.T) {
	b := newBroadcaster(context.Background())
	events, cancelEvents := b.subscribe(tapEvents)
	defer cancelEvents()
	replies, cancelReplies := b.subscribe(tapReplies)
	defer cancelReplies()

	b.publish(Event{Type: EventReply, Text: "both"})

	if evt := recvEvent(t, events); evt.Text != "both" {
		t.Fatalf("events tap got %+v", evt)
	}
	if evt := recvEvent(t, replies); evt.Text != "both" {
		t.Fatalf("replies tap got %+v", evt)
	}
}

func TestBroadcasterDropsWithoutSubscriber(t *testing.T) {
	b := newBroadcaster(context.Background())

	// No subscriber: publish must return without blocking.
	done := make(chan struct{})
	go func() {
		b.publish(Event{Type: EventReply, Text: "dropped"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked with no subscriber")
	}

	// A later subscriber does not see replayed events.
	ch, cancel := b.subscribe(tapEvents)
	defer cancel()
	b.publish(Event{Type: EventReply, Text: "live"})
	if evt := recvEvent(t, ch); evt.Text != "live" {
		t.Fatalf("got %+v, want the live event only", evt)
	}
}

func TestBroadcasterSupersedesOldSubscriber(t *testing.T) {
	b := newBroadcaster(context.Background())
	old, _ := b.subscribe(tapEvents)

	b.publish(Event{Type: EventReply, Text: "for-old"})
	if evt := recvEvent(t, old); evt.Text != "for-old" {
		t.Fatalf("old subscriber got %+v", evt)
	}

	fresh, cancel := b.subscribe(tapEvents)
	defer cancel()

	expectClosed(t, old)

	b.publish(Event{Type: EventReply, Text: "for-new"})
	if evt := recvEvent(t, fresh); evt.Text != "for-new" {
		t.Fatalf("new subscriber got %+v", evt)
	}
}

func TestBroadcasterCancelIsIdempotent(t *testing.T) {
	b := newBroadcaster(context.Background())
	ch, cancel := b.subscribe(tapEvents)
	cancel()
	cancel()
	expectClosed(t, ch)
}

func TestBroadcasterClosesOnContextDone(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	b := newBroadcaster(ctx)
	ch, cancel := b.subscribe(tapEvents)
	defer cancel()

	cancelCtx()
	expectClosed(t, ch)
}

func TestBroadcasterSupersedeWhilePublisherBlocked(t *testing.T) {
	b := newBroadcaster(context.Background())
	old, _ := b.subscribe(tapEvents)

	// Fill the old subscriber's buffer plus the forwarder's held event so
	// the next publish blocks in deliver, then supersede it mid-send.
	for i := 0; i < subscriberBuffer+1; i++ {
		b.publish(Event{Type: EventReply, Text: "fill"})
	}

	published := make(chan struct{})
	go func() {
		b.publish(Event{Type: EventReply, Text: "retried"})
		close(published)
	}()
	time.Sleep(10 * time.Millisecond)

	fresh, cancel := b.subscribe(tapEvents)
	defer cancel()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish did not retarget the new subscriber")
	}
	if evt := recvEvent(t, fresh); evt.Text != "retried" {
		t.Fatalf("new subscriber got %+v, want the retried event", evt)
	}
	expectClosed(t, old)
}
