package broadcast

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New[string](4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Publish("hello")

	if got := <-s1.C(); got != "hello" {
		t.Fatalf("s1 got %q, want hello", got)
	}
	if got := <-s2.C(); got != "hello" {
		t.Fatalf("s2 got %q, want hello", got)
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := New[string](4)
	b.Publish("no one home")
}

func TestSlowSubscriberLags(t *testing.T) {
	b := New[int](2)
	sub := b.Subscribe()

	for i := 0; i < 10; i++ {
		b.Publish(i)
	}

	if sub.Lagged() == 0 {
		t.Fatalf("expected a slow subscriber to lag, lagged=%d", sub.Lagged())
	}

	// The channel still holds its capacity's worth of the most recent values,
	// and draining never panics or blocks forever.
	drained := 0
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				goto done
			}
			drained++
		default:
			goto done
		}
	}
done:
	if drained == 0 {
		t.Fatalf("expected to drain at least one buffered value")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New[int](2)
	sub := b.Subscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := New[int](2)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	b.Close()

	if _, ok := <-s1.C(); ok {
		t.Fatalf("expected s1 closed")
	}
	if _, ok := <-s2.C(); ok {
		t.Fatalf("expected s2 closed")
	}

	// Subscribing after close yields an already-closed channel.
	s3 := b.Subscribe()
	if _, ok := <-s3.C(); ok {
		t.Fatalf("expected post-close subscription to be closed")
	}

	// Publish after close is a no-op, not a panic.
	b.Publish(42)
}
