package pubsub

import (
	"testing"
	"time"
)

func TestSubscribeReplaysLatestValue(t *testing.T) {
	s := NewSubject[int](nil)
	s.Publish(42)

	ch, cancel := s.Subscribe(1)
	defer cancel()

	select {
	case v := <-ch:
		if v != 42 {
			t.Errorf("got %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the latest value to be replayed immediately on subscribe")
	}
}

func TestSubscribeBeforeAnyPublishGetsNothingUntilPublish(t *testing.T) {
	s := NewSubject[int](nil)
	ch, cancel := s.Subscribe(1)
	defer cancel()

	select {
	case v := <-ch:
		t.Fatalf("did not expect a value before any Publish, got %d", v)
	case <-time.After(20 * time.Millisecond):
	}

	s.Publish(7)
	select {
	case v := <-ch:
		if v != 7 {
			t.Errorf("got %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Publish to deliver to the existing subscriber")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	s := NewSubject[string](nil)
	ch1, cancel1 := s.Subscribe(1)
	defer cancel1()
	ch2, cancel2 := s.Subscribe(1)
	defer cancel2()

	s.Publish("hello")

	for _, ch := range []<-chan string{ch1, ch2} {
		select {
		case v := <-ch:
			if v != "hello" {
				t.Errorf("got %q, want hello", v)
			}
		case <-time.After(time.Second):
			t.Fatal("expected every subscriber to receive the published value")
		}
	}
}

func TestCancelStopsFurtherDeliveryAndClosesChannel(t *testing.T) {
	s := NewSubject[int](nil)
	ch, cancel := s.Subscribe(1)
	cancel()

	_, ok := <-ch
	if ok {
		t.Error("expected the channel to be closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	s.Publish(1)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	s := NewSubject[int](nil)
	slow, cancelSlow := s.Subscribe(0) // unbuffered, nobody ever reads
	defer cancelSlow()
	fast, cancelFast := s.Subscribe(1)
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		s.Publish(1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Publish to return promptly despite a full/unread slow subscriber")
	}

	select {
	case v := <-fast:
		if v != 1 {
			t.Errorf("got %d, want 1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the fast subscriber to still receive the value")
	}

	_ = slow
}

func TestLatestReportsFalseBeforeFirstPublish(t *testing.T) {
	s := NewSubject[int](nil)
	if _, ok := s.Latest(); ok {
		t.Error("expected Latest to report false before any Publish")
	}
}

func TestLatestReturnsMostRecentValue(t *testing.T) {
	s := NewSubject[int](nil)
	s.Publish(1)
	s.Publish(2)

	v, ok := s.Latest()
	if !ok || v != 2 {
		t.Errorf("got (%d, %v), want (2, true)", v, ok)
	}
}
