package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	s.Publish(VoteEvent{CandidateID: 2, TxHash: "0xabc"})

	for _, ch := range []<-chan VoteEvent{a, b} {
		select {
		case evt := <-ch:
			if evt.CandidateID != 2 || evt.Timestamp.IsZero() {
				t.Fatalf("unexpected event %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(VoteEvent{CandidateID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
