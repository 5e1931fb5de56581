package logstream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRingDropOldest(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(fmt.Sprintf("line %d", i))
	}
	got := r.drain()
	want := []string{"line 3", "line 4", "line 5"}
	if len(got) != len(want) {
		t.Fatalf("drain returned %d lines, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("drain[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if r.dropped != 2 {
		t.Errorf("dropped = %d, want 2", r.dropped)
	}
}

func TestRingDrainEmpty(t *testing.T) {
	r := newRing(3)
	if got := r.drain(); got != nil {
		t.Errorf("drain on empty ring = %v, want nil", got)
	}
}

func TestCapacityBound(t *testing.T) {
	h := New(300, time.Minute)
	sub := h.Subscribe("sess-1")

	lines := make([]string, 500)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	h.Publish("sess-1", lines)

	got, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(got) != 300 {
		t.Fatalf("batch size = %d, want 300", len(got))
	}
	// Exactly the last 300, in original order.
	for i, line := range got {
		want := fmt.Sprintf("line %d", 200+i)
		if line != want {
			t.Fatalf("batch[%d] = %q, want %q", i, line, want)
		}
	}
}

func TestBatchOrdering(t *testing.T) {
	h := New(100, time.Minute)
	sub := h.Subscribe("sess-1")

	h.Publish("sess-1", []string{"a", "b"})
	h.Publish("sess-1", []string{"c"})

	got, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("batch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("batch[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNoBackfill(t *testing.T) {
	h := New(100, time.Minute)
	h.Publish("sess-1", []string{"before"})

	sub := h.Subscribe("sess-1")
	h.Publish("sess-1", []string{"after"})

	got, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(got) != 1 || got[0] != "after" {
		t.Errorf("batch = %v, want [after]", got)
	}
}

func TestSubscribersIsolated(t *testing.T) {
	h := New(100, time.Minute)
	s1 := h.Subscribe("sess-1")
	s2 := h.Subscribe("sess-1")

	h.Publish("sess-1", []string{"x"})

	b1, err := s1.Next(context.Background())
	if err != nil || len(b1) != 1 {
		t.Fatalf("s1.Next = %v, %v", b1, err)
	}
	b2, err := s2.Next(context.Background())
	if err != nil || len(b2) != 1 {
		t.Fatalf("s2.Next = %v, %v", b2, err)
	}
}

func TestPublishOtherSessionInvisible(t *testing.T) {
	h := New(100, time.Minute)
	sub := h.Subscribe("sess-1")
	h.Publish("sess-2", []string{"x"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := New(100, time.Minute)
	sub := h.Subscribe("sess-1")
	if got := h.Subscribers("sess-1"); got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}
	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // idempotent
	if got := h.Subscribers("sess-1"); got != 0 {
		t.Errorf("Subscribers after Unsubscribe = %d, want 0", got)
	}
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after Unsubscribe = %v, want ErrClosed", err)
	}
}

func TestDropSessionDeliversPendingThenCloses(t *testing.T) {
	h := New(100, time.Minute)
	sub := h.Subscribe("sess-1")
	h.Publish("sess-1", []string{"final"})
	h.DropSession("sess-1")

	got, err := sub.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(got) != 1 || got[0] != "final" {
		t.Errorf("batch = %v, want [final]", got)
	}
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Next after drop = %v, want ErrClosed", err)
	}
}

func TestIdleSubscriberDropped(t *testing.T) {
	h := New(100, 10*time.Millisecond)
	h.Subscribe("sess-1")

	time.Sleep(30 * time.Millisecond)
	h.Publish("sess-1", []string{"x"})

	if got := h.Subscribers("sess-1"); got != 0 {
		t.Errorf("Subscribers = %d, want 0 after idle timeout", got)
	}
}

func TestNextWakesOnPublish(t *testing.T) {
	h := New(100, time.Minute)
	sub := h.Subscribe("sess-1")

	done := make(chan []string, 1)
	go func() {
		batch, _ := sub.Next(context.Background())
		done <- batch
	}()

	time.Sleep(10 * time.Millisecond)
	h.Publish("sess-1", []string{"hello"})

	select {
	case batch := <-done:
		if len(batch) != 1 || batch[0] != "hello" {
			t.Errorf("batch = %v, want [hello]", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Publish")
	}
}
