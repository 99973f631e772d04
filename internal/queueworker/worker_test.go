package queueworker

import (
	"testing"
	"time"
)

func TestAskReturnsLowestPriorityFirst(t *testing.T) {
	w := New("sales", "default", 2)
	defer w.Stop()

	w.Enqueue(5, "call-a", "h-a")
	w.Enqueue(1, "call-b", "h-b")
	w.Enqueue(3, "call-c", "h-c")

	call, ok := w.Ask()
	if !ok {
		t.Fatal("expected a bindable call")
	}
	if call.CallID != "call-b" {
		t.Fatalf("expected call-b (priority 1), got %s", call.CallID)
	}
}

func TestAskTiesBrokenByEnqueueTime(t *testing.T) {
	w := New("support", "default", 1)
	defer w.Stop()

	w.Enqueue(2, "first", "h1")
	time.Sleep(5 * time.Millisecond)
	w.Enqueue(2, "second", "h2")

	call, ok := w.Ask()
	if !ok {
		t.Fatal("expected a bindable call")
	}
	if call.CallID != "first" {
		t.Fatalf("expected the earlier-enqueued call first, got %s", call.CallID)
	}
}

func TestAskOnEmptyQueueReturnsFalse(t *testing.T) {
	w := New("empty", "default", 1)
	defer w.Stop()

	_, ok := w.Ask()
	if ok {
		t.Fatal("expected no bindable call on an empty queue")
	}
}

func TestDequeueRemovesCall(t *testing.T) {
	w := New("billing", "default", 1)
	defer w.Stop()

	w.Enqueue(1, "call-x", "h-x")

	if w.CallCount() != 1 {
		t.Fatalf("expected call count 1, got %d", w.CallCount())
	}

	call, ok := w.Dequeue()
	if !ok || call.CallID != "call-x" {
		t.Fatalf("unexpected dequeue result: %+v ok=%v", call, ok)
	}

	if w.CallCount() != 0 {
		t.Fatalf("expected call count 0 after dequeue, got %d", w.CallCount())
	}

	if _, ok := w.Ask(); ok {
		t.Fatal("expected Ask to report no bindable call after dequeue")
	}
}

func TestWeightFloorsAtOne(t *testing.T) {
	w := New("zero-weight", "default", 0)
	defer w.Stop()

	if w.Weight() != 1 {
		t.Fatalf("expected weight floored to 1, got %d", w.Weight())
	}
}

func TestSnapshotOrderedByPriorityThenTime(t *testing.T) {
	w := New("ordered", "default", 1)
	defer w.Stop()

	w.Enqueue(3, "c3", "h3")
	w.Enqueue(1, "c1", "h1")
	w.Enqueue(2, "c2", "h2")

	snap := w.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(snap))
	}
	want := []string{"c1", "c2", "c3"}
	for i, id := range want {
		if snap[i].CallID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, snap[i].CallID)
		}
	}
}

func TestStopMakesFurtherCallsNoop(t *testing.T) {
	w := New("stopping", "default", 1)
	w.Stop()

	// Calls issued after Stop must not block forever.
	done := make(chan struct{})
	go func() {
		w.Enqueue(1, "ignored", "h")
		_, _ = w.Ask()
		_ = w.CallCount()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("operations after Stop did not return")
	}
}
