package gocam

import (
	"testing"
	"time"
)

func testFrame(index uint64) Frame {
	return Frame{
		FrameIndex: index,
		ctrl:       newFrameControl(func() {}),
	}
}

func TestReadyQueueFIFOOrder(t *testing.T) {
	q := NewReadyQueue(nil)
	q.SetMaxAvailable(10)
	for i := uint64(0); i < 3; i++ {
		q.Push(testFrame(i))
	}
	for i := uint64(0); i < 3; i++ {
		f, ok := q.Pop(0)
		if !ok {
			t.Fatalf("expected frame %d", i)
		}
		if f.FrameIndex != i {
			t.Errorf("Pop order = %d, want %d", f.FrameIndex, i)
		}
	}
}

func TestReadyQueueDropsOldestAtCapacity(t *testing.T) {
	q := NewReadyQueue(nil)
	q.SetMaxAvailable(2)
	q.Push(testFrame(0))
	q.Push(testFrame(1))
	q.Push(testFrame(2)) // should evict frame 0

	f, ok := q.Pop(0)
	if !ok || f.FrameIndex != 1 {
		t.Fatalf("expected frame 1 to survive eviction, got ok=%v idx=%d", ok, f.FrameIndex)
	}
	f, ok = q.Pop(0)
	if !ok || f.FrameIndex != 2 {
		t.Fatalf("expected frame 2, got ok=%v idx=%d", ok, f.FrameIndex)
	}
}

func TestReadyQueuePopNonBlockingOnEmpty(t *testing.T) {
	q := NewReadyQueue(nil)
	if _, ok := q.Pop(0); ok {
		t.Error("expected Pop(0) on an empty queue to return immediately with ok=false")
	}
}

func TestReadyQueueStopUnblocksPop(t *testing.T) {
	q := NewReadyQueue(nil)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(Infinite)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Pop to return ok=false after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock a pending Pop")
	}
}

// TestReadyQueueParkPrefersDeclinedOverFresh verifies that a parked
// (declined) frame is handed to the next Pop ahead of anything already
// buffered, and that popForDelivery never sees it -- a declined frame goes
// to a grabber, never back to the delivery goroutine that just declined it.
func TestReadyQueueParkPrefersDeclinedOverFresh(t *testing.T) {
	q := NewReadyQueue(nil)
	q.SetMaxAvailable(5)
	q.Push(testFrame(1))
	q.Push(testFrame(2))

	declined, ok := q.popForDelivery(0)
	if !ok || declined.FrameIndex != 1 {
		t.Fatalf("setup: expected frame 1, got ok=%v idx=%d", ok, declined.FrameIndex)
	}
	q.Park(declined)

	if f, ok := q.popForDelivery(0); !ok || f.FrameIndex != 2 {
		t.Errorf("popForDelivery should skip the parked frame, got ok=%v idx=%d", ok, f.FrameIndex)
	}

	q.Park(declined)
	f, ok := q.Pop(0)
	if !ok || f.FrameIndex != 1 {
		t.Errorf("expected Pop to return the parked frame, got ok=%v idx=%d", ok, f.FrameIndex)
	}
}
