package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/frame-relay/internal/packet"
)

func TestQueue_NeverExceedsCapacity(t *testing.T) {
	q := New(5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = q.Put(Item{FrameNumber: uint32(n)}, false, 0)
			if q.Len() > 5 {
				t.Errorf("queue length %d exceeds capacity 5", q.Len())
			}
		}(i)
	}
	wg.Wait()
	if q.Len() > 5 {
		t.Fatalf("final length %d exceeds capacity 5", q.Len())
	}
}

func TestQueue_NonBlockingPutDropsOldestWhenFull(t *testing.T) {
	q := New(2)
	_ = q.Put(Item{FrameNumber: 1}, false, 0)
	_ = q.Put(Item{FrameNumber: 2}, false, 0)
	_ = q.Put(Item{FrameNumber: 3}, false, 0)

	first, err := q.Get(false, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.FrameNumber != 2 {
		t.Fatalf("oldest surviving item = %d, want 2 (1 should have been dropped)", first.FrameNumber)
	}
}

func TestQueue_GetEmptyTimesOut(t *testing.T) {
	q := New(1)
	_, err := q.Get(true, 20*time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("Get() on empty queue = %v, want ErrEmpty", err)
	}
}

// TestQueue_HaltIdempotence: once Halt is called, every blocked and every
// subsequent Put/Get returns ErrHalted promptly, and calling Halt again is
// a no-op.
func TestQueue_HaltIdempotence(t *testing.T) {
	q := New(1)
	_ = q.Put(Item{FrameNumber: 1}, false, 0) // fill the queue

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := q.Get(true, time.Second) // succeeds immediately (queue has an item)
		results <- err
	}()
	go func() {
		defer wg.Done()
		// second Get call blocks until Halt wakes it.
		time.Sleep(10 * time.Millisecond)
		_, err := q.Get(true, 5*time.Second)
		results <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Halt()
	q.Halt() // idempotent

	wg.Wait()
	close(results)
	sawHalted := false
	for err := range results {
		if errors.Is(err, ErrHalted) {
			sawHalted = true
		}
	}
	if !sawHalted {
		t.Fatalf("expected at least one blocked Get to observe ErrHalted")
	}

	if err := q.Put(Item{FrameNumber: 2}, true, time.Second); !errors.Is(err, ErrHalted) {
		t.Fatalf("Put after halt = %v, want ErrHalted", err)
	}
	if _, err := q.Get(true, time.Second); !errors.Is(err, ErrHalted) {
		t.Fatalf("Get after halt = %v, want ErrHalted", err)
	}
}

func TestQueue_ItemCarriesFrame(t *testing.T) {
	q := New(1)
	p := packet.Packet{FrameNumber: 7, Type: packet.FRAME}
	if err := q.Put(Item{FrameNumber: 7, Frame: p}, true, time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := q.Get(true, time.Second)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Frame.FrameNumber != 7 {
		t.Fatalf("got.Frame.FrameNumber = %d, want 7", got.Frame.FrameNumber)
	}
}
