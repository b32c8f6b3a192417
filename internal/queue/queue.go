// Package queue implements the bounded FIFO frame pipeline between a
// FrameProducer and its consumer(s): blocking Put/Get with timeouts, a
// producer-side freshest-frame-wins overflow policy, and a monotone halt
// signal that wakes every blocked caller. Modeled on the teacher's
// internal/hub (monotone, sync.Once-guarded Closed channel for idempotent
// broadcast) and internal/transport.AsyncTx (single mutex-guarded buffer,
// context-driven shutdown), generalized here to a true blocking bounded
// queue rather than a fire-and-forget async writer.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kstaniek/frame-relay/internal/packet"
)

// DefaultCapacity is the queue's default bound.
const DefaultCapacity = 30

// Item is one (frame_number, frame) tuple flowing through the pipeline.
type Item struct {
	FrameNumber uint32
	Frame       packet.Packet
}

// ErrEmpty is returned by Get when the timeout elapses with no item
// available.
var ErrEmpty = errors.New("queue: empty")

// ErrFull is returned by a blocking Put when its timeout elapses with the
// queue still full.
var ErrFull = errors.New("queue: full")

// ErrHalted is returned by any blocking call once the shared halt signal has
// been raised.
var ErrHalted = errors.New("queue: halted")

// FrameQueue is a bounded, thread/task-safe FIFO of Item. Zero value is not
// usable; construct with New.
type FrameQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []Item
	capacity int
	haltCtx  context.Context
	halt     context.CancelFunc
	haltOnce sync.Once
}

// New creates a FrameQueue with the given capacity (DefaultCapacity if <=0).
func New(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &FrameQueue{
		capacity: capacity,
		haltCtx:  ctx,
		halt:     cancel,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Halt raises the shared halt signal. Idempotent; wakes every blocked Put
// and Get, which then return ErrHalted.
func (q *FrameQueue) Halt() {
	q.haltOnce.Do(func() {
		q.mu.Lock()
		q.halt()
		q.mu.Unlock()
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
	})
}

// Halted reports whether Halt has been called.
func (q *FrameQueue) Halted() bool {
	select {
	case <-q.haltCtx.Done():
		return true
	default:
		return false
	}
}

// Put enqueues item, blocking up to timeout if the queue is full. If block
// is false, a full queue drops the oldest item to make room (producer-side
// backpressure: prefer the freshest frame) and the put always succeeds,
// matching the protocol's "prefer the freshest frame" overflow rule.
func (q *FrameQueue) Put(item Item, block bool, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Halted() {
		return ErrHalted
	}

	if len(q.items) >= q.capacity {
		if !block {
			q.items = append(q.items[1:], item)
			q.notEmpty.Signal()
			return nil
		}
		if !q.waitLocked(q.notFull, timeout, func() bool { return len(q.items) < q.capacity }) {
			if q.Halted() {
				return ErrHalted
			}
			return ErrFull
		}
	}

	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return nil
}

// Get dequeues the oldest item, blocking up to timeout if the queue is
// empty. Returns ErrEmpty on timeout, ErrHalted if the halt signal fires
// while waiting.
func (q *FrameQueue) Get(block bool, timeout time.Duration) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.Halted() {
		return Item{}, ErrHalted
	}

	if len(q.items) == 0 {
		if !block {
			return Item{}, ErrEmpty
		}
		if !q.waitLocked(q.notEmpty, timeout, func() bool { return len(q.items) > 0 }) {
			if q.Halted() {
				return Item{}, ErrHalted
			}
			return Item{}, ErrEmpty
		}
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return item, nil
}

// Len returns the current number of queued items.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// waitLocked blocks on cond (mutex already held) until cond.Wait wakes it
// and either done() is true or halt fires, or timeout elapses. Returns true
// if done() became true before timeout/halt.
//
// sync.Cond has no built-in timeout, so a timer goroutine broadcasts on
// expiry; this mirrors the Go standard idiom for bounded-wait condition
// variables (there is no direct stdlib primitive for it).
func (q *FrameQueue) waitLocked(cond *sync.Cond, timeout time.Duration, done func() bool) bool {
	if done() {
		return true
	}
	if q.Halted() {
		return false
	}

	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(timeout)
	for !done() {
		if q.Halted() {
			return false
		}
		if !time.Now().Before(deadline) {
			return false
		}
		cond.Wait()
	}
	return true
}
