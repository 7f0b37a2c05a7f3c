package buffer

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

// DefaultQueueCapacity is the memory queue size used when none is configured.
const DefaultQueueCapacity = 64

// Queue is a fixed-capacity FIFO of samples safe for one producer and one
// consumer running on different goroutines.
//
// Push, Peek and Pop never block. Wait lets a dedicated consumer sleep
// until a sample is available.
type Queue struct {
	mu     sync.Mutex
	ring   []telemetry.Sample
	head   int // index of the oldest sample
	count  int
	notify chan struct{} // one-slot wake-up for Wait
}

// NewQueue creates a queue holding at most capacity samples.
// A capacity below 1 falls back to DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		ring:   make([]telemetry.Sample, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends s at the back. Returns ErrQueueFull when no slot is free.
func (q *Queue) Push(s telemetry.Sample) error {
	q.mu.Lock()
	if q.count == len(q.ring) {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.ring[(q.head+q.count)%len(q.ring)] = s
	q.count++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Peek returns the oldest sample without removing it.
func (q *Queue) Peek() (telemetry.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return telemetry.Sample{}, ErrQueueEmpty
	}
	return q.ring[q.head], nil
}

// Pop removes and returns the oldest sample.
func (q *Queue) Pop() (telemetry.Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return telemetry.Sample{}, ErrQueueEmpty
	}
	s := q.ring[q.head]
	q.ring[q.head] = telemetry.Sample{}
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	return s, nil
}

// Wait blocks until the queue holds at least one sample or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		if q.Len() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.ring)
}

// Free returns the number of empty slots.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ring) - q.count
}

// Info returns the occupancy as "[n/cap]".
func (q *Queue) Info() string {
	return fmt.Sprintf("[%d/%d]", q.Len(), q.Cap())
}
