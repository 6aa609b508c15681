package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fxtrader/internal/models"
)

var (
	ErrQueueClosed = errors.New("event queue closed")
	ErrQueueFull   = errors.New("event queue full")
)

// Policy decides what Publish does once the feed side is at capacity.
type Policy string

const (
	// PolicyDropOldest evicts the oldest queued tick to make room.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyBlock makes the producer wait until the dispatcher drains a tick.
	PolicyBlock Policy = "block"
	// PolicyReject returns ErrQueueFull to the producer.
	PolicyReject Policy = "reject"
)

// ParsePolicy accepts the values used in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyDropOldest, PolicyBlock, PolicyReject:
		return Policy(s), nil
	case "":
		return PolicyDropOldest, nil
	default:
		return "", fmt.Errorf("unknown queue policy %q", s)
	}
}

// Queue is an ordered FIFO of events shared by every producer and the dispatcher.
//
// Push is used by in-process producers (strategy, portfolio) and never blocks or drops.
// Publish is used by external feeds; when capacity > 0 the number of ticks waiting in
// the queue is bounded and the overflow Policy applies.
type Queue struct {
	mu       sync.Mutex
	items    []models.Event
	ticks    int
	capacity int
	policy   Policy
	freed    chan struct{} // closed and replaced whenever a tick leaves the queue
	closed   bool
	dropped  uint64
}

// New returns an unbounded queue, the one used for backtests.
func New() *Queue {
	return NewBounded(0, PolicyDropOldest)
}

// NewBounded returns a queue whose feed side holds at most capacity ticks.
// capacity <= 0 means unbounded.
func NewBounded(capacity int, policy Policy) *Queue {
	if policy == "" {
		policy = PolicyDropOldest
	}
	return &Queue{
		capacity: capacity,
		policy:   policy,
		freed:    make(chan struct{}),
	}
}

// Push appends e to the tail.
func (q *Queue) Push(e models.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.append(e)
	return nil
}

// Publish appends a feed-produced tick, applying the overflow policy.
func (q *Queue) Publish(ctx context.Context, t models.TickEvent) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity <= 0 || q.ticks < q.capacity {
			q.append(t)
			q.mu.Unlock()
			return nil
		}

		switch q.policy {
		case PolicyDropOldest:
			q.dropOldestTick()
			q.append(t)
			q.mu.Unlock()
			return nil
		case PolicyReject:
			q.dropped++
			q.mu.Unlock()
			return ErrQueueFull
		}

		wait := q.freed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// TryPop removes the head without blocking. ok is false when the queue is empty.
func (q *Queue) TryPop() (e models.Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	e = q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if _, isTick := e.(models.TickEvent); isTick {
		q.ticks--
		q.signalFreed()
	}
	return e, true
}

// Len is the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped is the number of ticks evicted or rejected by the overflow policy.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops the queue from accepting events and wakes blocked producers.
// Queued events can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalFreed()
}

func (q *Queue) append(e models.Event) {
	q.items = append(q.items, e)
	if _, isTick := e.(models.TickEvent); isTick {
		q.ticks++
	}
}

func (q *Queue) dropOldestTick() {
	for i, e := range q.items {
		if _, isTick := e.(models.TickEvent); !isTick {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
		q.ticks--
		q.dropped++
		return
	}
}

func (q *Queue) signalFreed() {
	close(q.freed)
	q.freed = make(chan struct{})
}
