// Package delayqueue implements an unbounded, time-ordered queue whose entries
// only become available once their effective time has passed.
package delayqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// pollInterval caps each wait so manual clocks that move without an Offer are
// still observed.
const pollInterval = 50 * time.Millisecond

// Queue is a min-heap of T ordered by less. Offer never blocks; Take blocks
// until the head entry is eligible. Safe for concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	items  entries[T]
	timeOf func(T) time.Time
	clock  Clock
	wake   chan struct{}
}

// New creates a queue. less must order entries by effective time first;
// timeOf returns an entry's effective time. A nil clock uses the wall clock.
func New[T any](less func(a, b T) bool, timeOf func(T) time.Time, clock Clock) *Queue[T] {
	if clock == nil {
		clock = SystemClock()
	}
	return &Queue[T]{
		items:  entries[T]{less: less},
		timeOf: timeOf,
		clock:  clock,
		wake:   make(chan struct{}, 1),
	}
}

// Offer inserts item.
func (q *Queue[T]) Offer(item T) {
	q.mu.Lock()
	heap.Push(&q.items, item)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued entries, eligible or not.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Peek returns the head entry regardless of eligibility.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.data[0], true
}

// TryTake removes and returns the head entry if it is eligible now.
func (q *Queue[T]) TryTake() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok, _ := q.takeLocked()
	return item, ok
}

// TryTakeIf removes and returns the head entry if it is eligible now and
// matches pred. Peek and take happen under one lock.
func (q *Queue[T]) TryTakeIf(pred func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 || !pred(q.items.data[0]) {
		var zero T
		return zero, false
	}
	item, ok, _ := q.takeLocked()
	return item, ok
}

// takeLocked pops the head when eligible. Otherwise it reports how long until
// the head becomes eligible, or -1 when the queue is empty.
func (q *Queue[T]) takeLocked() (T, bool, time.Duration) {
	var zero T
	if q.items.Len() == 0 {
		return zero, false, -1
	}
	wait := q.timeOf(q.items.data[0]).Sub(q.clock.Now())
	if wait > 0 {
		return zero, false, wait
	}
	return heap.Pop(&q.items).(T), true, 0
}

// Take blocks until an eligible entry is available and removes it. It returns
// false with a nil error when timeout elapses first, and ctx.Err() when ctx
// ends. A timeout <= 0 waits until ctx ends.
func (q *Queue[T]) Take(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	var deadline <-chan time.Time
	if timeout > 0 {
		idle := time.NewTimer(timeout)
		defer idle.Stop()
		deadline = idle.C
	}

	for {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}

		q.mu.Lock()
		item, ok, wait := q.takeLocked()
		q.mu.Unlock()
		if ok {
			return item, true, nil
		}

		if wait < 0 || wait > pollInterval {
			wait = pollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false, ctx.Err()
		case <-deadline:
			timer.Stop()
			return zero, false, nil
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Clear drops every queued entry and returns how many were dropped.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	clear(q.items.data)
	q.items.data = q.items.data[:0]
	return n
}

type entries[T any] struct {
	data []T
	less func(a, b T) bool
}

func (e entries[T]) Len() int           { return len(e.data) }
func (e entries[T]) Less(i, j int) bool { return e.less(e.data[i], e.data[j]) }
func (e entries[T]) Swap(i, j int)      { e.data[i], e.data[j] = e.data[j], e.data[i] }

func (e *entries[T]) Push(x any) { e.data = append(e.data, x.(T)) }

func (e *entries[T]) Pop() any {
	old := e.data
	n := len(old)
	item := old[n-1]
	var zero T
	old[n-1] = zero
	e.data = old[:n-1]
	return item
}
