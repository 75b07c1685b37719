package network

import "sync"

// Queue is an unbounded FIFO of envelopes safe for one producer and one
// consumer goroutine (or more). Push never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends env and wakes a waiter, if any.
func (q *Queue) Push(env Envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns everything queued, oldest first.
func (q *Queue) Drain() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns a channel that receives after a Push.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}
