package sim

import "sync"

// inbox is a shard's inbound template queue.
//
// It is unbounded so that routing never blocks, including when an entity
// enqueues a template onto the shard that is currently ticking it.
// push fails once the inbox is closed.
type inbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
}

func (q *inbox[T]) push(items ...T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, items...)
	return true
}

// drain removes and returns everything queued so far. Never blocks on an
// empty queue.
func (q *inbox[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *inbox[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

func (q *inbox[T]) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
