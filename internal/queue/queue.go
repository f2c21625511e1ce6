// Package queue serializes write steps per key in submission order.
package queue

import "sync"

// Queue keeps one FIFO chain per key. Each submitted step waits for the
// previous step on the same key to settle, successfully or not, before it
// runs. Steps on different keys never wait for each other.
type Queue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		tails: make(map[string]chan struct{}),
	}
}

// Submit appends step to key's chain, waits for it to run and returns its
// error. A panic in step is re-raised after the chain has been advanced.
func (q *Queue) Submit(key string, step func() error) error {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	if prev != nil {
		<-prev
	}

	defer func() {
		close(done)
		q.mu.Lock()
		// Idle chains are released; a newer submission keeps its own tail.
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}()

	return step()
}

// Drop forgets key's chain. Steps already waiting keep their place.
func (q *Queue) Drop(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tails, key)
}

// Pending returns the number of keys with a step in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
