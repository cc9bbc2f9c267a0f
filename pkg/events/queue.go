package events

import "sync"

const (
	// QueueBufferSize is the maximum number of buffered events. The
	// host thread never blocks on a full queue; extra events are
	// dropped and the periodic sweep picks the changes up instead.
	QueueBufferSize = 1024
)

// Queue carries events from the host thread to the sync workers.
type Queue interface {
	Enqueue(ev Event) bool
	Dequeue() <-chan Event
	Size() int
	Clear()
}

// InMemoryQueue implements an in-memory event queue.
type InMemoryQueue struct {
	ch   chan Event
	lock sync.RWMutex
}

// NewInMemoryQueue creates a new queue with the given capacity. A
// capacity at or below zero uses QueueBufferSize.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = QueueBufferSize
	}
	return &InMemoryQueue{
		ch: make(chan Event, capacity),
	}
}

// Enqueue adds an event without blocking. It reports whether the event
// was accepted.
func (q *InMemoryQueue) Enqueue(ev Event) bool {
	q.lock.RLock()
	defer q.lock.RUnlock()
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// Dequeue exposes the receive side for a worker select loop.
func (q *InMemoryQueue) Dequeue() <-chan Event {
	return q.ch
}

// Size returns the number of pending events.
func (q *InMemoryQueue) Size() int {
	q.lock.RLock()
	defer q.lock.RUnlock()
	return len(q.ch)
}

// Clear drains all pending events.
func (q *InMemoryQueue) Clear() {
	q.lock.Lock()
	defer q.lock.Unlock()
	for len(q.ch) > 0 {
		<-q.ch
	}
}
