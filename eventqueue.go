package rnet

import "sync"

// eventQueue is the FIFO hand-off from the I/O and logic threads to
// the host poll thread (§4.1), bounded at max entries (0 means
// unbounded). enqueue either dispatches inline when unsynced is set,
// bypassing the queue entirely, or appends under its own mutex,
// distinct from the pool's. poll drains one entry at a time, never
// holding the lock across dispatch.
type eventQueue struct {
	unsynced bool
	max      int
	dispatch func(*Event)

	mu    sync.Mutex
	items []*Event
}

func newEventQueue(unsynced bool, max int, dispatch func(*Event)) *eventQueue {
	return &eventQueue{unsynced: unsynced, max: max, dispatch: dispatch}
}

// enqueue accepts e, or reports false without queuing it if the queue
// is already at capacity: the bounded-latency hand-off of C1 means a
// host that has stopped polling must not let the queue grow without
// bound.
func (q *eventQueue) enqueue(e *Event) bool {
	if q.unsynced {
		q.dispatch(e)
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.max > 0 && len(q.items) >= q.max {
		return false
	}
	q.items = append(q.items, e)
	return true
}

// poll drains every currently-queued Event, dispatching each on the
// calling (host) goroutine.
func (q *eventQueue) poll() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return n
		}
		e := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.dispatch(e)
		n++
	}
}
