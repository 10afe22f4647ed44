package realtime

import "sync"

// transitionQueue applies presence transitions one at a time in the order
// they were pushed. push never blocks.
type transitionQueue struct {
	mu     sync.Mutex
	items  []Transition
	closed bool
	wake   chan struct{}
	done   chan struct{}
	apply  func(Transition)
}

func newTransitionQueue(apply func(Transition)) *transitionQueue {
	q := &transitionQueue{
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		apply: apply,
	}
	go q.run()
	return q
}

func (q *transitionQueue) push(t Transition) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, t)
	q.mu.Unlock()
	q.signal()
}

func (q *transitionQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *transitionQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()
		for _, t := range batch {
			q.apply(t)
		}
	}
}

// close stops accepting transitions and waits until the queued ones are applied.
func (q *transitionQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	<-q.done
}
