package browser

import "sync"

// eventQueue is an unbounded FIFO between the CDP listener, which must never
// block, and a consumer reading from out.
type eventQueue struct {
	mu   sync.Mutex
	buf  []ResponseEvent
	wake chan struct{}
	stop chan struct{}
	once sync.Once
	out  chan ResponseEvent
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan ResponseEvent),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev ResponseEvent) {
	select {
	case <-q.stop:
		return
	default:
	}

	q.mu.Lock()
	q.buf = append(q.buf, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops delivery. Events still buffered are dropped.
func (q *eventQueue) close() {
	q.once.Do(func() { close(q.stop) })
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}
		ev := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.stop:
			return
		}
	}
}
