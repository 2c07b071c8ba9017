package rfb

import (
	"sync"

	"github.com/eapache/queue"
)

// writeQueue is the ordered, thread-safe FIFO between arbitrary Send
// callers and the writer goroutine. Enqueue never blocks; dequeue blocks
// until a buffer is available. A nil buffer is the shutdown sentinel that
// releases the writer loop.
type writeQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *queue.Queue
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *writeQueue) enqueue(buf []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items.Add(buf)
	q.cond.Signal()
}

// shutdown places the sentinel on the queue, waking the writer so it can
// exit and trigger teardown.
func (q *writeQueue) shutdown() {
	q.enqueue(nil)
}

// dequeue blocks until a buffer or the sentinel is available. ok is false
// when the sentinel was dequeued.
func (q *writeQueue) dequeue() (buf []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() == 0 {
		q.cond.Wait()
	}
	buf = q.items.Remove().([]byte)
	if buf == nil {
		return nil, false
	}
	return buf, true
}

func (q *writeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
