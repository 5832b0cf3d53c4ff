package engine

import "sync"

// fifoQueue serializes jobs strictly in submission order, the channel
// equivalent of chaining promises: each job waits for the previous job's done
// channel before running. At most one job executes at a time, so two rapid
// saves can never interleave at the server or settle out of order.
type fifoQueue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// Do runs fn after every previously submitted job has settled. It blocks the
// calling goroutine until fn returns.
func (q *fifoQueue) Do(fn func()) {
	q.mu.Lock()
	previous := q.tail
	done := make(chan struct{})
	q.tail = done
	q.mu.Unlock()

	if previous != nil {
		<-previous
	}
	defer close(done)
	fn()
}
