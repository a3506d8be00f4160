package testutil

import "sync"

// Background is a deferred runner for work that production code hands to a
// goroutine. Jobs queue up until RunAll is called, so tests choose exactly
// when asynchronous work completes relative to the interaction loop.
//
// Thread-safety: safe for concurrent use. Jobs run without the mutex held.
type Background struct {
	mu   sync.Mutex
	jobs []func()
}

// NewBackground creates an empty runner.
func NewBackground() *Background {
	return &Background{}
}

// Go queues fn. Its signature matches the background-runner options of the
// playback pool and the cell controller.
func (b *Background) Go(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = append(b.jobs, fn)
}

// Pending returns the number of queued jobs.
func (b *Background) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

// RunAll runs queued jobs in FIFO order, including jobs queued while running,
// and returns how many ran.
func (b *Background) RunAll() int {
	n := 0
	for {
		b.mu.Lock()
		if len(b.jobs) == 0 {
			b.mu.Unlock()
			return n
		}
		fn := b.jobs[0]
		b.jobs = b.jobs[1:]
		b.mu.Unlock()

		fn()
		n++
	}
}

// Discard drops queued jobs without running them and returns how many were dropped.
func (b *Background) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.jobs)
	b.jobs = nil
	return n
}
