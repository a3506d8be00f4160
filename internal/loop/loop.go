package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrStopped is returned by Do when the loop no longer accepts tasks.
var ErrStopped = errors.New("loop stopped")

// Dispatcher marshals work onto the interaction goroutine.
type Dispatcher interface {
	// Post schedules fn. Returns false if fn will never run.
	Post(fn func()) bool
}

// Loop is the single-writer task loop.
//
// Thread-safety model:
//   - Post(): safe from any goroutine
//   - Run() / Drain(): must be called from exactly one goroutine, the one
//     that owns interaction state
type Loop struct {
	queue  *taskQueue
	logger *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for task panics and lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		lp.logger = l
	}
}

// New creates a loop. It does nothing until Run or Drain is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		queue:  newTaskQueue(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post implements Dispatcher.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	return l.queue.Enqueue(fn)
}

// Len returns the number of pending tasks.
func (l *Loop) Len() int {
	return l.queue.Len()
}

// Run executes tasks until ctx is cancelled or Stop is called.
// Tasks still queued when Stop is called are executed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("interaction loop starting")

	for {
		if fn, ok := l.queue.TryDequeue(); ok {
			l.execute(fn)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("interaction loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// Closed and drained
			if l.queue.Closed() && l.queue.Len() == 0 {
				l.logger.Debug("interaction loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain runs every pending task on the caller's goroutine, including tasks
// posted while draining, and returns how many ran. Used by tests and the
// simulator in place of Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		l.execute(fn)
		n++
	}
}

// Do posts fn and blocks until it has run or ctx is done.
// Must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue. Run returns once the remaining tasks have run.
func (l *Loop) Stop() {
	l.queue.Close()
}

// execute runs one task, logging instead of propagating a panic.
func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("interaction task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Immediate is a Dispatcher that runs fn on the caller's goroutine.
// Only for code that is already serialized, such as single-threaded tests.
type Immediate struct{}

// Post runs fn synchronously.
func (Immediate) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	fn()
	return true
}
