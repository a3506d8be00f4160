// Package clock provides wall time and one-shot timers behind an interface so
// that timer-driven behavior (settle delays, view qualification, pruning) can
// be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current time and schedules one-shot callbacks.
//
// Callbacks run on a goroutine owned by the implementation. Components that
// mutate interaction state must hop back onto their loop before touching it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running.
	// Returns false if it already ran or was already stopped.
	Stop() bool
}

// Real is the wall clock backed by package time.
type Real struct{}

// New returns the wall clock.
func New() Real {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
