// Package loop implements the single-writer interaction loop.
//
// Every mutation of grid position, pool slots and cell state happens on the
// goroutine that runs the loop. Work produced elsewhere (timer callbacks,
// background player creation, player end-of-media notifications,
// lifecycle signals from the host) is marshaled back with Post.
//
// Tasks run one at a time in FIFO order. A task that panics is logged and
// the loop continues with the next task.
package loop
