// Package session is the feed's composition root.
//
// A Session owns one interaction loop and wires the pieces around it: the
// navigation controller drives the playback pool, the on-screen cell binds
// to whatever the pool holds for the current video, qualified views are
// recorded and marked seen, and every position change is checkpointed so a
// later session can resume. Threads are paged in from a model.DataSource as
// the viewer nears the end of what is loaded.
package session
