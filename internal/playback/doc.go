// Package playback owns the bounded set of live media players.
//
// A Pool holds at most two slots: the active player for the current index of
// its lane, and one muted, paused look-ahead for the next index. Look-ahead
// players are created on a background runner and handed back to the
// interaction loop; a result that arrives after the pool has moved on is
// detached instead of stored.
//
// Thread-safety: every method except the background creation itself must be
// called on the interaction loop.
package playback
