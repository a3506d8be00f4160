// Package harness runs scripted feed sessions and checks what they did.
//
// A scenario describes a feed, optional persisted state, a flow of user and
// lifecycle steps, and assertions over the resulting trace and final state.
// Every run uses a manual clock, a deferred background runner, sequential ids
// and a fresh in-memory store, so identical scenarios always produce
// identical traces and golden snapshots.
//
// # Scenario Format
//
//	name: swipe_through_thread
//	description: "Horizontal swipes walk the stitches of one thread"
//	page_size: 2
//	config: |
//	  playback: qualify_after: "2s"
//	threads:
//	  - id: t0
//	    parent: { id: p0 }
//	    children: [{ id: c0a }, { id: c0b }]
//	setup:
//	  seen: [p9]
//	  checkpoint: { thread: 0, stitch: 1, age: "1h" }
//	flow:
//	  - action: move
//	    direction: left
//	    expect: { thread: 0, stitch: 1, video: c0a }
//	  - action: wait
//	    duration: "3s"
//	assertions:
//	  - type: trace_contains
//	    event: qualified
//	    video: c0a
//	  - type: final_state
//	    expect: { live_players: 2, seen_count: 1 }
//
// # Flow Actions
//
//   - move: committed move in direction (up, down, left, right)
//   - drag: drag with translation and velocity, ended immediately
//   - jump: direct move to thread and stitch
//   - wait: advance the manual clock by duration
//   - background, foreground: app lifecycle transitions
//   - kill: scoped kill broadcast with reason, sparing the except scopes
//   - finish: the active player reaches the end of its media
//
// After each step the harness settles: queued background jobs and loop tasks
// run until neither has work left. Time never moves unless a wait step says so.
//
// # Assertion Types
//
//   - trace_contains: an event of the kind (and video, if given) occurred
//   - trace_order: the first occurrences of the kinds appear in order
//   - trace_count: the kind (and video, if given) occurred exactly count times
//   - final_state: the named final state fields match (subset semantics)
package harness
