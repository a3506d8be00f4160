// Package cell drives the lifecycle of one on-screen video cell.
//
// A Controller binds a video to a display surface, plays or pauses it as the
// cell becomes active or inactive, loops it at end of media, and reports a
// view once the video has been active for the qualification threshold. It
// reacts to app background/foreground signals and to kill broadcasts for its
// context, and releases everything it holds on Close.
//
// All methods must be called on the interaction loop. Timer and media
// callbacks are posted back to the loop through the configured dispatcher.
package cell
