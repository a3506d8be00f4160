// Package navigation owns the viewer's position in the thread grid.
//
// The Controller turns committed moves into position changes, derives the
// surface offsets for the new position, drives the playback pool for the
// current thread's lane, and resumes playback once the transition settles.
// Raw drags go through a gesture.Classifier first.
package navigation
