// Package media defines the player resources the playback engine manages.
//
// Decoding is not done here. A Player is whatever the host platform provides
// (a native player, a GStreamer pipeline, a test double); the engine only
// needs to create, mute, play, pause, rewind and detach it.
package media

import (
	"context"
	"errors"

	"github.com/roach88/stitchfeed/internal/model"
)

var (
	// ErrInvalidSource is returned by a Factory for an empty or malformed media URL.
	ErrInvalidSource = errors.New("invalid media source")

	// ErrUnreachable is returned by a Factory when the media cannot be opened.
	ErrUnreachable = errors.New("media source unreachable")
)

// Player is one live media-player resource bound to a single video.
//
// Methods on a detached player are no-ops.
type Player interface {
	VideoID() string

	Play()
	Pause()
	Playing() bool

	SetMuted(muted bool)
	Muted() bool

	// SeekToStart rewinds to the first frame without changing play state.
	SeekToStart()

	// Detach pauses the player and releases its media source. Idempotent.
	Detach()
	Detached() bool

	// OnEnd registers fn to be called each time playback reaches the end of
	// the media. fn may run on any goroutine. The returned func unregisters it.
	OnEnd(fn func()) (cancel func())
}

// Factory creates players. Create may block on network I/O and is called off
// the interaction goroutine for look-ahead slots.
type Factory interface {
	Create(ctx context.Context, video model.VideoRecord) (Player, error)
}

// Surface is the display target a cell renders its player into.
type Surface interface {
	Attach(p Player)
	// Release detaches whatever player is shown and falls back to the
	// placeholder (thumbnail).
	Release()
}

// Teardown pauses and detaches p. Safe on nil.
func Teardown(p Player) {
	if p == nil {
		return
	}
	p.Pause()
	p.Detach()
}
