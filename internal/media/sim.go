package media

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/roach88/stitchfeed/internal/model"
)

// SimFactory creates SimPlayers and keeps counts of live resources.
//
// It backs the CLI simulator and tests. Creating a player for a video whose
// MediaURL is empty or unparsable fails with ErrInvalidSource; ids listed in
// Unreachable fail with ErrUnreachable.
//
// Thread-safety: SimFactory is safe for concurrent use.
type SimFactory struct {
	mu          sync.Mutex
	unreachable map[string]bool
	players     []*SimPlayer
	created     int
	maxLive     int
}

// NewSimFactory creates a factory. Videos with the given ids fail to open.
func NewSimFactory(unreachable ...string) *SimFactory {
	f := &SimFactory{unreachable: make(map[string]bool)}
	for _, id := range unreachable {
		f.unreachable[id] = true
	}
	return f
}

// Create implements Factory.
func (f *SimFactory) Create(ctx context.Context, video model.VideoRecord) (Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if video.MediaURL == "" {
		return nil, fmt.Errorf("video %s: %w", video.ID, ErrInvalidSource)
	}
	if _, err := url.Parse(video.MediaURL); err != nil {
		return nil, fmt.Errorf("video %s: %w", video.ID, ErrInvalidSource)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unreachable[video.ID] {
		return nil, fmt.Errorf("video %s: %w", video.ID, ErrUnreachable)
	}

	f.created++
	p := &SimPlayer{factory: f, videoID: video.ID, serial: f.created}
	f.players = append(f.players, p)
	if live := f.liveLocked(); live > f.maxLive {
		f.maxLive = live
	}
	return p, nil
}

// Live returns the number of players created and not yet detached.
func (f *SimFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveLocked()
}

// MaxLive returns the highest Live value ever observed.
func (f *SimFactory) MaxLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// Created returns the total number of players created.
func (f *SimFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// LivePlayers returns the players that are not detached, in creation order.
func (f *SimFactory) LivePlayers() []*SimPlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SimPlayer
	for _, p := range f.players {
		if !p.detached {
			out = append(out, p)
		}
	}
	return out
}

// Audible returns the live players that are playing and unmuted.
func (f *SimFactory) Audible() []*SimPlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SimPlayer
	for _, p := range f.players {
		if !p.detached && p.playing && !p.muted {
			out = append(out, p)
		}
	}
	return out
}

// Latest returns the most recently created live player for videoID, or nil.
func (f *SimFactory) Latest(videoID string) *SimPlayer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.players) - 1; i >= 0; i-- {
		if p := f.players[i]; p.videoID == videoID && !p.detached {
			return p
		}
	}
	return nil
}

func (f *SimFactory) liveLocked() int {
	n := 0
	for _, p := range f.players {
		if !p.detached {
			n++
		}
	}
	return n
}

// SimPlayer is an in-memory Player. State is guarded by its factory's mutex.
type SimPlayer struct {
	factory  *SimFactory
	videoID  string
	serial   int
	playing  bool
	muted    bool
	detached bool
	seeks    int
	nextEnd  int
	onEnd    map[int]func()
}

// VideoID implements Player.
func (p *SimPlayer) VideoID() string { return p.videoID }

// Serial is the player's creation number within its factory.
func (p *SimPlayer) Serial() int { return p.serial }

// Play implements Player.
func (p *SimPlayer) Play() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	if !p.detached {
		p.playing = true
	}
}

// Pause implements Player.
func (p *SimPlayer) Pause() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	p.playing = false
}

// Playing implements Player.
func (p *SimPlayer) Playing() bool {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	return p.playing
}

// SetMuted implements Player.
func (p *SimPlayer) SetMuted(muted bool) {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	if !p.detached {
		p.muted = muted
	}
}

// Muted implements Player.
func (p *SimPlayer) Muted() bool {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	return p.muted
}

// SeekToStart implements Player.
func (p *SimPlayer) SeekToStart() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	if !p.detached {
		p.seeks++
	}
}

// Seeks returns how many times SeekToStart took effect.
func (p *SimPlayer) Seeks() int {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	return p.seeks
}

// Detach implements Player.
func (p *SimPlayer) Detach() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	p.playing = false
	p.detached = true
	p.onEnd = nil
}

// Detached implements Player.
func (p *SimPlayer) Detached() bool {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	return p.detached
}

// OnEnd implements Player.
func (p *SimPlayer) OnEnd(fn func()) func() {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	if p.onEnd == nil {
		p.onEnd = make(map[int]func())
	}
	p.nextEnd++
	id := p.nextEnd
	p.onEnd[id] = fn
	return func() {
		p.factory.mu.Lock()
		defer p.factory.mu.Unlock()
		delete(p.onEnd, id)
	}
}

// Finish simulates reaching the end of the media: playback stops and every
// end observer is called on the caller's goroutine. No-op when detached.
func (p *SimPlayer) Finish() {
	p.factory.mu.Lock()
	if p.detached {
		p.factory.mu.Unlock()
		return
	}
	p.playing = false
	ids := make([]int, 0, len(p.onEnd))
	for id := range p.onEnd {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.onEnd[id])
	}
	p.factory.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SimSurface records which player is attached.
type SimSurface struct {
	mu       sync.Mutex
	player   Player
	attaches int
	releases int
}

// NewSimSurface creates an empty surface.
func NewSimSurface() *SimSurface {
	return &SimSurface{}
}

// Attach implements Surface.
func (s *SimSurface) Attach(p Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = p
	s.attaches++
}

// Release implements Surface.
func (s *SimSurface) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = nil
	s.releases++
}

// Player returns the attached player, nil when showing the placeholder.
func (s *SimSurface) Player() Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.player
}

// Releases returns how many times Release was called.
func (s *SimSurface) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}
