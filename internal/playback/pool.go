package playback

import (
	"context"
	"log/slog"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/loop"
	"github.com/roach88/stitchfeed/internal/media"
	"github.com/roach88/stitchfeed/internal/model"
)

// MaxSlots is the number of players a pool may hold at once.
const MaxSlots = 2

type slot struct {
	index   int
	videoID string
	player  media.Player
}

// Stats counts pool activity.
type Stats struct {
	Created         int // players placed in a slot
	CreateFailures  int
	Adopted         int // look-ahead players promoted to active
	PreloadsStored  int
	PreloadsDropped int // stale look-ahead results detached on arrival
	Kills           int
}

// Pool is the playback pool for one lane of videos.
type Pool struct {
	factory    media.Factory
	dispatch   loop.Dispatcher
	background func(func())
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	bus     *bus.Bus
	scope   bus.Scope
	subs    []*bus.Subscription

	videos     []model.VideoRecord
	current    int
	active     *slot
	preloaded  *slot
	generation uint64

	// Look-ahead bookkeeping. At most one creation is in flight so that the
	// in-flight player plus the active slot never exceed MaxSlots.
	wantNext int
	inflight bool
	killed   bool

	// backgrounded holds every player paused until the app returns.
	backgrounded bool

	stats Stats
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithBackground sets the runner for look-ahead creation.
// The default starts a goroutine.
func WithBackground(run func(func())) Option {
	return func(p *Pool) { p.background = run }
}

// WithContext sets the parent context passed to the factory.
func WithContext(ctx context.Context) Option {
	return func(p *Pool) { p.ctx = ctx }
}

// WithKillScope subscribes the pool to kill broadcasts for scope on b, and to
// its background/foreground topics. Immune scopes are accepted and simply
// never receive kills.
func WithKillScope(b *bus.Bus, scope bus.Scope) Option {
	return func(p *Pool) {
		p.bus = b
		p.scope = scope
	}
}

// New creates a pool. dispatch must post onto the loop that calls the pool.
func New(factory media.Factory, dispatch loop.Dispatcher, opts ...Option) *Pool {
	p := &Pool{
		factory:    factory,
		dispatch:   dispatch,
		background: func(fn func()) { go fn() },
		logger:     slog.Default(),
		ctx:        context.Background(),
		wantNext:   -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(p.ctx)

	if p.bus != nil {
		p.subscribe()
	}
	return p
}

func (p *Pool) subscribe() {
	add := func(sub *bus.Subscription, err error) {
		if err != nil {
			p.logger.Warn("pool subscription failed", "context", string(p.scope), "error", err)
			return
		}
		p.subs = append(p.subs, sub)
	}
	add(p.bus.Subscribe(bus.TopicBackground, func() { p.dispatch.Post(p.enterBackground) }))
	add(p.bus.Subscribe(bus.TopicForeground, func() { p.dispatch.Post(p.enterForeground) }))
	if !p.bus.Immune(p.scope) {
		add(p.bus.SubscribeKill(p.scope, func(bus.KillSignal) {
			p.dispatch.Post(p.kill)
		}))
	}
}

// Setup discards every slot and starts the lane at index 0: the first video
// plays unmuted and the second is preloaded in the background.
func (p *Pool) Setup(videos []model.VideoRecord) {
	p.reset(videos)
	if len(p.videos) == 0 {
		return
	}
	p.synthesize(0)
	p.requestPreload(1)
}

// Activate discards every slot and starts the lane at index, clamped into
// range. Only the active player is created; look-ahead resumes on the next
// NavigateNext.
func (p *Pool) Activate(videos []model.VideoRecord, index int) {
	p.reset(videos)
	if len(p.videos) == 0 {
		return
	}
	if index < 0 {
		index = 0
	}
	if index >= len(p.videos) {
		index = len(p.videos) - 1
	}
	p.current = index
	p.synthesize(index)
}

// NavigateNext makes the next index active, adopting its look-ahead player
// when one is ready. Returns false at the end of the lane.
func (p *Pool) NavigateNext() bool {
	next := p.current + 1
	if next >= len(p.videos) {
		p.logger.Debug("navigate next at end of lane", "index", p.current)
		return false
	}

	p.teardownActive()
	p.generation++
	p.killed = false
	p.current = next

	if p.preloaded != nil && p.preloaded.index == next {
		s := p.preloaded
		p.preloaded = nil
		s.player.SetMuted(false)
		p.play(s.player)
		p.active = s
		p.stats.Adopted++
		p.logger.Debug("adopted look-ahead player", "video_id", s.videoID, "index", next)
	} else {
		p.teardownPreloaded()
		p.synthesize(next)
	}

	p.requestPreload(next + 1)
	return true
}

// NavigatePrevious makes the previous index active. Any forward look-ahead
// is discarded. Returns false at the start of the lane.
func (p *Pool) NavigatePrevious() bool {
	prev := p.current - 1
	if prev < 0 || prev >= len(p.videos) {
		p.logger.Debug("navigate previous at start of lane", "index", p.current)
		return false
	}

	p.teardownActive()
	p.teardownPreloaded()
	p.generation++
	p.wantNext = -1
	p.killed = false
	p.current = prev
	p.synthesize(prev)
	return true
}

// PlayerFor returns the player bound to index, or nil.
func (p *Pool) PlayerFor(index int) media.Player {
	if p.active != nil && p.active.index == index {
		return p.active.player
	}
	if p.preloaded != nil && p.preloaded.index == index {
		return p.preloaded.player
	}
	return nil
}

// Acquire returns the player bound to videoID, or nil when the pool holds
// none. Cells call this when binding.
func (p *Pool) Acquire(videoID string) media.Player {
	if p.active != nil && p.active.videoID == videoID {
		return p.active.player
	}
	if p.preloaded != nil && p.preloaded.videoID == videoID {
		return p.preloaded.player
	}
	return nil
}

// Release tears down the slot bound to videoID. Cells call this on teardown.
func (p *Pool) Release(videoID string) {
	if p.active != nil && p.active.videoID == videoID {
		p.teardownActive()
		return
	}
	if p.preloaded != nil && p.preloaded.videoID == videoID {
		p.teardownPreloaded()
	}
}

// PauseCurrent pauses the active player.
func (p *Pool) PauseCurrent() {
	if p.active != nil {
		p.active.player.Pause()
	}
}

// ResumeCurrent plays the active player. It does nothing while the app is
// backgrounded, and never rebuilds players torn down by a kill.
func (p *Pool) ResumeCurrent() {
	if p.active != nil {
		p.play(p.active.player)
	}
}

// Rebuild recreates the active player for the current index after a kill.
// Returns false when the pool was not killed or the lane is empty.
func (p *Pool) Rebuild() bool {
	if !p.killed || p.active != nil || p.current >= len(p.videos) {
		return false
	}
	p.killed = false
	p.synthesize(p.current)
	return true
}

// Killed reports whether a kill tore the pool down and nothing has rebuilt
// it since.
func (p *Pool) Killed() bool {
	return p.killed
}

// Backgrounded reports whether the app is in the background.
func (p *Pool) Backgrounded() bool {
	return p.backgrounded
}

// Cleanup tears down both slots and forgets the lane.
func (p *Pool) Cleanup() {
	p.reset(nil)
}

// Close cleans up, cancels pending creation and drops the kill subscription.
func (p *Pool) Close() {
	p.Cleanup()
	p.cancel()
	for _, sub := range p.subs {
		if err := p.bus.Unsubscribe(sub); err != nil {
			p.logger.Debug("pool unsubscribe", "error", err)
		}
	}
	p.subs = nil
}

// CurrentIndex returns the lane index the active slot addresses.
func (p *Pool) CurrentIndex() int {
	return p.current
}

// Len returns the lane length.
func (p *Pool) Len() int {
	return len(p.videos)
}

// LiveCount returns the number of occupied slots.
func (p *Pool) LiveCount() int {
	n := 0
	if p.active != nil {
		n++
	}
	if p.preloaded != nil {
		n++
	}
	return n
}

// Stats returns activity counters.
func (p *Pool) Stats() Stats {
	return p.stats
}

// kill runs on the loop when a kill broadcast reaches the pool's scope.
// The lane is kept so navigation can rebuild.
func (p *Pool) kill() {
	p.teardownActive()
	p.teardownPreloaded()
	p.generation++
	p.wantNext = -1
	p.killed = true
	p.stats.Kills++
	p.logger.Info("playback pool killed", "context", string(p.scope))
}

func (p *Pool) enterBackground() {
	p.backgrounded = true
	if p.active != nil {
		p.active.player.Pause()
	}
}

// enterForeground only lifts the hold; the on-screen cell decides whether
// the active player resumes.
func (p *Pool) enterForeground() {
	p.backgrounded = false
}

// play starts player unless the app is backgrounded.
func (p *Pool) play(player media.Player) {
	if p.backgrounded {
		return
	}
	player.Play()
}

func (p *Pool) reset(videos []model.VideoRecord) {
	p.teardownActive()
	p.teardownPreloaded()
	p.generation++
	p.wantNext = -1
	p.killed = false
	p.current = 0
	p.videos = append([]model.VideoRecord(nil), videos...)
}

// synthesize creates the active player for index on the calling goroutine.
// A failed creation leaves the active slot empty; it is not retried.
func (p *Pool) synthesize(index int) {
	v := p.videos[index]
	player, err := p.factory.Create(p.ctx, v)
	if err != nil {
		p.stats.CreateFailures++
		p.logger.Warn("player creation failed", "video_id", v.ID, "index", index, "error", err)
		return
	}
	p.stats.Created++
	player.SetMuted(false)
	p.play(player)
	p.active = &slot{index: index, videoID: v.ID, player: player}
}

func (p *Pool) requestPreload(index int) {
	if index < 0 || index >= len(p.videos) {
		p.wantNext = -1
		return
	}
	p.wantNext = index
	if !p.inflight {
		p.launchPreload()
	}
}

func (p *Pool) launchPreload() {
	index := p.wantNext
	gen := p.generation
	v := p.videos[index]
	ctx := p.ctx

	p.inflight = true
	p.background(func() {
		player, err := p.factory.Create(ctx, v)
		if !p.dispatch.Post(func() { p.storePreload(gen, index, v.ID, player, err) }) {
			media.Teardown(player)
		}
	})
}

// storePreload runs on the loop with a finished look-ahead result.
func (p *Pool) storePreload(gen uint64, index int, videoID string, player media.Player, err error) {
	p.inflight = false

	switch {
	case err != nil:
		p.stats.CreateFailures++
		p.logger.Warn("look-ahead creation failed", "video_id", videoID, "index", index, "error", err)
		if gen == p.generation && index == p.wantNext {
			p.wantNext = -1
		}

	case gen != p.generation || index != p.wantNext || p.preloaded != nil:
		media.Teardown(player)
		p.stats.PreloadsDropped++
		p.logger.Debug("dropped stale look-ahead", "video_id", videoID, "index", index)

	default:
		p.stats.Created++
		p.stats.PreloadsStored++
		player.SetMuted(true)
		player.Pause()
		p.preloaded = &slot{index: index, videoID: videoID, player: player}
		return
	}

	if p.preloaded == nil && p.wantNext >= 0 && p.wantNext < len(p.videos) && p.wantNext != p.current {
		p.launchPreload()
	}
}

func (p *Pool) teardownActive() {
	if p.active == nil {
		return
	}
	media.Teardown(p.active.player)
	p.active = nil
}

func (p *Pool) teardownPreloaded() {
	if p.preloaded == nil {
		return
	}
	media.Teardown(p.preloaded.player)
	p.preloaded = nil
}
