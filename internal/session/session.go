package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/cell"
	"github.com/roach88/stitchfeed/internal/clock"
	"github.com/roach88/stitchfeed/internal/config"
	"github.com/roach88/stitchfeed/internal/gesture"
	"github.com/roach88/stitchfeed/internal/history"
	"github.com/roach88/stitchfeed/internal/ids"
	"github.com/roach88/stitchfeed/internal/loop"
	"github.com/roach88/stitchfeed/internal/media"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/navigation"
	"github.com/roach88/stitchfeed/internal/playback"
)

// Event kinds reported to the observer.
const (
	EventOpened         = "opened"
	EventResumed        = "resumed"
	EventVideoChanged   = "video_changed"
	EventPlaybackResume = "playback_resumed"
	EventQualified      = "qualified"
	EventPageLoaded     = "page_loaded"
	EventPageFailed     = "page_failed"
	EventEndOfFeed      = "end_of_feed"
)

// Event is one observable session step.
type Event struct {
	Kind     string
	Position model.GridPosition
	VideoID  string
	Detail   string
}

// Session is one feed session.
type Session struct {
	id       string
	cfg      config.Config
	source   model.DataSource
	factory  media.Factory
	history  *history.Store
	recorder model.ViewRecorder
	surface  media.Surface

	clock      clock.Clock
	loop       *loop.Loop
	bus        *bus.Bus
	ownsBus    bool
	ids        ids.Generator
	background func(func())
	observer   func(Event)
	skipSeen   bool
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pool *playback.Pool
	nav  *navigation.Controller
	cell *cell.Controller

	threads []model.ThreadRecord
	cursor  string
	hasMore bool
	loading bool
	opened  bool
	closed  bool
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the tunables. Defaults to config.Default().
func WithConfig(cfg config.Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithClock sets the clock used by every timer in the session.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithBus shares an existing bus. Otherwise the session creates one with the
// configured immune scopes.
func WithBus(b *bus.Bus) Option {
	return func(s *Session) { s.bus = b }
}

// WithRecorder sets where qualified views are reported.
func WithRecorder(r model.ViewRecorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithSurface sets the display surface of the on-screen cell.
func WithSurface(surface media.Surface) Option {
	return func(s *Session) { s.surface = surface }
}

// WithIDs sets the generator for session and binding ids.
func WithIDs(g ids.Generator) Option {
	return func(s *Session) { s.ids = g }
}

// WithBackground sets the runner for player creation, page fetches and view
// reporting. The default starts a goroutine.
func WithBackground(run func(func())) Option {
	return func(s *Session) { s.background = run }
}

// WithObserver receives every Event on the loop.
func WithObserver(fn func(Event)) Option {
	return func(s *Session) { s.observer = fn }
}

// WithSkipSeen drops threads whose parent video is already in the seen
// ledger when pages load.
func WithSkipSeen() Option {
	return func(s *Session) { s.skipSeen = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New wires a session. Nothing is fetched or played until Open.
func New(source model.DataSource, factory media.Factory, hist *history.Store, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:        config.Default(),
		source:     source,
		factory:    factory,
		history:    hist,
		surface:    nopSurface{},
		clock:      clock.New(),
		ids:        ids.UUIDv7{},
		background: func(fn func()) { go fn() },
		logger:     slog.Default(),
		hasMore:    true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.id = s.ids.Generate()
	s.logger = s.logger.With("session_id", s.id)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.loop = loop.New(loop.WithLogger(s.logger))

	if s.bus == nil {
		s.bus = bus.New(bus.WithImmune(s.cfg.Feed.Immune...), bus.WithLogger(s.logger))
		s.ownsBus = true
	}
	scope := s.cfg.Feed.Context

	s.pool = playback.New(s.factory, s.loop,
		playback.WithLogger(s.logger),
		playback.WithBackground(s.background),
		playback.WithContext(s.ctx),
		playback.WithKillScope(s.bus, scope),
	)

	s.nav = navigation.New(s.pool, s.loop,
		navigation.WithClock(s.clock),
		navigation.WithThresholds(s.cfg.Gesture),
		navigation.WithSettleDelays(s.cfg.Playback.SettleAnimated, s.cfg.Playback.SettleJump),
		navigation.WithContainerSize(s.cfg.Feed.ContainerWidth, s.cfg.Feed.ContainerHeight),
		navigation.WithLogger(s.logger),
		navigation.WithListener(navigation.Listener{
			VideoChanged:   s.videoChanged,
			ResumePlayback: s.resumePlayback,
			LoadMore:       s.requestMore,
		}),
	)

	cellOpts := []cell.Option{
		cell.WithClock(s.clock),
		cell.WithBus(s.bus),
		cell.WithIDs(s.ids),
		cell.WithBackground(s.background),
		cell.WithQualifyAfter(s.cfg.Playback.QualifyAfter),
		cell.WithOnQualified(s.qualified),
		cell.WithContext(s.ctx),
		cell.WithLogger(s.logger),
	}
	if s.recorder != nil {
		cellOpts = append(cellOpts, cell.WithRecorder(s.recorder, s.cfg.Feed.UserID))
	}
	c, err := cell.New(scope, s.pool, s.surface, s.loop, cellOpts...)
	if err != nil {
		s.pool.Close()
		if s.ownsBus {
			s.bus.Close()
		}
		s.cancel()
		return nil, fmt.Errorf("new session: %w", err)
	}
	s.cell = c
	return s, nil
}

// Open loads the first page and shows the feed, resuming from a valid
// checkpoint when its snapshot still matches the loaded threads. Call it
// before Run, or on the loop.
func (s *Session) Open(ctx context.Context) error {
	if s.opened {
		return nil
	}
	s.opened = true

	if err := s.fetchPage(ctx); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	s.history.StartPruning(s.ctx, s.cfg.History.PruneEvery)
	s.emit(Event{Kind: EventOpened, Detail: fmt.Sprintf("threads=%d", len(s.threads))})

	if len(s.threads) == 0 {
		s.emit(Event{Kind: EventEndOfFeed})
		return nil
	}

	if pos, ok := s.resumePosition(ctx); ok {
		s.emit(Event{Kind: EventResumed, Position: pos})
		s.nav.JumpTo(pos.Thread, pos.Stitch)
		return nil
	}
	s.nav.Start()
	return nil
}

// resumePosition consumes the checkpoint and reports where to land.
// Threads are fetched until the checkpointed thread is loaded; the loaded
// prefix must match the snapshot for the resume to count.
func (s *Session) resumePosition(ctx context.Context) (model.GridPosition, bool) {
	if !s.history.CanResume(ctx) {
		return model.GridPosition{}, false
	}
	cp, ok := s.history.ConsumeCheckpoint(ctx)
	if !ok {
		return model.GridPosition{}, false
	}

	for len(s.threads) <= cp.Position.Thread && s.hasMore {
		if err := s.fetchPage(ctx); err != nil {
			s.logger.Warn("resume fetch failed", "error", err)
			break
		}
	}

	loaded := model.ThreadIDs(s.threads)
	n := min(len(loaded), len(cp.ThreadIDs), cp.Position.Thread+1)
	for i := 0; i < n; i++ {
		if loaded[i] != cp.ThreadIDs[i] {
			s.logger.Info("checkpoint snapshot no longer matches feed", "thread", i)
			return model.GridPosition{}, false
		}
	}
	return cp.Position.Clamp(s.threads), true
}

// fetchPage loads the next page synchronously.
func (s *Session) fetchPage(ctx context.Context) error {
	page, err := s.source.FetchThreads(ctx, s.cursor)
	if err != nil {
		return err
	}
	s.appendPage(page)
	return nil
}

func (s *Session) appendPage(page model.Page) {
	threads := page.Threads
	if s.skipSeen {
		threads = s.unseen(threads)
	}
	s.threads = append(s.threads, threads...)
	s.cursor = page.Cursor
	s.hasMore = page.HasMore
	s.nav.SetThreads(s.threads)
	s.emit(Event{Kind: EventPageLoaded, Detail: fmt.Sprintf("threads=%d more=%t", len(threads), page.HasMore)})
}

// unseen keeps threads whose parent video is not in the seen ledger.
func (s *Session) unseen(threads []model.ThreadRecord) []model.ThreadRecord {
	parents := make([]model.VideoRecord, len(threads))
	for i, t := range threads {
		parents[i] = t.Parent
	}
	keep := make(map[string]bool)
	for _, v := range s.history.Filter(s.ctx, parents) {
		keep[v.ID] = true
	}
	out := make([]model.ThreadRecord, 0, len(threads))
	for _, t := range threads {
		if keep[t.Parent.ID] {
			out = append(out, t)
		}
	}
	return out
}

// requestMore handles a move past the last loaded thread.
func (s *Session) requestMore() {
	if !s.hasMore {
		s.emit(Event{Kind: EventEndOfFeed, Position: s.nav.Position()})
		return
	}
	s.loadMore()
}

// loadMore fetches the next page in the background and appends it on the loop.
func (s *Session) loadMore() {
	if s.loading || !s.hasMore || s.closed {
		return
	}
	s.loading = true
	ctx, cursor := s.ctx, s.cursor
	s.background(func() {
		page, err := s.source.FetchThreads(ctx, cursor)
		s.loop.Post(func() {
			s.loading = false
			if s.closed {
				return
			}
			if err != nil {
				s.logger.Warn("load more failed", "error", err)
				s.emit(Event{Kind: EventPageFailed, Detail: err.Error()})
				return
			}
			s.appendPage(page)
		})
	})
}

func (s *Session) videoChanged(pos model.GridPosition, video model.VideoRecord) {
	s.emit(Event{Kind: EventVideoChanged, Position: pos, VideoID: video.ID})
	s.cell.Bind(video, false)
	s.history.SaveCheckpoint(s.ctx, pos, model.ThreadIDs(s.threads))

	if len(s.threads)-pos.Thread-1 < s.cfg.Feed.PagePrefetch {
		s.loadMore()
	}
}

// resumePlayback runs when a transition settles. A feed torn down by a kill
// stays down until the next navigation or foreground.
func (s *Session) resumePlayback(pos model.GridPosition) {
	if s.pool.Killed() {
		return
	}
	video, ok := s.nav.CurrentVideo()
	if !ok {
		return
	}
	st := s.cell.State()
	if st.Bound && st.VideoID == video.ID && !st.Placeholder {
		s.cell.SetActive(true)
	} else {
		// The pool may have rebuilt the player since the cell bound.
		s.cell.Bind(video, true)
	}
	s.emit(Event{Kind: EventPlaybackResume, Position: pos, VideoID: video.ID})
}

func (s *Session) qualified(videoID string, watch time.Duration) {
	s.history.MarkSeen(s.ctx, videoID)
	s.emit(Event{Kind: EventQualified, Position: s.nav.Position(), VideoID: videoID, Detail: watch.String()})
}

func (s *Session) emit(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}

// Move performs a committed move.
func (s *Session) Move(dir gesture.Direction) bool {
	return s.nav.Move(dir)
}

// JumpTo moves directly to a position.
func (s *Session) JumpTo(thread, stitch int) bool {
	return s.nav.JumpTo(thread, stitch)
}

// DragChanged feeds an in-progress drag.
func (s *Session) DragChanged(translation gesture.Vector) gesture.Feedback {
	return s.nav.HandleDragChanged(translation)
}

// DragEnded finishes a drag and performs the committed move, if any.
func (s *Session) DragEnded(translation, velocity gesture.Vector) gesture.Direction {
	return s.nav.HandleDragEnded(translation, velocity)
}

// Background signals that the app left the foreground.
func (s *Session) Background() {
	s.bus.Publish(bus.TopicBackground)
}

// Foreground signals that the app returned to the foreground. A feed torn
// down by a kill while away is rebuilt at the current position.
func (s *Session) Foreground() {
	s.bus.Publish(bus.TopicForeground)
	s.loop.Post(s.restore)
}

func (s *Session) restore() {
	if s.closed || s.cell.State().Bound {
		return
	}
	video, ok := s.nav.CurrentVideo()
	if !ok {
		return
	}
	s.pool.Rebuild()
	s.cell.Bind(video, true)
	s.emit(Event{Kind: EventPlaybackResume, Position: s.nav.Position(), VideoID: video.ID})
}

// Kill broadcasts a scoped kill, sparing the except scopes. A pending settle
// is cancelled so it cannot bring the feed back.
func (s *Session) Kill(reason string, except ...bus.Scope) int {
	n := s.bus.KillAll(reason, except...)
	if !slices.Contains(except, s.cfg.Feed.Context) && !s.bus.Immune(s.cfg.Feed.Context) {
		s.nav.Stop()
	}
	return n
}

// Run drives the loop until ctx is done or Close is called.
func (s *Session) Run(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// Drain runs pending loop tasks on the caller's goroutine.
func (s *Session) Drain() int {
	return s.loop.Drain()
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.nav.Stop()
	s.cell.Close()
	s.pool.Close()
	s.cancel()
	if s.ownsBus {
		s.bus.Close()
	}
	s.loop.Stop()
	s.logger.Debug("session closed")
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Position returns the viewer's position.
func (s *Session) Position() model.GridPosition { return s.nav.Position() }

// Offset returns the surface offset for the position.
func (s *Session) Offset() gesture.Vector { return s.nav.Offset() }

// Threads returns the loaded threads.
func (s *Session) Threads() []model.ThreadRecord { return s.nav.Threads() }

// Loop returns the session's interaction loop.
func (s *Session) Loop() *loop.Loop { return s.loop }

// Pool returns the playback pool.
func (s *Session) Pool() *playback.Pool { return s.pool }

// Cell returns the on-screen cell controller.
func (s *Session) Cell() *cell.Controller { return s.cell }

// Navigation returns the navigation controller.
func (s *Session) Navigation() *navigation.Controller { return s.nav }

// Bus returns the session's bus.
func (s *Session) Bus() *bus.Bus { return s.bus }

type nopSurface struct{}

func (nopSurface) Attach(media.Player) {}
func (nopSurface) Release()            {}
