package cell

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/clock"
	"github.com/roach88/stitchfeed/internal/ids"
	"github.com/roach88/stitchfeed/internal/loop"
	"github.com/roach88/stitchfeed/internal/media"
	"github.com/roach88/stitchfeed/internal/model"
)

// DefaultQualifyAfter is how long a binding must stay active to count as a view.
const DefaultQualifyAfter = 500 * time.Millisecond

// Provider hands out players owned elsewhere. playback.Pool implements it.
type Provider interface {
	// Acquire returns the live player for videoID, or nil.
	Acquire(videoID string) media.Player
	// Release tells the owner the cell no longer shows videoID.
	Release(videoID string)
}

// State is a snapshot of a controller.
type State struct {
	BindingID     string
	VideoID       string
	Bound         bool
	Active        bool
	Playing       bool
	Placeholder   bool
	Background    bool
	Loops         int
	Qualification Qualification
}

// Controller is the lifecycle controller of one cell.
type Controller struct {
	scope    bus.Scope
	provider Provider
	surface  media.Surface
	dispatch loop.Dispatcher

	clock        clock.Clock
	bus          *bus.Bus
	recorder     model.ViewRecorder
	userID       string
	ids          ids.Generator
	background   func(func())
	qualifyAfter time.Duration
	onQualified  func(videoID string, watch time.Duration)
	ctx          context.Context
	logger       *slog.Logger

	subs []*bus.Subscription

	// Current binding.
	video     model.VideoRecord
	bound     bool
	bindingID string
	player    media.Player
	endCancel func()
	active    bool
	loops     int

	qual        Qualification
	qualTimer   clock.Timer
	activeSince time.Time

	inBackground bool
	closed       bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock for qualification timing.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithBus subscribes the controller to background, foreground and kill signals.
func WithBus(b *bus.Bus) Option {
	return func(ctl *Controller) { ctl.bus = b }
}

// WithRecorder sets where qualified views are reported, and for which user.
func WithRecorder(r model.ViewRecorder, userID string) Option {
	return func(ctl *Controller) {
		ctl.recorder = r
		ctl.userID = userID
	}
}

// WithIDs sets the binding id generator.
func WithIDs(g ids.Generator) Option {
	return func(ctl *Controller) { ctl.ids = g }
}

// WithBackground sets the runner for view reporting.
// The default starts a goroutine.
func WithBackground(run func(func())) Option {
	return func(ctl *Controller) { ctl.background = run }
}

// WithQualifyAfter sets the view qualification threshold.
func WithQualifyAfter(d time.Duration) Option {
	return func(ctl *Controller) { ctl.qualifyAfter = d }
}

// WithOnQualified registers a hook called on the loop when a view qualifies.
func WithOnQualified(fn func(videoID string, watch time.Duration)) Option {
	return func(ctl *Controller) { ctl.onQualified = fn }
}

// WithContext sets the context passed to the view recorder.
func WithContext(ctx context.Context) Option {
	return func(ctl *Controller) { ctl.ctx = ctx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// New creates an empty controller for a cell in scope.
func New(scope bus.Scope, provider Provider, surface media.Surface, dispatch loop.Dispatcher, opts ...Option) (*Controller, error) {
	c := &Controller{
		scope:        scope,
		provider:     provider,
		surface:      surface,
		dispatch:     dispatch,
		clock:        clock.New(),
		ids:          ids.UUIDv7{},
		background:   func(fn func()) { go fn() },
		qualifyAfter: DefaultQualifyAfter,
		ctx:          context.Background(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("context", string(scope))

	if c.bus != nil {
		if err := c.subscribe(); err != nil {
			c.unsubscribe()
			return nil, fmt.Errorf("cell %s: %w", scope, err)
		}
	}
	return c, nil
}

func (c *Controller) subscribe() error {
	bg, err := c.bus.Subscribe(bus.TopicBackground, func() { c.dispatch.Post(c.enterBackground) })
	if err != nil {
		return err
	}
	c.subs = append(c.subs, bg)

	fg, err := c.bus.Subscribe(bus.TopicForeground, func() { c.dispatch.Post(c.enterForeground) })
	if err != nil {
		return err
	}
	c.subs = append(c.subs, fg)

	if c.bus.Immune(c.scope) {
		return nil
	}
	kill, err := c.bus.SubscribeKill(c.scope, func(sig bus.KillSignal) {
		c.dispatch.Post(func() { c.kill(sig) })
	})
	if err != nil {
		return err
	}
	c.subs = append(c.subs, kill)
	return nil
}

// unsubscribe removes exactly the handles this controller registered.
func (c *Controller) unsubscribe() {
	for _, sub := range c.subs {
		if err := c.bus.Unsubscribe(sub); err != nil {
			c.logger.Debug("unsubscribe", "error", err)
		}
	}
	c.subs = nil
}

// Bind tears down the current binding and binds video. Without a live player
// from the provider the cell shows its placeholder.
func (c *Controller) Bind(video model.VideoRecord, isActive bool) {
	if c.closed {
		return
	}
	c.teardown()

	c.video = video
	c.bound = true
	c.bindingID = c.ids.Generate()
	c.loops = 0
	c.qual = QualIdle

	c.player = c.provider.Acquire(video.ID)
	if c.player == nil {
		c.surface.Release()
		c.logger.Debug("no player, showing placeholder", "video_id", video.ID)
	} else {
		c.surface.Attach(c.player)
		binding := c.bindingID
		c.endCancel = c.player.OnEnd(func() {
			c.dispatch.Post(func() { c.handleEnd(binding) })
		})
	}

	if isActive {
		c.SetActive(true)
	} else if c.player != nil {
		c.player.Pause()
	}
}

// SetActive plays or pauses the bound video and starts or cancels view
// qualification.
func (c *Controller) SetActive(active bool) {
	if c.closed {
		return
	}
	if active == c.active {
		return
	}
	c.active = active
	if !c.bound {
		return
	}

	if active {
		if c.inBackground {
			return
		}
		if c.player != nil {
			c.player.Play()
			c.startQualification()
		}
		return
	}

	if c.player != nil {
		c.player.Pause()
	}
	c.cancelQualification()
}

// Close releases everything the controller holds and drops its
// subscriptions. Idempotent.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.release()
	if c.bus != nil {
		c.unsubscribe()
	}
	c.closed = true
}

// State returns a snapshot.
func (c *Controller) State() State {
	s := State{
		BindingID:     c.bindingID,
		VideoID:       c.video.ID,
		Bound:         c.bound,
		Active:        c.active,
		Placeholder:   c.bound && c.player == nil,
		Background:    c.inBackground,
		Loops:         c.loops,
		Qualification: c.qual,
	}
	if c.player != nil {
		s.Playing = c.player.Playing()
	}
	return s
}

// Qualification returns the current binding's qualification state.
func (c *Controller) Qualification() Qualification {
	return c.qual
}

// Scope returns the controller's context tag.
func (c *Controller) Scope() bus.Scope {
	return c.scope
}

// Closed reports whether Close has run.
func (c *Controller) Closed() bool {
	return c.closed
}

func (c *Controller) startQualification() {
	switch c.qual {
	case QualPending, QualQualified:
		return
	}
	c.qual = QualPending
	c.activeSince = c.clock.Now()
	binding := c.bindingID
	c.qualTimer = c.clock.AfterFunc(c.qualifyAfter, func() {
		c.dispatch.Post(func() { c.qualify(binding) })
	})
}

// cancelQualification stops a pending timer synchronously.
func (c *Controller) cancelQualification() {
	if c.qual != QualPending {
		return
	}
	if c.qualTimer != nil {
		c.qualTimer.Stop()
		c.qualTimer = nil
	}
	c.qual = QualCancelled
}

// qualify runs on the loop when the timer for binding fires.
func (c *Controller) qualify(binding string) {
	if c.closed || binding != c.bindingID || c.qual != QualPending {
		return
	}
	c.qual = QualQualified
	c.qualTimer = nil

	videoID := c.video.ID
	watch := c.clock.Now().Sub(c.activeSince)
	c.logger.Debug("view qualified", "video_id", videoID, "watch", watch)

	if c.onQualified != nil {
		c.onQualified(videoID, watch)
	}
	if c.recorder == nil {
		return
	}

	recorder, userID, ctx, logger := c.recorder, c.userID, c.ctx, c.logger
	c.background(func() {
		if err := recorder.RecordView(ctx, videoID, userID, watch); err != nil {
			logger.Warn("record view failed", "video_id", videoID, "error", err)
		}
	})
}

// handleEnd loops the video while the same binding is active.
func (c *Controller) handleEnd(binding string) {
	if c.closed || binding != c.bindingID || !c.active || c.inBackground || c.player == nil {
		return
	}
	c.player.SeekToStart()
	c.player.Play()
	c.loops++
}

func (c *Controller) enterBackground() {
	if c.closed {
		return
	}
	c.inBackground = true
	if c.player != nil {
		c.player.Pause()
	}
	c.cancelQualification()
}

func (c *Controller) enterForeground() {
	if c.closed {
		return
	}
	c.inBackground = false
	if !c.active || !c.bound {
		return
	}
	if c.player != nil {
		c.player.Play()
		c.startQualification()
	}
}

// kill drops the binding and the active flag whatever state the cell is in.
func (c *Controller) kill(sig bus.KillSignal) {
	if c.closed {
		return
	}
	if c.bound {
		c.logger.Info("cell killed", "video_id", c.video.ID, "reason", sig.Reason)
	}
	c.release()
}

// teardown ends the current binding without giving the player back and
// forgets the video. Idempotent.
func (c *Controller) teardown() {
	c.cancelQualification()
	if c.endCancel != nil {
		c.endCancel()
		c.endCancel = nil
	}
	if c.player != nil {
		c.player.Pause()
		c.player = nil
	}
	if c.bound {
		c.surface.Release()
	}
	c.bound = false
	c.active = false
	c.video = model.VideoRecord{}
	c.bindingID = ""
}

// release ends the binding and hands the video back to the provider.
func (c *Controller) release() {
	videoID, wasBound := c.video.ID, c.bound
	c.teardown()
	if wasBound {
		c.provider.Release(videoID)
	}
}
