package navigation

import (
	"log/slog"
	"time"

	"github.com/roach88/stitchfeed/internal/clock"
	"github.com/roach88/stitchfeed/internal/gesture"
	"github.com/roach88/stitchfeed/internal/loop"
	"github.com/roach88/stitchfeed/internal/model"
)

// Settle delays between a move and the playback resume that follows it.
const (
	DefaultAnimatedSettle = 300 * time.Millisecond
	DefaultJumpSettle     = 100 * time.Millisecond
)

// Driver is the playback side of navigation. playback.Pool implements it.
// Lane indexes are stitch indexes of the current thread.
type Driver interface {
	Setup(videos []model.VideoRecord)
	Activate(videos []model.VideoRecord, index int)
	NavigateNext() bool
	NavigatePrevious() bool
	ResumeCurrent()
}

// Listener receives navigation events on the loop. Nil funcs are skipped.
type Listener struct {
	// VideoChanged fires after every position change.
	VideoChanged func(pos model.GridPosition, video model.VideoRecord)
	// ResumePlayback fires once the last transition has settled.
	ResumePlayback func(pos model.GridPosition)
	// LoadMore fires when the viewer moves past the last loaded thread.
	LoadMore func()
}

// Controller is the feed navigation controller. Call it only on the loop.
type Controller struct {
	driver     Driver
	dispatch   loop.Dispatcher
	clock      clock.Clock
	classifier *gesture.Classifier
	listener   Listener
	logger     *slog.Logger

	animatedSettle time.Duration
	jumpSettle     time.Duration

	threads []model.ThreadRecord
	pos     model.GridPosition
	width   float64
	height  float64
	offset  gesture.Vector

	inFlight  bool
	settleGen uint64
	settle    clock.Timer
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock for settle timers.
func WithClock(c clock.Clock) Option {
	return func(n *Controller) { n.clock = c }
}

// WithThresholds sets the gesture tuning.
func WithThresholds(th gesture.Thresholds) Option {
	return func(n *Controller) { n.classifier = gesture.New(th) }
}

// WithSettleDelays sets the resume delays after animated moves and jumps.
func WithSettleDelays(animated, jump time.Duration) Option {
	return func(n *Controller) {
		n.animatedSettle = animated
		n.jumpSettle = jump
	}
}

// WithContainerSize sets the initial container size in points.
func WithContainerSize(width, height float64) Option {
	return func(n *Controller) {
		n.width = width
		n.height = height
	}
}

// WithListener sets the event listener.
func WithListener(l Listener) Option {
	return func(n *Controller) { n.listener = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Controller) { n.logger = l }
}

// New creates a controller with no threads.
func New(driver Driver, dispatch loop.Dispatcher, opts ...Option) *Controller {
	n := &Controller{
		driver:         driver,
		dispatch:       dispatch,
		clock:          clock.New(),
		classifier:     gesture.New(gesture.DefaultThresholds()),
		logger:         slog.Default(),
		animatedSettle: DefaultAnimatedSettle,
		jumpSettle:     DefaultJumpSettle,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetThreads replaces the live thread list. The position is re-clamped; if
// that moves it, the controller jumps to the clamped position.
func (n *Controller) SetThreads(threads []model.ThreadRecord) {
	wasEmpty := len(n.threads) == 0
	n.threads = append([]model.ThreadRecord(nil), threads...)

	if len(n.threads) == 0 {
		n.pos = model.GridPosition{}
		n.updateOffset()
		return
	}
	if wasEmpty {
		return
	}
	if clamped := n.pos.Clamp(n.threads); clamped != n.pos {
		n.logger.Debug("position clamped after thread update", "thread", clamped.Thread, "stitch", clamped.Stitch)
		n.jump(clamped)
	}
}

// Start shows the first video of the first thread.
func (n *Controller) Start() {
	if len(n.threads) == 0 {
		n.logger.Debug("start with no threads")
		return
	}
	n.pos = model.GridPosition{}
	n.driver.Setup(n.threads[0].Lane())
	n.moved(n.jumpSettle)
}

// MoveUp advances to the next thread. At the last loaded thread it asks for
// more instead. Returns whether the position changed.
func (n *Controller) MoveUp() bool {
	if n.pos.Thread+1 >= len(n.threads) {
		n.logger.Debug("move up at last thread, requesting more", "thread", n.pos.Thread)
		if n.listener.LoadMore != nil {
			n.listener.LoadMore()
		}
		return false
	}
	n.pos = model.GridPosition{Thread: n.pos.Thread + 1}
	n.driver.Setup(n.threads[n.pos.Thread].Lane())
	n.moved(n.animatedSettle)
	return true
}

// MoveDown returns to the previous thread.
func (n *Controller) MoveDown() bool {
	if n.pos.Thread <= 0 || len(n.threads) == 0 {
		return false
	}
	n.pos = model.GridPosition{Thread: n.pos.Thread - 1}
	n.driver.Setup(n.threads[n.pos.Thread].Lane())
	n.moved(n.animatedSettle)
	return true
}

// MoveLeft advances to the next stitch of the current thread.
func (n *Controller) MoveLeft() bool {
	th, ok := n.currentThread()
	if !ok || !th.HasStitches() {
		n.logger.Debug("move left without stitches", "thread", n.pos.Thread)
		return false
	}
	if n.pos.Stitch >= th.StitchCount() {
		n.logger.Debug("move left at last stitch", "thread", n.pos.Thread, "stitch", n.pos.Stitch)
		return false
	}
	n.pos.Stitch++
	n.driver.NavigateNext()
	n.moved(n.animatedSettle)
	return true
}

// MoveRight returns to the previous stitch of the current thread.
func (n *Controller) MoveRight() bool {
	th, ok := n.currentThread()
	if !ok || !th.HasStitches() {
		n.logger.Debug("move right without stitches", "thread", n.pos.Thread)
		return false
	}
	if n.pos.Stitch <= 0 {
		n.logger.Debug("move right at parent", "thread", n.pos.Thread)
		return false
	}
	n.pos.Stitch--
	n.driver.NavigatePrevious()
	n.moved(n.animatedSettle)
	return true
}

// JumpTo moves directly to a position, clamped into the live bounds.
func (n *Controller) JumpTo(thread, stitch int) bool {
	if len(n.threads) == 0 {
		n.logger.Debug("jump with no threads", "thread", thread, "stitch", stitch)
		return false
	}
	n.jump(model.GridPosition{Thread: thread, Stitch: stitch}.Clamp(n.threads))
	return true
}

// Move dispatches a committed direction.
func (n *Controller) Move(dir gesture.Direction) bool {
	switch dir {
	case gesture.Up:
		return n.MoveUp()
	case gesture.Down:
		return n.MoveDown()
	case gesture.Left:
		return n.MoveLeft()
	case gesture.Right:
		return n.MoveRight()
	default:
		return false
	}
}

// HandleDragChanged feeds an in-progress drag to the classifier.
func (n *Controller) HandleDragChanged(translation gesture.Vector) gesture.Feedback {
	return n.classifier.DragChanged(translation, n.horizontalAllowed())
}

// HandleDragEnded classifies the finished drag and performs the move.
func (n *Controller) HandleDragEnded(translation, velocity gesture.Vector) gesture.Direction {
	dir := n.classifier.DragEnded(translation, velocity, n.horizontalAllowed())
	if dir != gesture.None {
		n.Move(dir)
	}
	return dir
}

// SetContainerSize updates the container size and re-derives offsets.
func (n *Controller) SetContainerSize(width, height float64) {
	n.width = width
	n.height = height
	n.updateOffset()
}

// Position returns the current position.
func (n *Controller) Position() model.GridPosition {
	return n.pos
}

// Offset returns the surface offset for the current position.
func (n *Controller) Offset() gesture.Vector {
	return n.offset
}

// InFlight reports whether a transition has not settled yet.
func (n *Controller) InFlight() bool {
	return n.inFlight
}

// Threads returns a copy of the live thread list.
func (n *Controller) Threads() []model.ThreadRecord {
	return append([]model.ThreadRecord(nil), n.threads...)
}

// CurrentVideo returns the video at the current position.
func (n *Controller) CurrentVideo() (model.VideoRecord, bool) {
	th, ok := n.currentThread()
	if !ok {
		return model.VideoRecord{}, false
	}
	return th.VideoAt(n.pos.Stitch)
}

// Stop cancels a pending settle.
func (n *Controller) Stop() {
	n.settleGen++
	if n.settle != nil {
		n.settle.Stop()
		n.settle = nil
	}
	n.inFlight = false
}

func (n *Controller) jump(pos model.GridPosition) {
	n.pos = pos
	n.driver.Activate(n.threads[pos.Thread].Lane(), pos.Stitch)
	n.moved(n.jumpSettle)
}

func (n *Controller) currentThread() (model.ThreadRecord, bool) {
	if n.pos.Thread < 0 || n.pos.Thread >= len(n.threads) {
		return model.ThreadRecord{}, false
	}
	return n.threads[n.pos.Thread], true
}

func (n *Controller) horizontalAllowed() bool {
	th, ok := n.currentThread()
	return ok && th.HasStitches()
}

func (n *Controller) updateOffset() {
	n.offset = gesture.Vector{
		X: -float64(n.pos.Stitch) * n.width,
		Y: -float64(n.pos.Thread) * n.height,
	}
}

// moved finishes a position change: offsets, VideoChanged, and a settle
// timer that replaces any pending one.
func (n *Controller) moved(delay time.Duration) {
	n.updateOffset()

	video, _ := n.CurrentVideo()
	n.logger.Debug("position changed", "thread", n.pos.Thread, "stitch", n.pos.Stitch, "video_id", video.ID)
	if n.listener.VideoChanged != nil {
		n.listener.VideoChanged(n.pos, video)
	}

	n.Stop()
	n.inFlight = true
	gen := n.settleGen
	n.settle = n.clock.AfterFunc(delay, func() {
		n.dispatch.Post(func() { n.settled(gen) })
	})
}

func (n *Controller) settled(gen uint64) {
	if gen != n.settleGen {
		return
	}
	n.inFlight = false
	n.settle = nil
	n.driver.ResumeCurrent()
	if n.listener.ResumePlayback != nil {
		n.listener.ResumePlayback(n.pos)
	}
}
