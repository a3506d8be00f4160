package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/config"
	"github.com/roach88/stitchfeed/internal/gesture"
	"github.com/roach88/stitchfeed/internal/history"
	"github.com/roach88/stitchfeed/internal/media"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/session"
	"github.com/roach88/stitchfeed/internal/store"
	"github.com/roach88/stitchfeed/internal/testutil"
)

// Harness holds the deterministic environment of one scenario run.
type Harness struct {
	clock    *testutil.ManualClock
	bg       *testutil.Background
	factory  *media.SimFactory
	surface  *media.SimSurface
	recorder *testutil.Recorder
	store    *store.Store
	history  *history.Store
	session  *session.Session
	result   *Result
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger routes session logs somewhere other than io.Discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database. Execution flow:
//  1. Parse config overrides and open the store
//  2. Seed the seen ledger and checkpoint from setup
//  3. Open the session
//  4. Execute flow steps, settling and checking expectations after each
//  5. Capture final state and evaluate assertions
//
// An error is returned only when the scenario could not be executed at all.
// Failed expectations and assertions are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config.Default()
	if strings.TrimSpace(scenario.Config) != "" {
		var err error
		cfg, err = config.Parse(scenario.Name+".cue", []byte(scenario.Config))
		if err != nil {
			return nil, fmt.Errorf("scenario config: %w", err)
		}
	}

	h := &Harness{
		clock:    testutil.NewManualClock(),
		bg:       testutil.NewBackground(),
		factory:  media.NewSimFactory(scenario.Unreachable...),
		surface:  media.NewSimSurface(),
		recorder: testutil.NewRecorder(),
		result:   NewResult(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	st, err := store.Open(":memory:", store.WithNow(h.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	h.history = history.New(st,
		history.WithClock(h.clock),
		history.WithLogger(h.logger),
		history.WithLedgerCap(cfg.History.LedgerCap),
		history.WithLedgerMaxAge(cfg.History.LedgerMaxAge),
		history.WithResumeWindow(cfg.History.ResumeWindow),
	)

	ctx := context.Background()
	threads := withMediaURLs(scenario.Threads)
	if err := h.executeSetup(ctx, scenario.Setup, threads); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	sessOpts := []session.Option{
		session.WithConfig(cfg),
		session.WithClock(h.clock),
		session.WithRecorder(h.recorder),
		session.WithSurface(h.surface),
		session.WithIDs(testutil.NewSequentialIDs("id")),
		session.WithBackground(h.bg.Go),
		session.WithObserver(h.observe),
		session.WithLogger(h.logger),
	}
	if scenario.SkipSeen {
		sessOpts = append(sessOpts, session.WithSkipSeen())
	}
	source := &session.StaticSource{Threads: threads, PageSize: scenario.PageSize}
	h.session, err = session.New(source, h.factory, h.history, sessOpts...)
	if err != nil {
		return nil, err
	}
	defer h.session.Close()

	if err := h.session.Open(ctx); err != nil {
		return nil, err
	}
	h.settle()

	if err := h.executeFlow(scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	h.captureState(ctx)
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// withMediaURLs fills empty media URLs so scenarios only need ids.
func withMediaURLs(threads []model.ThreadRecord) []model.ThreadRecord {
	fill := func(v model.VideoRecord) model.VideoRecord {
		if v.MediaURL == "" {
			v.MediaURL = "sim://" + v.ID
		}
		return v
	}

	out := make([]model.ThreadRecord, len(threads))
	for i, t := range threads {
		t.Parent = fill(t.Parent)
		children := make([]model.VideoRecord, len(t.Children))
		for j, c := range t.Children {
			children[j] = fill(c)
		}
		t.Children = children
		out[i] = t
	}
	return out
}

// executeSetup seeds the history store. The checkpoint is written age before
// the session opens.
func (h *Harness) executeSetup(ctx context.Context, setup Setup, threads []model.ThreadRecord) error {
	if len(setup.Seen) > 0 {
		h.history.MarkSeenAll(ctx, setup.Seen)
	}

	cp := setup.Checkpoint
	if cp == nil {
		return nil
	}
	snapshot := cp.Snapshot
	if snapshot == nil {
		snapshot = model.ThreadIDs(threads)
	}
	var age time.Duration
	if cp.Age != "" {
		d, err := time.ParseDuration(cp.Age)
		if err != nil {
			return fmt.Errorf("checkpoint age: %w", err)
		}
		age = d
	}

	h.clock.Set(testutil.Epoch.Add(-age))
	h.history.SaveCheckpoint(ctx, model.GridPosition{Thread: cp.Thread, Stitch: cp.Stitch}, snapshot)
	h.clock.Set(testutil.Epoch)
	return nil
}

// executeFlow runs every step in order.
func (h *Harness) executeFlow(flow []FlowStep) error {
	for i, step := range flow {
		h.result.AddTrace(h.stepEvent(step))
		if err := h.execute(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		h.settle()
		if step.Expect != nil {
			for _, msg := range h.checkExpect(step.Expect) {
				h.result.AddError(fmt.Sprintf("step %d (%s): %s", i, step.Action, msg))
			}
		}
	}
	return nil
}

func (h *Harness) execute(step FlowStep) error {
	switch step.Action {
	case ActionMove:
		h.session.Move(gesture.ParseDirection(step.Direction))
	case ActionDrag:
		h.session.DragChanged(step.Translation)
		h.session.DragEnded(step.Translation, step.Velocity)
	case ActionJump:
		h.session.JumpTo(step.Thread, step.Stitch)
	case ActionWait:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		h.advance(d)
	case ActionBackground:
		h.session.Background()
	case ActionForeground:
		h.session.Foreground()
	case ActionKill:
		except := make([]bus.Scope, len(step.Except))
		for i, s := range step.Except {
			except[i] = bus.Scope(s)
		}
		h.session.Kill(step.Reason, except...)
	case ActionFinish:
		st := h.session.Cell().State()
		if p := h.factory.Latest(st.VideoID); p != nil && !p.Detached() {
			p.Finish()
		}
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

// advance moves time forward one due timer at a time, settling in between,
// so timers scheduled by loop work start from the right instant.
func (h *Harness) advance(d time.Duration) {
	target := h.clock.Now().Add(d)
	for {
		next, ok := h.clock.NextDeadline()
		if !ok || next.After(target) {
			break
		}
		h.clock.Advance(max(next.Sub(h.clock.Now()), 0))
		h.settle()
	}
	if rest := target.Sub(h.clock.Now()); rest > 0 {
		h.clock.Advance(rest)
	}
	h.settle()
}

// settle runs background jobs and loop tasks until both are idle.
func (h *Harness) settle() {
	for {
		n := h.bg.RunAll()
		n += h.session.Drain()
		if n == 0 {
			return
		}
	}
}

func (h *Harness) observe(e session.Event) {
	h.result.AddTrace(TraceEvent{
		Kind:    e.Kind,
		Thread:  e.Position.Thread,
		Stitch:  e.Position.Stitch,
		VideoID: e.VideoID,
		Detail:  e.Detail,
	})
}

func (h *Harness) stepEvent(step FlowStep) TraceEvent {
	pos := h.session.Position()
	e := TraceEvent{Kind: EventStep, Thread: pos.Thread, Stitch: pos.Stitch}
	switch step.Action {
	case ActionMove:
		e.Detail = "move " + step.Direction
	case ActionDrag:
		e.Detail = fmt.Sprintf("drag %g,%g", step.Translation.X, step.Translation.Y)
	case ActionJump:
		e.Detail = fmt.Sprintf("jump %d/%d", step.Thread, step.Stitch)
	case ActionWait:
		e.Detail = "wait " + step.Duration
	case ActionKill:
		e.Detail = "kill " + step.Reason
	default:
		e.Detail = step.Action
	}
	return e
}

func (h *Harness) checkExpect(x *ExpectClause) []string {
	var errs []string
	pos := h.session.Position()
	if x.Thread != nil && *x.Thread != pos.Thread {
		errs = append(errs, fmt.Sprintf("expected thread %d, got %d", *x.Thread, pos.Thread))
	}
	if x.Stitch != nil && *x.Stitch != pos.Stitch {
		errs = append(errs, fmt.Sprintf("expected stitch %d, got %d", *x.Stitch, pos.Stitch))
	}
	if x.Video != "" {
		v, _ := h.session.Navigation().CurrentVideo()
		if v.ID != x.Video {
			errs = append(errs, fmt.Sprintf("expected video %q, got %q", x.Video, v.ID))
		}
	}
	if x.LivePlayers != nil && *x.LivePlayers != h.factory.Live() {
		errs = append(errs, fmt.Sprintf("expected %d live players, got %d", *x.LivePlayers, h.factory.Live()))
	}
	if x.Playing != nil {
		if playing := h.session.Cell().State().Playing; playing != *x.Playing {
			errs = append(errs, fmt.Sprintf("expected playing=%t, got %t", *x.Playing, playing))
		}
	}
	return errs
}

// captureState records the final state fields read by final_state assertions.
func (h *Harness) captureState(ctx context.Context) {
	pos := h.session.Position()
	video, _ := h.session.Navigation().CurrentVideo()
	cell := h.session.Cell().State()
	stats := h.session.Pool().Stats()

	state := map[string]any{
		"thread":           pos.Thread,
		"stitch":           pos.Stitch,
		"video":            video.ID,
		"threads_loaded":   len(h.session.Threads()),
		"live_players":     h.factory.Live(),
		"max_live_players": h.factory.MaxLive(),
		"players_created":  h.factory.Created(),
		"create_failures":  stats.CreateFailures,
		"kills":            stats.Kills,
		"bound":            cell.Bound,
		"playing":          cell.Playing,
		"placeholder":      cell.Placeholder,
		"qualification":    cell.Qualification.String(),
		"seen_count":       h.history.SeenCount(ctx),
		"views":            h.recorder.Count(),
		"checkpoint":       "none",
	}
	if cp, ok := h.history.Checkpoint(ctx); ok {
		state["checkpoint"] = fmt.Sprintf("%d/%d", cp.Position.Thread, cp.Position.Stitch)
	}
	h.result.State = state
}
