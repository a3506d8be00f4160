package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitchfeed/internal/gesture"
	"github.com/roach88/stitchfeed/internal/history"
	"github.com/roach88/stitchfeed/internal/media"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/store"
	"github.com/roach88/stitchfeed/internal/testutil"
)

func vid(id string) model.VideoRecord {
	return model.VideoRecord{ID: id, MediaURL: "https://cdn.example/" + id + ".mp4"}
}

func threads(n int) []model.ThreadRecord {
	out := make([]model.ThreadRecord, n)
	for i := range out {
		out[i] = model.ThreadRecord{
			ID:       fmt.Sprintf("t%d", i),
			Parent:   vid(fmt.Sprintf("p%d", i)),
			Children: []model.VideoRecord{vid(fmt.Sprintf("c%da", i)), vid(fmt.Sprintf("c%db", i))},
		}
	}
	return out
}

type env struct {
	t        *testing.T
	kv       *store.Store
	clock    *testutil.ManualClock
	recorder *testutil.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	kv, err := store.Open(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return &env{t: t, kv: kv, clock: testutil.NewManualClock(), recorder: testutil.NewRecorder()}
}

func (e *env) history() *history.Store {
	return history.New(e.kv, history.WithClock(e.clock))
}

type run struct {
	*Session
	env     *env
	factory *media.SimFactory
	bg      *testutil.Background
	events  []Event
}

func (e *env) open(src model.DataSource, opts ...Option) *run {
	e.t.Helper()
	r := &run{env: e, factory: media.NewSimFactory(), bg: testutil.NewBackground()}
	base := []Option{
		WithClock(e.clock),
		WithBackground(r.bg.Go),
		WithIDs(testutil.NewSequentialIDs("id")),
		WithRecorder(e.recorder),
		WithObserver(func(ev Event) { r.events = append(r.events, ev) }),
	}
	s, err := New(src, r.factory, e.history(), append(base, opts...)...)
	require.NoError(e.t, err)
	r.Session = s
	e.t.Cleanup(s.Close)

	require.NoError(e.t, s.Open(context.Background()))
	r.settle()
	return r
}

func (r *run) settle() {
	for r.bg.RunAll()+r.Drain() > 0 {
	}
}

func (r *run) advance(d time.Duration) {
	r.env.clock.Advance(d)
	r.settle()
}

func (r *run) kinds() []string {
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func TestOpen_StartsAndPlaysFirstVideo(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(3), PageSize: 2})

	assert.Equal(t, model.GridPosition{}, r.Position())
	assert.Len(t, r.Threads(), 3, "prefetch loads the second page")

	r.advance(100 * time.Millisecond)
	st := r.Cell().State()
	assert.Equal(t, "p0", st.VideoID)
	assert.True(t, st.Playing)

	audible := r.factory.Audible()
	require.Len(t, audible, 1)
	assert.Equal(t, "p0", audible[0].VideoID())

	r.advance(500 * time.Millisecond)
	require.Equal(t, 1, e.recorder.Count())
	assert.Equal(t, "p0", e.recorder.Views()[0].VideoID)
	assert.Equal(t, "anonymous", e.recorder.Views()[0].UserID)
	assert.True(t, e.history().WasSeen(context.Background(), "p0"))

	assert.Equal(t, []string{
		EventPageLoaded, EventOpened, EventVideoChanged, EventPageLoaded,
		EventPlaybackResume, EventQualified,
	}, r.kinds())
}

func TestMoves_PlayOnlyCurrentVideo(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(4)})

	for _, dir := range []gesture.Direction{gesture.Left, gesture.Left, gesture.Up, gesture.Left, gesture.Right, gesture.Down} {
		r.Move(dir)
		r.advance(time.Second)

		audible := r.factory.Audible()
		require.Len(t, audible, 1, "after %s", dir)
		assert.Equal(t, r.Cell().State().VideoID, audible[0].VideoID())
		assert.LessOrEqual(t, r.factory.Live(), 2)
	}
	assert.LessOrEqual(t, r.factory.MaxLive(), 2)
	assert.Equal(t, model.GridPosition{Thread: 0}, r.Position())
}

func TestDrag_CommitsMove(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})

	r.DragChanged(gesture.Vector{X: -20, Y: 1})
	assert.Equal(t, gesture.Left, r.DragEnded(gesture.Vector{X: -55, Y: 3}, gesture.Vector{}))
	assert.Equal(t, model.GridPosition{Thread: 0, Stitch: 1}, r.Position())
	assert.Equal(t, gesture.Vector{X: -390, Y: 0}, r.Offset())
}

func TestResume_FromCheckpoint(t *testing.T) {
	e := newEnv(t)
	src := &StaticSource{Threads: threads(6), PageSize: 2}

	first := e.open(src)
	first.Move(gesture.Up)
	first.Move(gesture.Up)
	first.Move(gesture.Up)
	first.Move(gesture.Left)
	first.advance(time.Second)
	require.Equal(t, model.GridPosition{Thread: 3, Stitch: 1}, first.Position())
	first.Close()

	e.clock.Advance(2 * time.Hour)
	second := e.open(src)

	assert.Equal(t, model.GridPosition{Thread: 3, Stitch: 1}, second.Position())
	assert.Contains(t, second.kinds(), EventResumed)
	assert.Equal(t, 1, second.Pool().LiveCount(), "resume creates only the active player")
	assert.Equal(t, 1, second.factory.Live())

	second.advance(100 * time.Millisecond)
	assert.Equal(t, "c3a", second.Cell().State().VideoID)
	assert.True(t, second.Cell().State().Playing)
}

func TestResume_ExpiredCheckpointStartsFresh(t *testing.T) {
	e := newEnv(t)
	src := &StaticSource{Threads: threads(3)}

	first := e.open(src)
	first.Move(gesture.Up)
	first.Close()

	e.clock.Advance(25 * time.Hour)
	second := e.open(src)

	assert.Equal(t, model.GridPosition{}, second.Position())
	assert.NotContains(t, second.kinds(), EventResumed)
}

func TestResume_ChangedFeedStartsFresh(t *testing.T) {
	e := newEnv(t)

	first := e.open(&StaticSource{Threads: threads(3)})
	first.Move(gesture.Up)
	first.Close()

	changed := threads(3)
	changed[0].ID = "t-new"
	second := e.open(&StaticSource{Threads: changed})

	assert.Equal(t, model.GridPosition{}, second.Position())
	assert.NotContains(t, second.kinds(), EventResumed)
}

func TestMoveUp_EndOfFeed(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})

	require.True(t, r.Move(gesture.Up))
	assert.False(t, r.Move(gesture.Up))

	assert.Equal(t, EventEndOfFeed, r.events[len(r.events)-1].Kind)
	assert.Equal(t, 1, r.Position().Thread)
}

func TestLoadMore_FailureIsReported(t *testing.T) {
	e := newEnv(t)
	src := &flakySource{StaticSource: StaticSource{Threads: threads(4), PageSize: 2}, failAfter: 1}
	r := e.open(src)

	assert.Len(t, r.Threads(), 2)
	assert.Contains(t, r.kinds(), EventPageFailed)
}

func TestKill_ForegroundRebuilds(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})
	r.advance(time.Second)

	r.Background()
	r.settle()
	assert.Empty(t, r.factory.Audible())

	assert.Equal(t, 2, r.Kill("memory pressure"))
	r.settle()
	assert.Equal(t, 0, r.factory.Live())
	assert.False(t, r.Cell().State().Bound)

	r.Foreground()
	r.settle()
	assert.Equal(t, 1, r.Pool().LiveCount())
	st := r.Cell().State()
	assert.True(t, st.Bound)
	assert.True(t, st.Playing)
	assert.Equal(t, "p0", st.VideoID)
}

func TestBackground_PendingSettleKeepsPlaybackPaused(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})
	r.advance(time.Second)

	require.True(t, r.Move(gesture.Left))
	r.Background()
	r.settle()
	r.advance(400 * time.Millisecond)

	assert.Empty(t, r.factory.Audible())
	st := r.Cell().State()
	assert.True(t, st.Background)
	assert.False(t, st.Playing)
	assert.Equal(t, "c0a", st.VideoID)

	r.Foreground()
	r.settle()
	audible := r.factory.Audible()
	require.Len(t, audible, 1)
	assert.Equal(t, "c0a", audible[0].VideoID())
	assert.True(t, r.Cell().State().Playing)
}

func TestKill_PendingSettleDoesNotRebuild(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})
	r.advance(time.Second)

	require.True(t, r.Move(gesture.Left))
	r.settle()
	r.Kill("memory pressure")
	r.settle()
	resumed := count(r.kinds(), EventPlaybackResume)

	r.advance(400 * time.Millisecond)
	assert.Equal(t, 0, r.factory.Live())
	assert.False(t, r.Cell().State().Bound)
	assert.Equal(t, resumed, count(r.kinds(), EventPlaybackResume))

	r.Foreground()
	r.settle()
	assert.Equal(t, 1, r.factory.Live())
	st := r.Cell().State()
	assert.True(t, st.Bound)
	assert.Equal(t, "c0a", st.VideoID)
}

func TestKill_FromBusSettleStaysDown(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})
	r.advance(time.Second)

	require.True(t, r.Move(gesture.Left))
	r.settle()
	r.Bus().KillAll("opening camera")
	r.settle()

	r.advance(400 * time.Millisecond)
	assert.Equal(t, 0, r.factory.Live())
	assert.Empty(t, r.factory.Audible())
	assert.True(t, r.Pool().Killed())

	require.True(t, r.Move(gesture.Left), "navigation rebuilds")
	r.advance(400 * time.Millisecond)
	audible := r.factory.Audible()
	require.Len(t, audible, 1)
	assert.Equal(t, "c0b", audible[0].VideoID())
}

func count(kinds []string, kind string) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func TestSkipSeen_DropsSeenThreads(t *testing.T) {
	e := newEnv(t)
	e.history().MarkSeen(context.Background(), "p1")

	r := e.open(&StaticSource{Threads: threads(3)}, WithSkipSeen())

	ids := model.ThreadIDs(r.Threads())
	assert.Equal(t, []string{"t0", "t2"}, ids)
}

func TestOpen_SourceError(t *testing.T) {
	e := newEnv(t)
	s, err := New(&flakySource{failAfter: 0}, media.NewSimFactory(), e.history(), WithClock(e.clock))
	require.NoError(t, err)
	defer s.Close()

	err = s.Open(context.Background())
	assert.ErrorIs(t, err, errUpstream)
}

func TestClose_Idempotent(t *testing.T) {
	e := newEnv(t)
	r := e.open(&StaticSource{Threads: threads(2)})

	r.Close()
	r.Close()

	assert.Equal(t, 0, r.factory.Live())
	assert.True(t, r.Cell().Closed())
	assert.Equal(t, 0, r.Bus().KillSubscriberCount(r.cfg.Feed.Context))
}

var errUpstream = errors.New("upstream unavailable")

// flakySource fails every fetch after the first failAfter.
type flakySource struct {
	StaticSource
	failAfter int
	calls     int
}

func (f *flakySource) FetchThreads(ctx context.Context, cursor string) (model.Page, error) {
	f.calls++
	if f.calls > f.failAfter {
		return model.Page{}, errUpstream
	}
	return f.StaticSource.FetchThreads(ctx, cursor)
}
