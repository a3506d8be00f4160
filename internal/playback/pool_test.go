package playback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/loop"
	"github.com/roach88/stitchfeed/internal/media"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/testutil"
)

type fixture struct {
	factory *media.SimFactory
	loop    *loop.Loop
	bg      *testutil.Background
	pool    *Pool
}

func newFixture(t *testing.T, factory *media.SimFactory, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		factory: factory,
		loop:    loop.New(),
		bg:      testutil.NewBackground(),
	}
	opts = append([]Option{WithBackground(f.bg.Go)}, opts...)
	f.pool = New(factory, f.loop, opts...)
	return f
}

// settle runs background creation and loop tasks until both are idle.
func (f *fixture) settle() {
	for f.bg.RunAll()+f.loop.Drain() > 0 {
	}
}

func lane(ids ...string) []model.VideoRecord {
	out := make([]model.VideoRecord, len(ids))
	for i, id := range ids {
		out[i] = model.VideoRecord{ID: id, MediaURL: "https://cdn.example/" + id + ".mp4"}
	}
	return out
}

func TestPool_SetupNextPrevious(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	f.settle()

	active := p.PlayerFor(0)
	require.NotNil(t, active)
	assert.True(t, active.Playing())
	assert.False(t, active.Muted())

	look := p.PlayerFor(1)
	require.NotNil(t, look)
	assert.False(t, look.Playing())
	assert.True(t, look.Muted())
	assert.Equal(t, 2, p.LiveCount())

	require.True(t, p.NavigateNext())
	assert.Same(t, look, p.PlayerFor(1), "look-ahead player is adopted")
	assert.True(t, look.Playing())
	assert.False(t, look.Muted())
	assert.True(t, active.Detached(), "previous active is torn down")
	assert.Equal(t, 1, p.CurrentIndex())

	f.settle()
	next := p.PlayerFor(2)
	require.NotNil(t, next)
	assert.True(t, next.Muted())
	assert.False(t, next.Playing())

	require.True(t, p.NavigatePrevious())
	back := p.PlayerFor(0)
	require.NotNil(t, back)
	assert.True(t, back.Playing())
	assert.Nil(t, p.PlayerFor(1))
	assert.Nil(t, p.PlayerFor(2), "forward look-ahead is discarded")
	assert.True(t, next.Detached())
	assert.Equal(t, 1, p.LiveCount())

	assert.LessOrEqual(t, f.factory.MaxLive(), MaxSlots)
	assert.Len(t, f.factory.Audible(), 1)
	assert.Equal(t, 1, p.Stats().Adopted)
}

func TestPool_NeverExceedsTwoLivePlayers(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	p.Setup(lane(ids...))

	moves := []string{"n", "n", "s", "n", "p", "n", "n", "s", "p", "p", "n", "s", "n", "n", "n", "n", "n", "s"}
	for i, m := range moves {
		switch m {
		case "n":
			p.NavigateNext()
		case "p":
			p.NavigatePrevious()
		case "s":
			f.settle()
		}
		assert.LessOrEqual(t, f.factory.Live(), MaxSlots, "step %d", i)
		assert.LessOrEqual(t, p.LiveCount(), MaxSlots, "step %d", i)
		assert.LessOrEqual(t, len(f.factory.Audible()), 1, "step %d", i)
	}
	f.settle()

	assert.LessOrEqual(t, f.factory.MaxLive(), MaxSlots)
}

func TestPool_StalePreloadIsDetached(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	require.Equal(t, 1, f.bg.Pending(), "look-ahead for v1 is in flight")

	// Move before the look-ahead lands.
	require.True(t, p.NavigateNext())
	require.NotNil(t, p.PlayerFor(1))

	f.bg.RunAll()
	f.loop.Drain()

	assert.Equal(t, 1, p.Stats().PreloadsDropped)
	assert.Nil(t, p.PlayerFor(2), "replacement look-ahead not yet created")
	assert.Equal(t, 1, f.bg.Pending(), "replacement look-ahead launched")

	f.settle()
	require.NotNil(t, p.PlayerFor(2))
	assert.Equal(t, 2, p.LiveCount())
	assert.LessOrEqual(t, f.factory.MaxLive(), MaxSlots)
}

func TestPool_PreloadAfterLoopStoppedIsDetached(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())

	f.pool.Setup(lane("v0", "v1"))
	f.loop.Stop()
	f.bg.RunAll()

	assert.Equal(t, 1, f.factory.Live(), "only the active player survives")
	assert.Nil(t, f.pool.PlayerFor(1))
}

func TestPool_CreationFailureLeavesEmptySlot(t *testing.T) {
	f := newFixture(t, media.NewSimFactory("v1"))
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	f.settle()
	assert.Nil(t, p.PlayerFor(1))
	assert.Equal(t, 1, p.Stats().CreateFailures)

	var moved bool
	require.NotPanics(t, func() { moved = p.NavigateNext() })
	assert.True(t, moved)
	assert.Nil(t, p.PlayerFor(1))
	assert.Equal(t, 1, p.CurrentIndex())
	assert.Equal(t, 2, p.Stats().CreateFailures)

	created := f.factory.Created()
	p.ResumeCurrent()
	assert.Equal(t, created, f.factory.Created(), "failed creation is not retried")

	f.settle()
	assert.NotNil(t, p.PlayerFor(2), "look-ahead past the failure still works")
}

func TestPool_Bounds(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(nil)
	assert.Equal(t, 0, p.LiveCount())
	assert.False(t, p.NavigateNext())
	assert.False(t, p.NavigatePrevious())

	p.Setup(lane("solo"))
	f.settle()
	assert.Equal(t, 1, p.LiveCount())
	assert.False(t, p.NavigatePrevious())
	assert.False(t, p.NavigateNext())
	assert.Equal(t, 0, p.CurrentIndex())
	assert.NotNil(t, p.PlayerFor(0))
}

func TestPool_ActivateCreatesOnlyActive(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	f.settle()

	p.Activate(lane("w0", "w1", "w2"), 9)
	assert.Equal(t, 2, p.CurrentIndex())
	assert.Equal(t, 0, f.bg.Pending())
	assert.Equal(t, 1, p.LiveCount())
	assert.Equal(t, 1, f.factory.Live())
	require.NotNil(t, p.Acquire("w2"))
	assert.True(t, p.Acquire("w2").Playing())

	p.Activate(lane("w0", "w1", "w2"), -4)
	assert.Equal(t, 0, p.CurrentIndex())

	require.True(t, p.NavigateNext())
	f.settle()
	assert.NotNil(t, p.PlayerFor(2), "look-ahead resumes on the next ordinary move")
}

func TestPool_PauseResume(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(lane("v0", "v1"))
	player := p.PlayerFor(0)

	p.PauseCurrent()
	assert.False(t, player.Playing())
	p.ResumeCurrent()
	assert.True(t, player.Playing())
}

func TestPool_AcquireRelease(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	f.settle()

	assert.Same(t, p.PlayerFor(0), p.Acquire("v0"))
	assert.Same(t, p.PlayerFor(1), p.Acquire("v1"))
	assert.Nil(t, p.Acquire("v2"))

	look := p.Acquire("v1")
	p.Release("v1")
	assert.True(t, look.Detached())
	assert.Nil(t, p.PlayerFor(1))
	assert.Equal(t, 1, p.LiveCount())

	p.Release("unknown")
	assert.Equal(t, 1, p.LiveCount())
}

func TestPool_Cleanup(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	p.Setup(lane("v0", "v1"))
	f.settle()
	p.Cleanup()

	assert.Equal(t, 0, p.LiveCount())
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, f.factory.Live())
}

func TestPool_KillTearsDownUntilRebuild(t *testing.T) {
	b := bus.New()
	f := newFixture(t, media.NewSimFactory(), WithKillScope(b, bus.ScopePrimaryFeed))
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	f.settle()
	require.True(t, p.NavigateNext())
	f.settle()

	assert.Equal(t, 1, b.KillAll("memory pressure"))
	f.loop.Drain()

	assert.Equal(t, 0, p.LiveCount())
	assert.Equal(t, 0, f.factory.Live())
	assert.Equal(t, 3, p.Len(), "lane survives a kill")
	assert.Equal(t, 1, p.Stats().Kills)
	assert.True(t, p.Killed())

	p.ResumeCurrent()
	assert.Equal(t, 0, p.LiveCount(), "resume does not undo a kill")
	assert.True(t, p.Killed())

	require.True(t, p.Rebuild())
	require.NotNil(t, p.PlayerFor(1))
	assert.True(t, p.PlayerFor(1).Playing())
	assert.False(t, p.Killed())
	assert.False(t, p.Rebuild())
	assert.Equal(t, 1, p.LiveCount())
}

func TestPool_RebuildWithoutKill(t *testing.T) {
	f := newFixture(t, media.NewSimFactory())
	p := f.pool

	assert.False(t, p.Rebuild(), "empty lane")
	p.Setup(lane("v0"))
	assert.False(t, p.Rebuild())
	assert.Equal(t, 1, f.factory.Created())
}

func TestPool_BackgroundHoldsPlayback(t *testing.T) {
	b := bus.New()
	f := newFixture(t, media.NewSimFactory(), WithKillScope(b, bus.ScopePrimaryFeed))
	p := f.pool

	p.Setup(lane("v0", "v1", "v2"))
	f.settle()

	b.Publish(bus.TopicBackground)
	f.loop.Drain()
	assert.True(t, p.Backgrounded())
	assert.False(t, p.PlayerFor(0).Playing())

	p.ResumeCurrent()
	assert.False(t, p.PlayerFor(0).Playing())

	require.True(t, p.NavigateNext())
	assert.False(t, p.PlayerFor(1).Playing(), "adopted look-ahead stays paused")
	require.True(t, p.NavigatePrevious())
	assert.False(t, p.PlayerFor(0).Playing(), "new player stays paused")
	assert.Empty(t, f.factory.Audible())

	b.Publish(bus.TopicForeground)
	f.loop.Drain()
	assert.False(t, p.Backgrounded())
	assert.False(t, p.PlayerFor(0).Playing(), "foreground alone does not resume")

	p.ResumeCurrent()
	assert.True(t, p.PlayerFor(0).Playing())
}

func TestPool_KillExceptScope(t *testing.T) {
	b := bus.New()
	f := newFixture(t, media.NewSimFactory(), WithKillScope(b, bus.ScopePrimaryFeed))

	f.pool.Setup(lane("v0"))
	b.KillAll("opening preview", bus.ScopePrimaryFeed)
	f.loop.Drain()

	assert.Equal(t, 1, f.pool.LiveCount())
}

func TestPool_ImmuneScopeIgnoresKill(t *testing.T) {
	b := bus.New()
	f := newFixture(t, media.NewSimFactory(), WithKillScope(b, bus.ScopeProfileGrid))

	f.pool.Setup(lane("v0"))
	assert.Equal(t, 0, b.KillSubscriberCount(bus.ScopeProfileGrid))

	b.KillAll("memory pressure")
	f.loop.Drain()
	assert.Equal(t, 1, f.pool.LiveCount())
}

func TestPool_CloseUnsubscribes(t *testing.T) {
	b := bus.New()
	f := newFixture(t, media.NewSimFactory(), WithKillScope(b, bus.ScopeDiscovery))
	require.Equal(t, 1, b.KillSubscriberCount(bus.ScopeDiscovery))
	require.Equal(t, 1, b.SubscriberCount(bus.TopicBackground))

	f.pool.Setup(lane("v0", "v1"))
	f.pool.Close()

	assert.Equal(t, 0, b.KillSubscriberCount(bus.ScopeDiscovery))
	assert.Equal(t, 0, b.SubscriberCount(bus.TopicBackground))
	assert.Equal(t, 0, b.SubscriberCount(bus.TopicForeground))
	assert.Equal(t, 0, f.pool.LiveCount())

	// The in-flight look-ahead sees a cancelled context.
	f.settle()
	assert.Equal(t, 0, f.factory.Live())
}
