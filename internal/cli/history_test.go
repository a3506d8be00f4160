package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitchfeed/internal/history"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/store"
	"github.com/roach88/stitchfeed/internal/testutil"
)

// seedDatabase creates a history database holding seen and, when pos is
// non-nil, a checkpoint, all recorded age ago.
func seedDatabase(t *testing.T, age time.Duration, seen []string, pos *model.GridPosition) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	clk := testutil.NewManualClock()
	clk.Set(time.Now().Add(-age))

	hist := history.New(st, history.WithClock(clk))
	ctx := context.Background()
	hist.MarkSeenAll(ctx, seen)
	if pos != nil {
		hist.SaveCheckpoint(ctx, *pos, []string{"t0", "t1", "t2"})
	}
	require.NoError(t, st.Close())
	return path
}

func TestHistoryText(t *testing.T) {
	db := seedDatabase(t, time.Minute, []string{"v1", "v2"}, &model.GridPosition{Thread: 1, Stitch: 2})

	out, err := runCLI(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Seen:       2 video(s)")
	assert.Contains(t, out, "Checkpoint: thread 1, stitch 2")
	assert.Contains(t, out, "3 threads")
	assert.Contains(t, out, "Resumable:  true")
}

func TestHistoryNoCheckpoint(t *testing.T) {
	db := seedDatabase(t, time.Minute, []string{"v1"}, nil)

	out, err := runCLI(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint: none")
	assert.Contains(t, out, "Resumable:  false")
}

func TestHistoryJSONWithVideo(t *testing.T) {
	db := seedDatabase(t, 5*time.Hour, []string{"v1"}, &model.GridPosition{})

	out, err := runCLI(t, "history", "--db", db, "--video", "v1", "--format", "json")
	require.NoError(t, err)

	var status HistoryStatus
	resp := decodeResponse(t, out, &status)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, status.Seen)
	require.NotNil(t, status.Checkpoint)
	assert.Equal(t, 3, status.Checkpoint.Threads)
	require.NotNil(t, status.Video)
	assert.True(t, status.Video.Seen)
	// Seen five hours ago, outside the default four hour recent window.
	assert.False(t, status.Video.RecentlySeen)
}

func TestHistoryRecentWindowFromConfig(t *testing.T) {
	db := seedDatabase(t, 5*time.Hour, []string{"v1"}, nil)
	cfg := writeFile(t, "feed.cue", `history: recent_window: "6h"`)

	out, err := runCLI(t, "history", "--db", db, "--video", "v1", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var status HistoryStatus
	decodeResponse(t, out, &status)
	require.NotNil(t, status.Video)
	assert.True(t, status.Video.RecentlySeen)
}

func TestHistoryStaleCheckpoint(t *testing.T) {
	db := seedDatabase(t, 30*time.Hour, []string{"v1"}, &model.GridPosition{Thread: 1})

	out, err := runCLI(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint: none")
}

func TestHistoryMissingDatabase(t *testing.T) {
	out, err := runCLI(t, "history", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
	assert.Contains(t, out, ErrCodeStore)
}

func TestHistoryRequiresDB(t *testing.T) {
	_, err := runCLI(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}
