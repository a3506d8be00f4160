package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/gesture"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, gesture.DefaultThresholds(), cfg.Gesture)
	assert.Equal(t, 300*time.Millisecond, cfg.Playback.SettleAnimated)
	assert.Equal(t, 100*time.Millisecond, cfg.Playback.SettleJump)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.QualifyAfter)
	assert.Equal(t, 500, cfg.History.LedgerCap)
	assert.Equal(t, 72*time.Hour, cfg.History.LedgerMaxAge)
	assert.Equal(t, 24*time.Hour, cfg.History.ResumeWindow)
	assert.Equal(t, 4*time.Hour, cfg.History.RecentWindow)
	assert.Equal(t, time.Hour, cfg.History.PruneEvery)
	assert.Equal(t, bus.ScopePrimaryFeed, cfg.Feed.Context)
	assert.Equal(t, []bus.Scope{bus.ScopeProfileGrid}, cfg.Feed.Immune)
	assert.Equal(t, 390.0, cfg.Feed.ContainerWidth)
	assert.Equal(t, 844.0, cfg.Feed.ContainerHeight)
	assert.Equal(t, "anonymous", cfg.Feed.UserID)
	assert.Equal(t, 2, cfg.Feed.PagePrefetch)
}

func TestParse_OverridesMergeWithDefaults(t *testing.T) {
	src := `
gesture: commit_distance: 60
playback: qualify_after: "2s"
feed: {
	context: "discovery"
	immune: ["profile_grid", "standalone_preview"]
	user_id: "u-42"
}
`
	cfg, err := Parse("feed.cue", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.Gesture.CommitDistance)
	assert.Equal(t, 3.0, cfg.Gesture.LockDistance)
	assert.Equal(t, 2*time.Second, cfg.Playback.QualifyAfter)
	assert.Equal(t, 300*time.Millisecond, cfg.Playback.SettleAnimated)
	assert.Equal(t, bus.ScopeDiscovery, cfg.Feed.Context)
	assert.Equal(t, []bus.Scope{bus.ScopeProfileGrid, bus.ScopeStandalonePreview}, cfg.Feed.Immune)
	assert.Equal(t, "u-42", cfg.Feed.UserID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
	}{
		{"syntax", `gesture: {`, ErrCodeParse},
		{"unknown field", `gesture: wobble: 1`, ErrCodeValidation},
		{"out of range", `gesture: commit_distance: -5`, ErrCodeValidation},
		{"ratio below one", `gesture: lock_ratio: 0.5`, ErrCodeValidation},
		{"bad duration", `playback: settle_jump: "soon"`, ErrCodeValidation},
		{"bad context", `feed: context: "sidebar"`, ErrCodeValidation},
		{"zero cap", `history: ledger_cap: 0`, ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.cue", []byte(tt.src))
			require.Error(t, err)

			var le *LoadError
			require.True(t, errors.As(err, &le), "want *LoadError, got %T", err)
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stitchfeed.cue")
	require.NoError(t, os.WriteFile(path, []byte(`history: resume_window: "12h"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.History.ResumeWindow)
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeValidation, Message: "too small"}
	assert.Equal(t, "C003: too small", err.Error())
}

func TestFormat_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Gesture.CommitDistance = 55
	cfg.Playback.SettleAnimated = 250 * time.Millisecond
	cfg.History.PruneEvery = 30 * time.Minute
	cfg.Feed.UserID = "viewer"

	src, err := Format(cfg)
	require.NoError(t, err)

	back, err := Parse("formatted.cue", src)
	require.NoError(t, err, "formatted config:\n%s", src)
	assert.Equal(t, cfg, back)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "72h", formatDuration(72*time.Hour))
	assert.Equal(t, "90m", formatDuration(90*time.Minute))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "300ms", formatDuration(300*time.Millisecond))
	assert.Equal(t, "0h", formatDuration(0))
}
