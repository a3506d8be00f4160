package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitchfeed/internal/model"
)

func TestPruneRemovesExpired(t *testing.T) {
	db := seedDatabase(t, 80*time.Hour, []string{"v1", "v2"}, &model.GridPosition{Thread: 1})

	out, err := runCLI(t, "prune", "--db", db, "--format", "json")
	require.NoError(t, err)

	var result PruneResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Removed)
	assert.Equal(t, 0, result.Remaining)
	assert.False(t, result.Resumable)

	out, err = runCLI(t, "prune", "--db", db, "--format", "json")
	require.NoError(t, err)
	decodeResponse(t, out, &result)
	assert.Equal(t, 0, result.Removed)
}

func TestPruneKeepsFresh(t *testing.T) {
	db := seedDatabase(t, time.Minute, []string{"v1", "v2"}, &model.GridPosition{Thread: 1})

	out, err := runCLI(t, "prune", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0 expired entries, 2 remain. Resumable checkpoint: true")
}

func TestPruneHonoursConfiguredMaxAge(t *testing.T) {
	db := seedDatabase(t, 2*time.Hour, []string{"v1"}, nil)
	cfg := writeFile(t, "feed.cue", `history: ledger_max_age: "1h"`)

	out, err := runCLI(t, "prune", "--db", db, "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var result PruneResult
	decodeResponse(t, out, &result)
	assert.Equal(t, 1, result.Removed)
}

func TestPruneInvalidConfig(t *testing.T) {
	db := seedDatabase(t, time.Minute, nil, nil)
	cfg := writeFile(t, "bad.cue", `history: ledger_cap: -1`)

	out, err := runCLI(t, "prune", "--db", db, "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInvalidConfig)
}
