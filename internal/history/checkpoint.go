package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/roach88/stitchfeed/internal/canonical"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/store"
)

// Checkpoint is a resumable session position.
//
// ThreadIDs is the snapshot of the feed the position refers to. It is nil
// when the snapshot is missing or fails digest validation.
type Checkpoint struct {
	Position  model.GridPosition
	ThreadIDs []string
	SavedAt   time.Time
	Digest    string
}

type checkpointRecord struct {
	Thread  int    `json:"thread"`
	Stitch  int    `json:"stitch"`
	SavedAt int64  `json:"saved_at"` // unix milliseconds
	Digest  string `json:"digest"`
}

// SaveCheckpoint stores pos along with the thread ids it indexes into.
func (s *Store) SaveCheckpoint(ctx context.Context, pos model.GridPosition, threadIDs []string) {
	ids := append([]string(nil), threadIDs...)
	if ids == nil {
		ids = []string{}
	}

	rec := checkpointRecord{
		Thread:  pos.Thread,
		Stitch:  pos.Stitch,
		SavedAt: s.clock.Now().UnixMilli(),
		Digest:  canonical.SnapshotDigest(ids),
	}

	snap, err := json.Marshal(ids)
	if err != nil {
		s.logger.Warn("failed to encode thread snapshot", "error", err)
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("failed to encode checkpoint", "error", err)
		return
	}

	// Snapshot first: a checkpoint must never point at a missing snapshot.
	if err := s.kv.Set(ctx, KeySnapshot, snap); err != nil {
		s.logger.Warn("failed to write thread snapshot", "error", err)
		return
	}
	if err := s.kv.Set(ctx, KeyCheckpoint, data); err != nil {
		s.logger.Warn("failed to write checkpoint", "error", err)
	}
}

// Checkpoint returns the stored checkpoint if it is younger than the resume
// window. A stale checkpoint is cleared and reported absent.
func (s *Store) Checkpoint(ctx context.Context) (Checkpoint, bool) {
	data, err := s.kv.Get(ctx, KeyCheckpoint)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read checkpoint", "error", err)
		}
		return Checkpoint{}, false
	}

	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("discarding corrupt checkpoint", "error", err)
		s.ClearCheckpoint(ctx)
		return Checkpoint{}, false
	}

	savedAt := time.UnixMilli(rec.SavedAt).UTC()
	if s.clock.Now().Sub(savedAt) >= s.resumeWindow {
		s.logger.Debug("checkpoint expired", "saved_at", savedAt)
		s.ClearCheckpoint(ctx)
		return Checkpoint{}, false
	}

	cp := Checkpoint{
		Position: model.GridPosition{Thread: rec.Thread, Stitch: rec.Stitch},
		SavedAt:  savedAt,
		Digest:   rec.Digest,
	}
	cp.ThreadIDs = s.snapshot(ctx, rec.Digest)
	return cp, true
}

// snapshot reads the thread-id snapshot and validates it against digest.
func (s *Store) snapshot(ctx context.Context, digest string) []string {
	data, err := s.kv.Get(ctx, KeySnapshot)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read thread snapshot", "error", err)
		}
		return nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		s.logger.Warn("discarding corrupt thread snapshot", "error", err)
		return nil
	}
	if canonical.SnapshotDigest(ids) != digest {
		s.logger.Warn("thread snapshot digest mismatch")
		return nil
	}
	return ids
}

// CanResume reports whether a valid checkpoint with a matching, non-empty
// snapshot exists.
func (s *Store) CanResume(ctx context.Context) bool {
	cp, ok := s.Checkpoint(ctx)
	return ok && len(cp.ThreadIDs) > 0
}

// ConsumeCheckpoint returns the checkpoint and clears it.
func (s *Store) ConsumeCheckpoint(ctx context.Context) (Checkpoint, bool) {
	cp, ok := s.Checkpoint(ctx)
	if ok {
		s.ClearCheckpoint(ctx)
	}
	return cp, ok
}

// ClearCheckpoint removes the checkpoint and its snapshot.
func (s *Store) ClearCheckpoint(ctx context.Context) {
	if err := s.kv.Remove(ctx, KeyCheckpoint); err != nil {
		s.logger.Warn("failed to clear checkpoint", "error", err)
	}
	if err := s.kv.Remove(ctx, KeySnapshot); err != nil {
		s.logger.Warn("failed to clear thread snapshot", "error", err)
	}
}
