package history

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stitchfeed/internal/clock"
	"github.com/roach88/stitchfeed/internal/model"
	"github.com/roach88/stitchfeed/internal/store"
)

// Storage keys.
const (
	KeySeenLedger = "history.seen"
	KeyCheckpoint = "session.checkpoint"
	KeySnapshot   = "session.threads"
)

// Defaults.
const (
	DefaultLedgerCap    = 500
	DefaultLedgerMaxAge = 72 * time.Hour
	DefaultResumeWindow = 24 * time.Hour
	DefaultRecentWindow = 4 * time.Hour
)

// KV is the opaque persistent store. Get reports a missing key with an error
// matching store.ErrNotFound.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

type seenEntry struct {
	ID     string `json:"id"`
	SeenAt int64  `json:"seen_at"` // unix milliseconds
}

// Store is the view history. Safe for concurrent use.
type Store struct {
	kv     KV
	clock  clock.Clock
	logger *slog.Logger

	ledgerCap    int
	ledgerMaxAge time.Duration
	resumeWindow time.Duration

	mu      sync.Mutex
	loaded  bool
	entries []seenEntry // oldest first
	members map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithLedgerCap bounds the number of remembered ids.
func WithLedgerCap(n int) Option {
	return func(s *Store) { s.ledgerCap = n }
}

// WithLedgerMaxAge bounds how long an id is remembered.
func WithLedgerMaxAge(d time.Duration) Option {
	return func(s *Store) { s.ledgerMaxAge = d }
}

// WithResumeWindow sets how long a checkpoint stays valid.
func WithResumeWindow(d time.Duration) Option {
	return func(s *Store) { s.resumeWindow = d }
}

// New creates a history store over kv.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:           kv,
		clock:        clock.New(),
		logger:       slog.Default(),
		ledgerCap:    DefaultLedgerCap,
		ledgerMaxAge: DefaultLedgerMaxAge,
		resumeWindow: DefaultResumeWindow,
		members:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkSeen records id as seen now. Re-marking an id refreshes its timestamp
// and makes it the newest entry.
func (s *Store) MarkSeen(ctx context.Context, id string) {
	s.MarkSeenAll(ctx, []string{id})
}

// MarkSeenAll records every id as seen now, in order.
func (s *Store) MarkSeenAll(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	now := s.clock.Now().UnixMilli()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if s.members[id] {
			s.removeLocked(id)
		}
		s.entries = append(s.entries, seenEntry{ID: id, SeenAt: now})
		s.members[id] = true
	}

	for len(s.entries) > s.ledgerCap {
		delete(s.members, s.entries[0].ID)
		s.entries = s.entries[1:]
	}

	s.persistLedgerLocked(ctx)
}

// WasSeen reports whether id is in the ledger.
func (s *Store) WasSeen(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	return s.members[id]
}

// WasRecentlySeen reports whether id was seen within the given window.
// A non-positive window uses DefaultRecentWindow.
func (s *Store) WasRecentlySeen(ctx context.Context, id string, within time.Duration) bool {
	if within <= 0 {
		within = DefaultRecentWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	if !s.members[id] {
		return false
	}
	cutoff := s.clock.Now().Add(-within).UnixMilli()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ID == id {
			return s.entries[i].SeenAt >= cutoff
		}
	}
	return false
}

// SeenCount returns the number of ids in the ledger.
func (s *Store) SeenCount(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)
	return len(s.entries)
}

// Filter returns the videos whose ids are not in the ledger, order preserved.
func (s *Store) Filter(ctx context.Context, videos []model.VideoRecord) []model.VideoRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(ctx)

	out := make([]model.VideoRecord, 0, len(videos))
	for _, v := range videos {
		if !s.members[v.ID] {
			out = append(out, v)
		}
	}
	return out
}

// Prune drops ledger entries older than the max age and clears a stale
// checkpoint. Returns the number of ledger entries removed.
func (s *Store) Prune(ctx context.Context) int {
	s.mu.Lock()
	removed := s.pruneLocked(ctx)
	s.mu.Unlock()

	// Reading the checkpoint clears it when stale.
	s.Checkpoint(ctx)

	if removed > 0 {
		s.logger.Debug("pruned seen ledger", "removed", removed)
	}
	return removed
}

// StartPruning runs Prune every interval on the store's clock until ctx is
// done.
func (s *Store) StartPruning(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	var schedule func()
	schedule = func() {
		s.clock.AfterFunc(every, func() {
			if ctx.Err() != nil {
				return
			}
			s.Prune(ctx)
			schedule()
		})
	}
	schedule()
}

func (s *Store) pruneLocked(ctx context.Context) int {
	removed := s.loadLocked(ctx) + s.dropExpiredLocked()
	if removed > 0 {
		s.persistLedgerLocked(ctx)
	}
	return removed
}

func (s *Store) dropExpiredLocked() int {
	cutoff := s.clock.Now().Add(-s.ledgerMaxAge).UnixMilli()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.SeenAt < cutoff {
			delete(s.members, e.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed
}

func (s *Store) removeLocked(id string) {
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	delete(s.members, id)
}

// loadLocked reads the ledger once. Expired and over-cap entries are dropped
// on load; the count of dropped entries is returned so Prune can persist it.
func (s *Store) loadLocked(ctx context.Context) int {
	if s.loaded {
		return 0
	}
	s.loaded = true

	data, err := s.kv.Get(ctx, KeySeenLedger)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read seen ledger", "error", err)
		}
		return 0
	}

	var entries []seenEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("discarding corrupt seen ledger", "error", err)
		return 0
	}

	for _, e := range entries {
		if e.ID == "" || s.members[e.ID] {
			continue
		}
		s.entries = append(s.entries, e)
		s.members[e.ID] = true
	}
	dropped := 0
	for len(s.entries) > s.ledgerCap {
		delete(s.members, s.entries[0].ID)
		s.entries = s.entries[1:]
		dropped++
	}
	return dropped + s.dropExpiredLocked()
}

func (s *Store) persistLedgerLocked(ctx context.Context) {
	data, err := json.Marshal(s.entries)
	if err != nil {
		s.logger.Warn("failed to encode seen ledger", "error", err)
		return
	}
	if err := s.kv.Set(ctx, KeySeenLedger, data); err != nil {
		s.logger.Warn("failed to write seen ledger", "error", err)
	}
}
