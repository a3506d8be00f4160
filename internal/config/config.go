// Package config loads the feed's tunables from CUE.
//
// A user file is unified with the embedded schema, so unknown fields and out
// of range values are rejected with a position, and anything the file leaves
// out takes the schema default. Default() is the schema with no file at all.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	"cuelang.org/go/cue/token"

	"github.com/roach88/stitchfeed/internal/bus"
	"github.com/roach88/stitchfeed/internal/gesture"
)

//go:embed schema.cue
var schemaCUE string

// Error codes carried by LoadError.
const (
	ErrCodeNotFound   = "C001" // config file missing or unreadable
	ErrCodeParse      = "C002" // CUE syntax error
	ErrCodeValidation = "C003" // value violates the schema
	ErrCodeDecode     = "C004" // value could not be decoded
)

// LoadError is a configuration failure, with a CUE position when known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config is the effective configuration.
type Config struct {
	Gesture  gesture.Thresholds
	Playback Playback
	History  History
	Feed     Feed
}

// Playback holds timing for navigation settle and view qualification.
type Playback struct {
	SettleAnimated time.Duration
	SettleJump     time.Duration
	QualifyAfter   time.Duration
}

// History holds ledger and checkpoint limits.
type History struct {
	LedgerCap    int
	LedgerMaxAge time.Duration
	ResumeWindow time.Duration
	RecentWindow time.Duration
	PruneEvery   time.Duration
}

// Feed holds surface and session settings.
type Feed struct {
	Context         bus.Scope
	Immune          []bus.Scope
	ContainerWidth  float64
	ContainerHeight float64
	UserID          string
	PagePrefetch    int
}

// document mirrors the CUE layout field for field.
type document struct {
	Gesture struct {
		LockDistance   float64 `json:"lock_distance"`
		LockRatio      float64 `json:"lock_ratio"`
		CommitDistance float64 `json:"commit_distance"`
		VelocityBoost  float64 `json:"velocity_boost"`
	} `json:"gesture"`
	Playback struct {
		SettleAnimated string `json:"settle_animated"`
		SettleJump     string `json:"settle_jump"`
		QualifyAfter   string `json:"qualify_after"`
	} `json:"playback"`
	History struct {
		LedgerCap    int    `json:"ledger_cap"`
		LedgerMaxAge string `json:"ledger_max_age"`
		ResumeWindow string `json:"resume_window"`
		RecentWindow string `json:"recent_window"`
		PruneEvery   string `json:"prune_every"`
	} `json:"history"`
	Feed struct {
		Context         string   `json:"context"`
		Immune          []string `json:"immune"`
		ContainerWidth  float64  `json:"container_width"`
		ContainerHeight float64  `json:"container_height"`
		UserID          string   `json:"user_id"`
		PagePrefetch    int      `json:"page_prefetch"`
	} `json:"feed"`
}

// Default returns the schema defaults.
func Default() Config {
	cfg, err := Parse("", nil)
	if err != nil {
		// The embedded schema is fixed at build time.
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads and validates a CUE file. An empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading config: %v", err)}
	}
	return Parse(path, data)
}

// Parse validates CUE source against the schema. filename is used for
// error positions only.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, convertCUEError(ErrCodeParse, err)
	}
	value := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, convertCUEError(ErrCodeParse, err)
		}
		value = value.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, convertCUEError(ErrCodeValidation, err)
	}

	var doc document
	if err := value.Decode(&doc); err != nil {
		return Config{}, convertCUEError(ErrCodeDecode, err)
	}
	return doc.config()
}

func (d document) config() (Config, error) {
	var cfg Config
	var err error

	cfg.Gesture = gesture.Thresholds{
		LockDistance:   d.Gesture.LockDistance,
		LockRatio:      d.Gesture.LockRatio,
		CommitDistance: d.Gesture.CommitDistance,
		VelocityBoost:  d.Gesture.VelocityBoost,
	}

	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"playback.settle_animated", d.Playback.SettleAnimated, &cfg.Playback.SettleAnimated},
		{"playback.settle_jump", d.Playback.SettleJump, &cfg.Playback.SettleJump},
		{"playback.qualify_after", d.Playback.QualifyAfter, &cfg.Playback.QualifyAfter},
		{"history.ledger_max_age", d.History.LedgerMaxAge, &cfg.History.LedgerMaxAge},
		{"history.resume_window", d.History.ResumeWindow, &cfg.History.ResumeWindow},
		{"history.recent_window", d.History.RecentWindow, &cfg.History.RecentWindow},
		{"history.prune_every", d.History.PruneEvery, &cfg.History.PruneEvery},
	}
	for _, f := range durations {
		if *f.dst, err = time.ParseDuration(f.src); err != nil {
			return Config{}, &LoadError{Code: ErrCodeDecode, Message: fmt.Sprintf("%s: %v", f.name, err)}
		}
	}

	cfg.History.LedgerCap = d.History.LedgerCap
	cfg.Feed = Feed{
		Context:         bus.Scope(d.Feed.Context),
		ContainerWidth:  d.Feed.ContainerWidth,
		ContainerHeight: d.Feed.ContainerHeight,
		UserID:          d.Feed.UserID,
		PagePrefetch:    d.Feed.PagePrefetch,
	}
	for _, s := range d.Feed.Immune {
		cfg.Feed.Immune = append(cfg.Feed.Immune, bus.Scope(s))
	}
	return cfg, nil
}

// Format renders cfg as CUE source that Parse accepts.
func Format(cfg Config) ([]byte, error) {
	var d document
	d.Gesture.LockDistance = cfg.Gesture.LockDistance
	d.Gesture.LockRatio = cfg.Gesture.LockRatio
	d.Gesture.CommitDistance = cfg.Gesture.CommitDistance
	d.Gesture.VelocityBoost = cfg.Gesture.VelocityBoost
	d.Playback.SettleAnimated = formatDuration(cfg.Playback.SettleAnimated)
	d.Playback.SettleJump = formatDuration(cfg.Playback.SettleJump)
	d.Playback.QualifyAfter = formatDuration(cfg.Playback.QualifyAfter)
	d.History.LedgerCap = cfg.History.LedgerCap
	d.History.LedgerMaxAge = formatDuration(cfg.History.LedgerMaxAge)
	d.History.ResumeWindow = formatDuration(cfg.History.ResumeWindow)
	d.History.RecentWindow = formatDuration(cfg.History.RecentWindow)
	d.History.PruneEvery = formatDuration(cfg.History.PruneEvery)
	d.Feed.Context = string(cfg.Feed.Context)
	d.Feed.Immune = make([]string, 0, len(cfg.Feed.Immune))
	for _, s := range cfg.Feed.Immune {
		d.Feed.Immune = append(d.Feed.Immune, string(s))
	}
	d.Feed.ContainerWidth = cfg.Feed.ContainerWidth
	d.Feed.ContainerHeight = cfg.Feed.ContainerHeight
	d.Feed.UserID = cfg.Feed.UserID
	d.Feed.PagePrefetch = cfg.Feed.PagePrefetch

	v := cuecontext.New().Encode(d)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	out, err := format.Node(v.Syntax())
	if err != nil {
		return nil, fmt.Errorf("format config: %w", err)
	}
	return out, nil
}

// formatDuration renders d in the largest whole unit the schema accepts.
func formatDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}

// convertCUEError keeps the first error and its position.
func convertCUEError(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}
