package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Video    string
}

// HistoryStatus is the payload of the history command.
type HistoryStatus struct {
	Database   string            `json:"database"`
	Seen       int               `json:"seen"`
	Checkpoint *CheckpointStatus `json:"checkpoint,omitempty"`
	Resumable  bool              `json:"resumable"`
	Video      *VideoStatus      `json:"video,omitempty"`
}

// CheckpointStatus describes the saved position.
type CheckpointStatus struct {
	Thread  int       `json:"thread"`
	Stitch  int       `json:"stitch"`
	SavedAt time.Time `json:"saved_at"`
	Age     string    `json:"age"`
	Threads int       `json:"threads"`
}

// VideoStatus answers --video.
type VideoStatus struct {
	ID           string `json:"id"`
	Seen         bool   `json:"seen"`
	RecentlySeen bool   `json:"recently_seen"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the seen ledger and session checkpoint",
		Long: `Show how many videos the seen ledger holds and whether a session
checkpoint can be resumed. Expired ledger entries and checkpoints are
dropped as they are read, exactly as a session would.

Examples:
  stitchfeed history --db ./feed.db
  stitchfeed history --db ./feed.db --video v123 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Video, "video", "", "also report whether this video id was seen")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return err
	}
	hist, closeDB, err := openHistory(opts.Database, cfg, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return err
	}
	defer closeDB()

	ctx := context.Background()
	status := HistoryStatus{
		Database:  opts.Database,
		Seen:      hist.SeenCount(ctx),
		Resumable: hist.CanResume(ctx),
	}
	if cp, ok := hist.Checkpoint(ctx); ok {
		status.Checkpoint = &CheckpointStatus{
			Thread:  cp.Position.Thread,
			Stitch:  cp.Position.Stitch,
			SavedAt: cp.SavedAt.UTC(),
			Age:     time.Since(cp.SavedAt).Round(time.Second).String(),
			Threads: len(cp.ThreadIDs),
		}
	}
	if opts.Video != "" {
		status.Video = &VideoStatus{
			ID:           opts.Video,
			Seen:         hist.WasSeen(ctx, opts.Video),
			RecentlySeen: hist.WasRecentlySeen(ctx, opts.Video, cfg.History.RecentWindow),
		}
	}

	return formatter.Emit(status, func(w io.Writer) { writeHistoryText(w, status) })
}

func writeHistoryText(w io.Writer, s HistoryStatus) {
	fmt.Fprintf(w, "Database:   %s\n", s.Database)
	fmt.Fprintf(w, "Seen:       %d video(s)\n", s.Seen)
	if s.Checkpoint == nil {
		fmt.Fprintln(w, "Checkpoint: none")
	} else {
		cp := s.Checkpoint
		fmt.Fprintf(w, "Checkpoint: thread %d, stitch %d (saved %s ago, %d threads)\n",
			cp.Thread, cp.Stitch, cp.Age, cp.Threads)
	}
	fmt.Fprintf(w, "Resumable:  %t\n", s.Resumable)
	if s.Video != nil {
		fmt.Fprintf(w, "Video %s: seen=%t recently_seen=%t\n", s.Video.ID, s.Video.Seen, s.Video.RecentlySeen)
	}
}
