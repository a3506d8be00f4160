package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Database string
}

// PruneResult is the payload of the prune command.
type PruneResult struct {
	Database  string `json:"database"`
	Removed   int    `json:"removed"`
	Remaining int    `json:"remaining"`
	Resumable bool   `json:"resumable"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop expired ledger entries and stale checkpoints",
		Long: `Remove seen-ledger entries older than the ledger max age and clear a
checkpoint older than the resume window. Limits come from --config.

Example:
  stitchfeed prune --db ./feed.db --config feed.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPrune(opts *PruneOptions, cmd *cobra.Command) error {
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
	removed := hist.Prune(ctx)
	result := PruneResult{
		Database:  opts.Database,
		Removed:   removed,
		Remaining: hist.SeenCount(ctx),
		Resumable: hist.CanResume(ctx),
	}
	formatter.VerboseLog("pruned %d entries from %s", removed, opts.Database)

	return formatter.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Pruned %d expired entries, %d remain. Resumable checkpoint: %t\n",
			result.Removed, result.Remaining, result.Resumable)
	})
}
