package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stitchfeed/internal/harness"
)

// SimulateResult is the JSON payload of the simulate command.
type SimulateResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEvent `json:"trace"`
	State    map[string]any       `json:"state"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scenario through a simulated session",
		Long: `Run one scenario through a full feed session with simulated media
players, a manual clock and an in-memory history database, then print
the resulting trace and final state.

The --config file is unified with the scenario's own config block.

Exit codes:
  0 - All expectations and assertions held
  1 - An expectation or assertion failed
  2 - Command error (unreadable scenario, invalid config)

Examples:
  stitchfeed simulate ./scenarios/swipe.yaml
  stitchfeed simulate ./scenarios/swipe.yaml --config feed.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSimulate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	src, err := configSource(opts)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidConfig, err.Error(), nil)
		return err
	}
	if src != "" {
		scenario.Config = src + "\n" + scenario.Config
	}

	formatter.VerboseLog("Simulating %s (%d threads, %d steps)", scenario.Name, len(scenario.Threads), len(scenario.Flow))

	logger := newLogger(opts, formatter.GetErrWriter())
	result, err := harness.Run(scenario, harness.WithLogger(logger))
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return WrapExitError(ExitCommandError, "simulation failed", err)
	}

	out := SimulateResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Trace:    result.Trace,
		State:    result.State,
		Errors:   result.Errors,
	}
	if err := formatter.Emit(out, func(w io.Writer) { writeSimulateText(w, out) }); err != nil {
		return err
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func writeSimulateText(w io.Writer, r SimulateResult) {
	fmt.Fprintf(w, "Scenario: %s\n\n", r.Scenario)
	for _, ev := range r.Trace {
		writeTraceLine(w, ev)
	}

	fmt.Fprintln(w, "\nFinal state:")
	for _, k := range slices.Sorted(maps.Keys(r.State)) {
		fmt.Fprintf(w, "  %-18s %v\n", k, r.State[k])
	}

	if r.Pass {
		fmt.Fprintln(w, "\nPASS")
		return
	}
	fmt.Fprintln(w, "\nFAIL")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", strings.TrimSpace(e))
	}
}

func writeTraceLine(w io.Writer, ev harness.TraceEvent) {
	fmt.Fprintf(w, "%4d  %-17s %d/%d", ev.Seq, ev.Kind, ev.Thread, ev.Stitch)
	if ev.VideoID != "" {
		fmt.Fprintf(w, "  %s", ev.VideoID)
	}
	if ev.Detail != "" {
		fmt.Fprintf(w, "  (%s)", ev.Detail)
	}
	fmt.Fprintln(w)
}
