package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stitchfeed/internal/config"
)

// ConfigResult is the payload of the config command.
type ConfigResult struct {
	Source string `json:"source"`
	CUE    string `json:"cue"`
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration every command would use: the --config file
unified with the schema defaults, or the defaults alone. The output is CUE
that --config accepts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(rootOpts, cmd)
		},
	}
	return cmd
}

func runConfig(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = formatter.Error(errorCode(err), err.Error(), nil)
		return err
	}
	src, err := config.Format(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to format config", err)
	}

	source := "defaults"
	if opts.ConfigPath != "" {
		source = opts.ConfigPath
	}
	return formatter.Emit(ConfigResult{Source: source, CUE: string(src)}, func(w io.Writer) {
		_, _ = w.Write(src)
	})
}
