package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/stitchfeed/internal/config"
	"github.com/roach88/stitchfeed/internal/harness"
)

// ValidationError is one invalid file.
type ValidationError struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate config and scenario files without running them",
		Long: `Validate CUE config files against the config schema and YAML scenario
files against the scenario format. Nothing is executed.

Files ending in .cue are checked as config; .yaml and .yml as scenarios.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var errs []ValidationError
	for _, f := range files {
		formatter.VerboseLog("Validating %s", f)
		if verr := validateFile(f); verr != nil {
			errs = append(errs, *verr)
		}
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, len(files), errs)
	}
	return formatter.Emit(ValidationResult{Valid: true, Files: len(files)}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %d file(s) valid\n", len(files))
	})
}

// validateFile checks one file by extension. Returns nil when valid.
func validateFile(path string) *ValidationError {
	switch filepath.Ext(path) {
	case ".cue":
		_, err := config.Load(path)
		if err == nil {
			return nil
		}
		verr := &ValidationError{File: path, Code: ErrCodeInvalidConfig, Message: err.Error()}
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) {
			verr.Code = loadErr.Code
			verr.Message = loadErr.Message
			if loadErr.Pos.IsValid() {
				verr.Line = loadErr.Pos.Line()
			}
		}
		return verr

	case ".yaml", ".yml":
		if _, err := harness.LoadScenario(path); err != nil {
			return &ValidationError{File: path, Code: ErrCodeInvalidScenario, Message: err.Error()}
		}
		return nil

	default:
		return &ValidationError{File: path, Code: ErrCodeGeneric, Message: "unsupported file type (want .cue, .yaml or .yml)"}
	}
}

// outputValidationErrors reports failures. Validation failures exit with 1.
func outputValidationErrors(formatter *OutputFormatter, files int, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Files: files, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", e.File, e.Line)
		} else {
			fmt.Fprintln(formatter.Writer, e.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
