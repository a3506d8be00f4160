package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/stitchfeed/internal/config"
	"github.com/roach88/stitchfeed/internal/history"
	"github.com/roach88/stitchfeed/internal/store"
)

// loadConfig returns the effective configuration: the --config file when
// given, the schema defaults otherwise.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// configSource returns the raw CUE of the --config file, or "" without one.
func configSource(opts *RootOptions) (string, error) {
	if opts.ConfigPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(opts.ConfigPath)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read config", err)
	}
	return string(data), nil
}

// openHistory opens an existing history database. A missing file is a
// command error rather than a fresh database.
func openHistory(path string, cfg config.Config, logger *slog.Logger) (*history.Store, func(), error) {
	if path == "" {
		return nil, nil, NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	hist := history.New(st,
		history.WithLogger(logger),
		history.WithLedgerCap(cfg.History.LedgerCap),
		history.WithLedgerMaxAge(cfg.History.LedgerMaxAge),
		history.WithResumeWindow(cfg.History.ResumeWindow),
	)
	closeFn := func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}
	return hist, closeFn, nil
}

// errorCode maps a command error to its JSON error code.
func errorCode(err error) string {
	var loadErr *config.LoadError
	switch {
	case errors.As(err, &loadErr):
		return ErrCodeInvalidConfig
	case errors.Is(err, os.ErrNotExist):
		return ErrCodeNotFound
	default:
		return ErrCodeGeneric
	}
}
