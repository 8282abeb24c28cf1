// Package logging configures formulary's zerolog logger. Everything goes
// to stderr through a console writer and, when possible, is appended as
// JSON to a log file under the XDG state directory.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger sets the global level from the -v count (0 warn, 1 info,
// 2 debug, 3+ trace) and installs the console and file writers.
func SetupLogger(verbosity int) {
	level := zerolog.TraceLevel
	switch verbosity {
	case 0:
		level = zerolog.WarnLevel
	case 1:
		level = zerolog.InfoLevel
	case 2:
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}}

	logFile := LogFilePath()
	file, err := openLogFile(logFile)
	if err == nil {
		writers = append(writers, file)
	}

	ctx := zerolog.New(io.MultiWriter(writers...)).With().Timestamp()
	if verbosity >= 2 {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()

	if err != nil {
		log.Warn().Err(err).Str("path", logFile).Msg("Failed to open log file, logging to console only")
	}
	log.Debug().Int("verbosity", verbosity).Str("logFile", logFile).Msg("Logger initialized")
}

// LogFilePath is $XDG_STATE_HOME/formulary/formulary.log, falling back to
// ~/.local/state when the variable is unset.
func LogFilePath() string {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "formulary.log"
		}
		stateHome = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateHome, "formulary", "formulary.log")
}

func openLogFile(p string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// GetLogger returns the global logger tagged with a component name.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForBuild tags logger with the formula being built and the run id that
// also ends up in the installation receipt.
func ForBuild(logger zerolog.Logger, formula, version, runID string) zerolog.Logger {
	return logger.With().
		Str("formula", formula).
		Str("version", version).
		Str("run_id", runID).
		Logger()
}

// Stage logs the start of a build stage and returns the function that
// logs its end. A non-nil error is logged at error level.
func Stage(logger zerolog.Logger, stage string) func(err error) {
	start := time.Now()
	logger.Debug().Str("stage", stage).Msg("Stage started")
	return func(err error) {
		if err != nil {
			logger.Error().Err(err).Str("stage", stage).Dur("duration", time.Since(start)).Msg("Stage failed")
			return
		}
		logger.Debug().Str("stage", stage).Dur("duration", time.Since(start)).Msg("Stage completed")
	}
}
