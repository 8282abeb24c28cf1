package executor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/arthur-debert/formulary/pkg/environment"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

// ArgsPlaceholder, as a whole argv element, is replaced by the materialized
// configure arguments.
const ArgsPlaceholder = "${args}"

// Options contains configuration for the executor
type Options struct {
	Runner Runner
	DryRun bool
	Logger zerolog.Logger
	// FS receives the per-phase log files.
	FS types.FS
	// WorkDir is the directory phase dirs are relative to.
	WorkDir string
	// LogDir holds one log file per phase. Empty disables phase logs.
	LogDir string
	// Timeout applies to phases that do not set their own. Zero means none.
	Timeout time.Duration
	// Output, when set, receives every phase's output as it is produced.
	Output io.Writer
}

// Executor runs build phases
type Executor struct {
	runner  Runner
	dryRun  bool
	logger  zerolog.Logger
	fs      types.FS
	workDir string
	logDir  string
	timeout time.Duration
	output  io.Writer
}

// New creates a new executor instance
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = logging.GetLogger("executor")
	}

	fs := opts.FS
	if fs == nil {
		fs = filesystem.NewOS()
	}

	runner := opts.Runner
	if runner == nil {
		runner = NewExecRunner()
	}

	return &Executor{
		runner:  runner,
		dryRun:  opts.DryRun,
		logger:  logger,
		fs:      fs,
		workDir: opts.WorkDir,
		logDir:  opts.LogDir,
		timeout: opts.Timeout,
		output:  opts.Output,
	}
}

// Execute runs phases in order against env. The returned record lists
// every phase up to and including the one that failed, if any.
func (e *Executor) Execute(ctx context.Context, phases []formula.BuildPhase, env *environment.InstallEnvironment, opts formula.OptionSet) (types.ExecutionRecord, error) {
	var record types.ExecutionRecord

	for i, phase := range phases {
		if !phase.When.Holds(opts) {
			e.logger.Debug().Str("phase", phase.Name).Msg("Condition not met, skipping phase")
			record.Phases = append(record.Phases, types.PhaseResult{Name: phase.Name, Status: types.PhaseSkipped})
			continue
		}

		result, err := e.runPhase(ctx, i, phase, env)
		record.Phases = append(record.Phases, result)
		if err != nil {
			return record, err
		}
	}

	return record, nil
}

func (e *Executor) runPhase(ctx context.Context, index int, phase formula.BuildPhase, env *environment.InstallEnvironment) (types.PhaseResult, error) {
	jobs := env.Jobs()
	if phase.Parallelism == formula.Serial {
		jobs = 1
	}
	// Derived copy: the serial override ends with this phase whatever
	// its outcome.
	phaseEnv := env.WithJobs(jobs)

	result := types.PhaseResult{Name: phase.Name, Jobs: jobs}

	argv, err := ExpandCommand(phase.Command, phaseEnv)
	if err != nil {
		result.Status = types.PhaseFailed
		return result, err
	}
	if len(argv) == 0 {
		result.Status = types.PhaseFailed
		return result, errors.Newf(errors.ErrPhaseFailed, "phase %q has an empty command", phase.Name).
			WithDetail("phase", phase.Name)
	}
	result.Argv = argv
	result.Dir = filepath.Join(e.workDir, phase.Dir)

	timeout := phase.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}

	logger := e.logger.With().Str("phase", phase.Name).Logger()

	if e.dryRun {
		logger.Info().Str("command", shellquote.Join(argv...)).Str("dir", result.Dir).Msg("Dry run - phase not executed")
		result.Status = types.PhaseDryRun
		return result, nil
	}

	logger.Info().
		Str("command", shellquote.Join(argv...)).
		Str("dir", result.Dir).
		Int("jobs", jobs).
		Dur("timeout", timeout).
		Msg("Running phase")

	var stdout, stderr io.Writer
	if e.output != nil {
		stdout, stderr = e.output, e.output
	}
	res, runErr := e.runner.Run(ctx, Command{
		Phase:   phase.Name,
		Argv:    argv,
		Env:     phaseEnv.Environ(),
		Dir:     result.Dir,
		Timeout: timeout,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	result.Duration = res.Duration
	result.ExitCode = res.ExitCode
	result.LogPath = e.writeLog(index, phase.Name, argv, phaseEnv, res, runErr)

	switch {
	case res.TimedOut:
		result.Status = types.PhaseTimedOut
		logger.Error().Dur("timeout", timeout).Msg("Phase timed out")
		return result, errors.PhaseTimedOut(phase.Name, res.Stdout, res.Stderr).
			WithDetail("timeout", timeout.String()).
			WithDetail("log", result.LogPath)
	case runErr != nil:
		result.Status = types.PhaseFailed
		if ctx.Err() != nil {
			return result, errors.Wrapf(runErr, errors.ErrPhaseFailed, "phase %q interrupted", phase.Name).
				WithDetail("phase", phase.Name)
		}
		result.ExitCode = 127
		logger.Error().Err(runErr).Msg("Phase could not be started")
		return result, errors.PhaseFailed(phase.Name, result.ExitCode, res.Stdout, runErr.Error()).
			WithDetail("log", result.LogPath)
	case res.ExitCode != 0:
		result.Status = types.PhaseFailed
		logger.Error().Int("exit_code", res.ExitCode).Msg("Phase failed")
		return result, errors.PhaseFailed(phase.Name, res.ExitCode, res.Stdout, res.Stderr).
			WithDetail("log", result.LogPath)
	}

	result.Status = types.PhaseSucceeded
	logger.Info().Dur("duration", res.Duration).Msg("Phase completed")
	return result, nil
}

// ExpandCommand expands placeholders in a phase command. An element that
// is exactly ${args} is replaced by the configure arguments.
func ExpandCommand(command []string, env *environment.InstallEnvironment) ([]string, error) {
	scope := env.Scope()
	argv := make([]string, 0, len(command))
	for _, word := range command {
		if word == ArgsPlaceholder {
			argv = append(argv, env.Args()...)
			continue
		}
		expanded, err := scope.Expand(word)
		if err != nil {
			return nil, err
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}

func (e *Executor) writeLog(index int, phase string, argv []string, env *environment.InstallEnvironment, res Result, runErr error) string {
	if e.logDir == "" {
		return ""
	}
	path := filepath.Join(e.logDir, fmt.Sprintf("%02d.%s.log", index+1, phase))

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", shellquote.Join(argv...))
	for _, kv := range env.Environ() {
		fmt.Fprintf(&b, "  %s\n", kv)
	}
	fmt.Fprintf(&b, "\n--- stdout ---\n%s", res.Stdout)
	fmt.Fprintf(&b, "\n--- stderr ---\n%s", res.Stderr)
	if runErr != nil {
		fmt.Fprintf(&b, "\n--- error ---\n%s\n", runErr)
	}
	fmt.Fprintf(&b, "\nexit status %d after %s\n", res.ExitCode, res.Duration)

	if err := e.fs.MkdirAll(e.logDir, 0755); err != nil {
		e.logger.Warn().Err(err).Str("dir", e.logDir).Msg("Cannot create phase log directory")
		return ""
	}
	if err := e.fs.WriteFile(path, []byte(b.String()), 0644); err != nil {
		e.logger.Warn().Err(err).Str("path", path).Msg("Cannot write phase log")
		return ""
	}
	return path
}
