package executor

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/arthur-debert/formulary/pkg/logging"
)

// Command is one process invocation.
type Command struct {
	Phase   string
	Argv    []string
	Env     []string
	Dir     string
	Timeout time.Duration
	// Stdout and Stderr, when set, receive the streams as they are produced
	// in addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is what a finished process reports back.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Runner starts a command and waits for it. A non-zero exit is reported in
// the Result, not as an error; errors mean the process could not be run.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec. Each command gets its own process
// group so a timeout kills the whole tree the build tool spawned.
type ExecRunner struct{}

// NewExecRunner returns the real runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	logger := logging.GetLogger("executor.runner")

	runCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	setProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, c.Stdout)
	cmd.Stderr = tee(&stderr, c.Stderr)

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if c.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res.TimedOut = true
		res.ExitCode = -1
		logger.Debug().Str("phase", c.Phase).Dur("timeout", c.Timeout).Msg("Process group killed after timeout")
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func tee(capture *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return capture
	}
	return io.MultiWriter(capture, extra)
}
