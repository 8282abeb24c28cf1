// Package testrunner runs a formula's smoke-test assertions against an
// installed keg and aggregates the results.
//
// Every assertion runs, in declaration order, inside one scratch directory
// exposed as ${testpath}. Later assertions may inspect files created by
// earlier ones. A failing assertion never stops the run.
package testrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/arthur-debert/formulary/pkg/environment"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/executor"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
)

// DefaultTimeout bounds a single assertion command.
const DefaultTimeout = 5 * time.Minute

// Options configures a Runner.
type Options struct {
	Runner executor.Runner
	FS     types.FS
	// ScratchDir is where per-run testpath directories are created.
	ScratchDir string
	// Env is the environment assertion commands run with. HOME is pointed
	// at the testpath.
	Env     []string
	Timeout time.Duration
	// Keep leaves the testpath in place after the run.
	Keep bool
}

// Runner runs test assertions.
type Runner struct {
	runner  executor.Runner
	fs      types.FS
	scratch string
	env     []string
	timeout time.Duration
	keep    bool
}

// New creates a Runner. Missing options fall back to the real process
// runner, the OS filesystem and the system temp directory.
func New(opts Options) *Runner {
	r := &Runner{
		runner:  opts.Runner,
		fs:      opts.FS,
		scratch: opts.ScratchDir,
		env:     opts.Env,
		timeout: opts.Timeout,
		keep:    opts.Keep,
	}
	if r.runner == nil {
		r.runner = executor.NewExecRunner()
	}
	if r.fs == nil {
		r.fs = filesystem.NewOS()
	}
	if r.scratch == "" {
		r.scratch = filepath.Join(os.TempDir(), "formulary-test")
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	return r
}

// Run executes assertions for the formula called name. scope supplies the
// keg placeholders; ${testpath} is added per run. The returned error is
// only set when the run itself could not happen. Assertion failures are
// reported through the TestReport.
func (r *Runner) Run(ctx context.Context, name string, assertions []formula.TestAssertion, scope environment.Scope) (types.TestReport, error) {
	logger := logging.GetLogger("testrunner")
	report := types.TestReport{Formula: name}

	testpath := filepath.Join(r.scratch, name+"-"+uuid.NewString())
	if err := r.fs.MkdirAll(testpath, 0755); err != nil {
		return report, errors.Wrapf(err, errors.ErrFileWrite, "cannot create testpath %s", testpath)
	}
	if !r.keep {
		defer func() {
			if err := r.fs.RemoveAll(testpath); err != nil {
				logger.Warn().Err(err).Str("testpath", testpath).Msg("Failed to remove testpath")
			}
		}()
	}

	scope = scope.With("testpath", testpath)
	env := append(append([]string{}, r.env...), "HOME="+testpath)

	for _, a := range assertions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		start := time.Now()
		res := r.check(ctx, a, scope, env, testpath)
		res.Duration = time.Since(start)
		report.Results = append(report.Results, res)

		event := logger.Info()
		if !res.Passed {
			event = logger.Warn().Str("error", res.Error)
		}
		event.Str("formula", name).Str("assertion", a.Name).Bool("passed", res.Passed).Msg("Test assertion")
	}
	return report, nil
}

func (r *Runner) check(ctx context.Context, a formula.TestAssertion, scope environment.Scope, env []string, testpath string) types.AssertionResult {
	res := types.AssertionResult{Name: a.Name, Kind: string(a.Kind)}

	expected, err := scope.Expand(a.Expected)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Expected = expected

	if a.Kind == formula.AssertFileExists {
		p, err := scope.Expand(a.Path)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(testpath, p)
		}
		res.Expected = p
		if _, err := r.fs.Stat(p); err != nil {
			res.Error = fmt.Sprintf("%s does not exist", p)
			return res
		}
		res.Passed = true
		return res
	}

	argv, err := scope.ExpandAll(a.Command)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	out, err := r.runner.Run(ctx, executor.Command{
		Phase:   "test:" + a.Name,
		Argv:    argv,
		Env:     env,
		Dir:     testpath,
		Timeout: r.timeout,
	})
	if err != nil {
		res.Error = fmt.Sprintf("%s: %v", shellquote.Join(argv...), err)
		return res
	}
	stdout := out.Stdout
	res.Actual = strings.TrimSpace(stdout)

	switch {
	case out.TimedOut:
		res.Error = fmt.Sprintf("timed out after %s", r.timeout)
		return res
	case out.ExitCode != 0:
		res.Error = fmt.Sprintf("exit status %d: %s", out.ExitCode, errors.Tail(out.Stderr, 5))
		return res
	}

	switch a.Kind {
	case formula.AssertSucceeds:
		res.Passed = true
	case formula.AssertOutputEquals:
		res.Passed = res.Actual == strings.TrimSpace(expected)
	case formula.AssertOutputContains:
		res.Passed = strings.Contains(stdout, expected)
	case formula.AssertOutputMatches:
		re, err := regexp.Compile(expected)
		if err != nil {
			res.Error = fmt.Sprintf("bad pattern: %v", err)
			return res
		}
		res.Passed = re.MatchString(stdout)
	default:
		res.Error = fmt.Sprintf("unknown assertion kind %q", a.Kind)
	}
	if !res.Passed && res.Error == "" {
		res.Error = "output did not match"
	}
	return res
}
