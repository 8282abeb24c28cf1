// Package engine runs the install pipeline: conflicts, options, dependency
// resolution, dependency installs, locking, fetching, environment
// materialization, build phases, patches, links, post-install steps, tests
// and finally the receipt.
package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/arthur-debert/formulary/pkg/cellar"
	"github.com/arthur-debert/formulary/pkg/config"
	"github.com/arthur-debert/formulary/pkg/environment"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/executor"
	"github.com/arthur-debert/formulary/pkg/fetch"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/linker"
	"github.com/arthur-debert/formulary/pkg/lock"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/options"
	"github.com/arthur-debert/formulary/pkg/patcher"
	"github.com/arthur-debert/formulary/pkg/paths"
	"github.com/arthur-debert/formulary/pkg/resolver"
	"github.com/arthur-debert/formulary/pkg/testrunner"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options wires an Engine. Only Config and Paths are required.
type Options struct {
	Config *config.Config
	Paths  paths.Paths
	FS     types.FS
	Runner executor.Runner
	// Loader defaults to the configured formula paths plus the builtin tap.
	Loader *formula.Loader
	// Output receives phase output as it is produced.
	Output io.Writer
	// Environ is the calling environment. Defaults to os.Environ().
	Environ []string
}

// Engine installs, tests and removes formulas.
type Engine struct {
	cfg     *config.Config
	paths   paths.Paths
	fs      types.FS
	runner  executor.Runner
	loader  *formula.Loader
	cellar  *cellar.Cellar
	linker  *linker.Linker
	fetcher *fetch.Fetcher
	output  io.Writer
	environ []string
	logger  zerolog.Logger
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil || opts.Paths == nil {
		return nil, errors.New(errors.ErrInvalidInput, "engine needs a config and paths")
	}
	e := &Engine{
		cfg:     opts.Config,
		paths:   opts.Paths,
		fs:      opts.FS,
		runner:  opts.Runner,
		loader:  opts.Loader,
		output:  opts.Output,
		environ: opts.Environ,
		logger:  logging.GetLogger("engine"),
	}
	if e.fs == nil {
		e.fs = filesystem.NewOS()
	}
	if e.runner == nil {
		e.runner = executor.NewExecRunner()
	}
	if e.loader == nil {
		dirs := append([]string{}, e.cfg.FormulaPaths...)
		dirs = append(dirs, e.paths.FormulaDir())
		e.loader = formula.NewLoader(e.fs, dirs...)
	}
	if e.environ == nil {
		e.environ = os.Environ()
	}
	e.cellar = cellar.New(e.fs, e.paths.Cellar())
	e.linker = linker.New(e.fs, e.paths.Prefix(), e.paths.OptDir(), e.paths.Cellar())
	e.fetcher = fetch.New(fetch.Options{
		CacheDir:    e.paths.DownloadsDir(),
		Concurrency: e.cfg.Fetch.Concurrency,
	})
	return e, nil
}

// Loader returns the formula source.
func (e *Engine) Loader() *formula.Loader { return e.loader }

// Cellar returns the installed-package database.
func (e *Engine) Cellar() *cellar.Cellar { return e.cellar }

// Paths returns the layout the engine installs into.
func (e *Engine) Paths() paths.Paths { return e.paths }

// InstallOptions tunes a single install.
type InstallOptions struct {
	Overrides []options.Override
	// SourceDir builds from an existing tree instead of fetching.
	SourceDir string
	SkipTests bool
	DryRun    bool
	// Jobs overrides the configured worker hint when positive.
	Jobs int
}

// Resolution is everything known about a formula before anything runs.
type Resolution struct {
	Formula *formula.Formula
	Options *options.ResolvedOptionSet
	Plan    *resolver.Plan
}

// Plan resolves a formula's options and dependencies. Nothing is spawned
// or written.
func (e *Engine) Plan(name string, overrides []options.Override) (*Resolution, error) {
	f, err := e.loader.Get(name)
	if err != nil {
		return nil, err
	}
	if err := resolver.CheckConflicts(f, e.cellar); err != nil {
		return nil, err
	}
	opts, err := options.Resolve(f.Options, overrides)
	if err != nil {
		return nil, err
	}
	plan, err := resolver.ResolveFor(f, e.cellar, e.loader, opts)
	if err != nil {
		return nil, err
	}
	return &Resolution{Formula: f, Options: opts, Plan: plan.Select(opts)}, nil
}

// Install builds and installs a formula and any missing dependencies.
// The returned record is also written as the keg's receipt. A failing
// test leaves the installation in place and returns the record together
// with a TEST_ASSERTION_FAILED error. An interrupted test run keeps it
// too and returns the context error.
func (e *Engine) Install(ctx context.Context, name string, inst InstallOptions) (*types.InstallationRecord, error) {
	res, err := e.Plan(name, inst.Overrides)
	if err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("formula", name).
		Str("options", res.Options.String()).
		Strs("plan", res.Plan.Names()).
		Msg("Resolved install plan")

	if v, err := e.cellar.Lookup(name); err == nil && v == res.Formula.Version && !inst.DryRun {
		return nil, errors.Newf(errors.ErrAlreadyExists, "%s %s is already installed", name, v).
			WithDetail("formula", name).
			WithDetail("version", v)
	}

	if !inst.DryRun {
		for _, step := range res.Plan.Missing() {
			if step.Root {
				continue
			}
			if err := e.installDependency(ctx, step, inst.Jobs); err != nil {
				return nil, err
			}
		}
	}

	rec, err := e.build(ctx, res.Formula, res.Options, res.Plan, inst, true)
	if err != nil {
		return rec, err
	}
	if rec.Tests != nil {
		return rec, rec.Tests.Err()
	}
	return rec, nil
}

func (e *Engine) installDependency(ctx context.Context, step resolver.Step, jobs int) error {
	dep, err := e.loader.Get(step.Name)
	if err != nil {
		return err
	}
	opts, err := options.Defaults(dep.Options)
	if err != nil {
		return err
	}
	plan, err := resolver.ResolveFor(dep, e.cellar, e.loader, opts)
	if err != nil {
		return err
	}
	e.logger.Info().Str("formula", dep.Name).Str("version", dep.Version).Msg("Installing dependency")
	_, err = e.build(ctx, dep, opts, plan.Select(opts), InstallOptions{SkipTests: true, Jobs: jobs}, false)
	return err
}

// build runs the pipeline for one formula whose dependencies are present.
func (e *Engine) build(ctx context.Context, f *formula.Formula, opts *options.ResolvedOptionSet, plan *resolver.Plan, inst InstallOptions, root bool) (*types.InstallationRecord, error) {
	keg := e.paths.Keg(f.Name, f.Version)
	runID := uuid.NewString()
	logger := logging.ForBuild(e.logger, f.Name, f.Version, runID)

	rec := &types.InstallationRecord{
		RunID:     runID,
		Formula:   f.Name,
		Version:   f.Version,
		Root:      keg,
		Source:    f.Path,
		Options:   opts.Map(),
		StartedAt: time.Now(),
	}

	if !inst.DryRun {
		held, err := lock.Acquire(ctx, e.paths.LockPath(f.Name), e.cfg.Lock.Timeout)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := held.Release(); err != nil {
				logger.Warn().Err(err).Msg("Failed to release prefix lock")
			}
		}()
	}

	buildDir := inst.SourceDir
	if buildDir == "" {
		buildDir = filepath.Join(e.paths.BuildDir(), f.Name+"-"+f.Version+"-"+runID[:8])
	}

	deps := e.dependencyPaths(plan)
	for _, d := range deps {
		rec.Dependencies = append(rec.Dependencies, d.Name)
	}

	jobs := inst.Jobs
	if jobs <= 0 {
		jobs = e.cfg.Build.Jobs
	}
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	layout := environment.Layout{
		Name:         f.Name,
		Version:      f.Version,
		Prefix:       keg,
		OptPrefix:    e.paths.OptPath(f.Name),
		GlobalPrefix: e.paths.Prefix(),
		BuildPath:    buildDir,
		Jobs:         jobs,
	}
	env, err := environment.Materialize(f, opts, deps, layout, e.baseEnv())
	if err != nil {
		return nil, err
	}
	for _, sel := range env.Selections() {
		logger.Info().Str("selector", sel.Selector).Str("candidate", sel.Candidate).Msg("Selected build variant")
	}

	if inst.DryRun {
		ex := e.executor(buildDir, e.paths.PhaseLogDir(f.Name), true)
		record, err := ex.Execute(ctx, f.Phases, env, opts)
		rec.Phases = record.Phases
		rec.FinishedAt = time.Now()
		return rec, err
	}

	if inst.SourceDir == "" {
		if err := e.fs.MkdirAll(buildDir, 0755); err != nil {
			return nil, errors.Wrapf(err, errors.ErrFileWrite, "cannot create build directory %s", buildDir)
		}
		if !e.cfg.Build.KeepBuildDir {
			defer func() {
				if err := e.fs.RemoveAll(buildDir); err != nil {
					logger.Warn().Err(err).Str("dir", buildDir).Msg("Failed to remove build directory")
				}
			}()
		}
		done := logging.Stage(logger, "fetch")
		err := e.fetcher.FetchAll(ctx, fetch.Archives(f, buildDir))
		done(err)
		if err != nil {
			return nil, err
		}
	}

	if err := e.fs.MkdirAll(keg, 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileWrite, "cannot create keg %s", keg)
	}
	failed := func(err error) (*types.InstallationRecord, error) {
		for i := len(rec.Patches) - 1; i >= 0; i-- {
			if rerr := patcher.Revert(e.fs, rec.Patches[i]); rerr != nil {
				logger.Warn().Err(rerr).Str("file", rec.Patches[i].File).Msg("Failed to revert patch")
			}
		}
		if len(rec.Links.Links) > 0 {
			if rerr := e.linker.Unlink(keg, rec.Links); rerr != nil {
				logger.Warn().Err(rerr).Msg("Failed to remove links of partial keg")
			}
		}
		if !e.cfg.Build.KeepBuildDir {
			if rerr := e.cellar.Remove(f.Name, f.Version); rerr != nil {
				logger.Warn().Err(rerr).Msg("Failed to remove partial keg")
			}
		}
		rec.FinishedAt = time.Now()
		return rec, err
	}

	logDir := e.paths.PhaseLogDir(f.Name)
	done := logging.Stage(logger, "build")
	record, err := e.executor(buildDir, logDir, false).Execute(ctx, f.Phases, env, opts)
	rec.Phases = record.Phases
	done(err)
	if err != nil {
		return failed(err)
	}

	done = logging.Stage(logger, "patch")
	err = e.patch(rec, f, keg, env.Scope(), opts)
	done(err)
	if err != nil {
		return failed(err)
	}

	done = logging.Stage(logger, "link")
	err = e.link(rec, f, keg)
	done(err)
	if err != nil {
		return failed(err)
	}

	post, err := e.executor(keg, filepath.Join(logDir, "post_install"), false).Execute(ctx, f.PostInstall, env, opts)
	rec.PostInstall = post.Phases
	if err != nil {
		logger.Warn().Err(err).Msg("Post-install step failed, keeping installation")
	}

	if root && !inst.SkipTests && e.cfg.Test.RunAfterInstall && len(f.Tests) > 0 {
		done = logging.Stage(logger, "test")
		report, err := e.runTests(ctx, f, env.Scope())
		done(err)
		rec.Tests = &report
		if err != nil {
			// The keg is complete and linked; an aborted test run does not undo it.
			rec.FinishedAt = time.Now()
			if werr := e.cellar.WriteReceipt(rec); werr != nil {
				logger.Warn().Err(werr).Msg("Failed to write receipt")
			}
			return rec, err
		}
	}

	rec.FinishedAt = time.Now()
	if err := e.cellar.WriteReceipt(rec); err != nil {
		return failed(err)
	}
	logger.Info().Dur("duration", rec.FinishedAt.Sub(rec.StartedAt)).Str("keg", keg).Msg("Installed")
	return rec, nil
}

// patch applies the formula's patch rules inside the keg, recording
// every changed file even when a later rule fails.
func (e *Engine) patch(rec *types.InstallationRecord, f *formula.Formula, keg string, scope environment.Scope, opts *options.ResolvedOptionSet) error {
	patches, err := patcher.Compile(f.Patches, keg, scope, opts)
	if err != nil {
		return err
	}
	for _, p := range patches {
		log, err := patcher.Patch(e.fs, p.File, p.Rules)
		if log.Changed() {
			rec.Patches = append(rec.Patches, log)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) link(rec *types.InstallationRecord, f *formula.Formula, keg string) error {
	inKeg, err := e.linker.LinkInKeg(keg, f.Symlinks)
	rec.Links.Links = append(rec.Links.Links, inKeg...)
	if err != nil {
		return err
	}
	links, err := e.linker.Link(linker.Keg{Name: f.Name, Path: keg, KegOnly: f.KegOnly})
	rec.Links.Links = append(rec.Links.Links, links.Links...)
	return err
}

func (e *Engine) executor(workDir, logDir string, dryRun bool) *executor.Executor {
	return executor.New(executor.Options{
		Runner:  e.runner,
		DryRun:  dryRun,
		FS:      e.fs,
		WorkDir: workDir,
		LogDir:  logDir,
		Timeout: e.cfg.Build.PhaseTimeout,
		Output:  e.output,
	})
}

// dependencyPaths locates every non-root package of the plan. Packages not
// installed yet (dry runs) point at where they would be installed.
func (e *Engine) dependencyPaths(plan *resolver.Plan) []environment.DependencyPath {
	var deps []environment.DependencyPath
	for _, step := range plan.Dependencies() {
		version := step.Installed
		if v, err := e.cellar.Lookup(step.Name); err == nil {
			version = v
		}
		if version == "" {
			version = step.Version
		}
		kegOnly := false
		if f, err := e.loader.Get(step.Name); err == nil {
			kegOnly = f.KegOnly
		}
		deps = append(deps, environment.DependencyPath{
			Name:      step.Name,
			Prefix:    e.paths.Keg(step.Name, version),
			OptPrefix: e.paths.OptPath(step.Name),
			KegOnly:   kegOnly,
		})
	}
	return deps
}

// baseEnv copies the configured passthrough variables from the calling
// environment.
func (e *Engine) baseEnv() map[string]string {
	keep := map[string]bool{}
	for _, name := range e.cfg.Build.EnvPassthrough {
		keep[name] = true
	}
	base := map[string]string{}
	for _, kv := range e.environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && keep[k] {
			base[k] = v
		}
	}
	return base
}

func (e *Engine) runTests(ctx context.Context, f *formula.Formula, scope environment.Scope) (types.TestReport, error) {
	env := make([]string, 0, len(e.environ))
	base := e.baseEnv()
	names := make([]string, 0, len(base))
	for k := range base {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		v := base[k]
		if k == "PATH" {
			v = scope["bin"] + string(os.PathListSeparator) + v
		}
		env = append(env, k+"="+v)
	}

	runner := testrunner.New(testrunner.Options{
		Runner:     e.runner,
		FS:         e.fs,
		ScratchDir: filepath.Join(e.paths.BuildDir(), "test"),
		Env:        env,
		Timeout:    e.cfg.Test.Timeout,
		Keep:       e.cfg.Build.KeepBuildDir,
	})
	return runner.Run(ctx, f.Name, f.Tests, scope)
}

// Test runs the smoke tests of an installed formula.
func (e *Engine) Test(ctx context.Context, name string) (types.TestReport, error) {
	f, err := e.loader.Get(name)
	if err != nil {
		return types.TestReport{}, err
	}
	version, err := e.cellar.Lookup(name)
	if err != nil {
		return types.TestReport{}, err
	}
	keg := e.paths.Keg(name, version)

	var deps []environment.DependencyPath
	for _, d := range f.Dependencies {
		v, err := e.cellar.Lookup(d.Name)
		if err != nil {
			continue
		}
		deps = append(deps, environment.DependencyPath{
			Name:      d.Name,
			Prefix:    e.paths.Keg(d.Name, v),
			OptPrefix: e.paths.OptPath(d.Name),
		})
	}
	scope := environment.NewScope(environment.Layout{
		Name:         name,
		Version:      version,
		Prefix:       keg,
		OptPrefix:    e.paths.OptPath(name),
		GlobalPrefix: e.paths.Prefix(),
		Jobs:         1,
	}, deps)

	report, err := e.runTests(ctx, f, scope)
	if err != nil {
		return report, err
	}
	return report, report.Err()
}

// Uninstall unlinks and removes the newest installed version of name.
// It refuses while another installed package lists name as a dependency,
// unless force is set.
func (e *Engine) Uninstall(ctx context.Context, name string, force bool) error {
	version, err := e.cellar.Lookup(name)
	if err != nil {
		return err
	}

	if !force {
		if users := e.Dependents(name); len(users) > 0 {
			return errors.Newf(errors.ErrInvalidInput, "%s is required by %s", name, strings.Join(users, ", ")).
				WithDetail("formula", name).
				WithDetail("dependents", users)
		}
	}

	held, err := lock.Acquire(ctx, e.paths.LockPath(name), e.cfg.Lock.Timeout)
	if err != nil {
		return err
	}
	defer func() { _ = held.Release() }()

	rec, err := e.cellar.ReadReceipt(name, version)
	if err != nil {
		return err
	}
	keg := e.paths.Keg(name, version)
	if err := e.linker.Unlink(keg, rec.Links); err != nil {
		return err
	}
	if err := e.cellar.Remove(name, version); err != nil {
		return err
	}
	e.logger.Info().Str("formula", name).Str("version", version).Msg("Uninstalled")
	return nil
}

// Dependents lists installed packages whose receipt names name as a
// dependency.
func (e *Engine) Dependents(name string) []string {
	var users []string
	for _, keg := range e.cellar.List() {
		if keg.Name == name {
			continue
		}
		rec, err := e.cellar.ReadReceipt(keg.Name, keg.Version)
		if err != nil {
			continue
		}
		for _, d := range rec.Dependencies {
			if d == name {
				users = append(users, keg.Name)
				break
			}
		}
	}
	sort.Strings(users)
	return users
}
