// pkg/engine/engine_test.go
// TEST TYPE: Integration Test
// DEPENDENCIES: Real filesystem (t.TempDir), scripted Runner
// PURPOSE: Test the install pipeline end to end without spawning processes

package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arthur-debert/formulary/pkg/config"
	"github.com/arthur-debert/formulary/pkg/engine"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/executor"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/options"
	"github.com/arthur-debert/formulary/pkg/paths"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner records every command and answers through handle.
type scriptedRunner struct {
	mu     sync.Mutex
	cmds   []executor.Command
	handle func(cmd executor.Command) (executor.Result, error)
}

func (r *scriptedRunner) Run(_ context.Context, cmd executor.Command) (executor.Result, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	if r.handle == nil {
		return executor.Result{}, nil
	}
	return r.handle(cmd)
}

func (r *scriptedRunner) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, c := range r.cmds {
		names = append(names, c.Phase)
	}
	return names
}

func (r *scriptedRunner) command(phase string) (executor.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cmds {
		if c.Phase == phase {
			return c, true
		}
	}
	return executor.Command{}, false
}

func envOf(cmd executor.Command, key string) string {
	for _, kv := range cmd.Env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"=")
		}
	}
	return ""
}

type fixture struct {
	paths  paths.Paths
	loader *formula.Loader
	runner *scriptedRunner
	engine *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	p, err := paths.New(paths.Options{
		Prefix:   filepath.Join(root, "prefix"),
		CacheDir: filepath.Join(root, "cache"),
		LogDir:   filepath.Join(root, "logs"),
		BuildDir: filepath.Join(root, "build"),
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Build: config.Build{Jobs: 4, EnvPassthrough: []string{"PATH", "HOME"}},
		Lock:  config.Lock{Timeout: time.Second},
		Test:  config.Test{RunAfterInstall: true, Timeout: time.Minute},
	}
	fx := &fixture{
		paths:  p,
		loader: formula.NewLoader(filesystem.NewOS()),
		runner: &scriptedRunner{},
	}
	fx.engine, err = engine.New(engine.Options{
		Config:  cfg,
		Paths:   p,
		Runner:  fx.runner,
		Loader:  fx.loader,
		Environ: []string{"PATH=/usr/bin:/bin", "HOME=/home/builder", "AWS_SECRET_ACCESS_KEY=nope"},
	})
	require.NoError(t, err)
	return fx
}

// markInstalled writes a receipt so the cellar reports name as installed.
func (fx *fixture) markInstalled(t *testing.T, name, version string) {
	t.Helper()
	require.NoError(t, fx.engine.Cellar().WriteReceipt(&types.InstallationRecord{
		Formula: name,
		Version: version,
		Root:    fx.paths.Keg(name, version),
	}))
}

var rDailyDeps = []string{"pkg-config", "gcc", "gettext", "jpeg", "libpng", "pcre2", "readline", "xz"}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

// rDaily scripts a successful R build: make install populates the keg and
// the R binaries answer the smoke tests.
func (fx *fixture) rDaily(t *testing.T) string {
	keg := fx.paths.Keg("r-daily", "devel")
	gcc := fx.paths.Keg("gcc", "14.1")
	makeconf := strings.Join([]string{
		"CC = " + gcc + "/bin/gcc",
		"CPPFLAGS = -I/usr/local/include",
		"LDFLAGS = -L/usr/local/lib",
		"SHLIB_LDFLAGS = -shared",
		"",
	}, "\n")

	fx.runner.handle = func(cmd executor.Command) (executor.Result, error) {
		switch cmd.Phase {
		case "install":
			writeFile(t, filepath.Join(keg, "bin", "R"), "#!/bin/sh\n")
			writeFile(t, filepath.Join(keg, "bin", "Rscript"), "#!/bin/sh\n")
			writeFile(t, filepath.Join(keg, "lib", "R", "lib", "libR.dylib"), "")
			writeFile(t, filepath.Join(keg, "lib", "R", "include", "R.h"), "")
			writeFile(t, filepath.Join(keg, "lib", "R", "etc", "Makeconf"), makeconf)
		case "test:arithmetic":
			return executor.Result{Stdout: "[1] 2\n"}, nil
		case "test:dylib-ext":
			return executor.Result{Stdout: ".dylib\n"}, nil
		case "test:install-package":
			writeFile(t, filepath.Join(cmd.Dir, "gss", "libs", "gss.so"), "")
		}
		return executor.Result{}, nil
	}

	for _, dep := range rDailyDeps {
		version := "1.0"
		if dep == "gcc" {
			version = "14.1"
		}
		fx.markInstalled(t, dep, version)
	}
	return keg
}

func TestInstallWithoutOpenblas(t *testing.T) {
	fx := newFixture(t)
	keg := fx.rDaily(t)

	overrides, rest := options.SplitFlags([]string{"r-daily", "--without-openblas"})
	require.Equal(t, []string{"r-daily"}, rest)

	rec, err := fx.engine.Install(context.Background(), "r-daily", engine.InstallOptions{
		Overrides: overrides,
		SourceDir: t.TempDir(),
	})
	require.NoError(t, err)

	want := []string{
		"configure", "build", "install", "nmath-build", "nmath-install",
		"site-library",
		"test:arithmetic", "test:dylib-ext", "test:install-package",
	}
	if diff := cmp.Diff(want, fx.runner.phases()); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}

	configure, _ := fx.runner.command("configure")
	assert.Equal(t, "./configure", configure.Argv[0])
	assert.Contains(t, configure.Argv, "--prefix="+keg)
	assert.Contains(t, configure.Argv, "--with-blas=-framework Accelerate")
	assert.Contains(t, configure.Argv, "--with-recommended-packages")
	assert.Contains(t, configure.Argv, "--without-x")
	for _, arg := range configure.Argv {
		assert.NotContains(t, arg, "openblas")
	}
	assert.Contains(t, envOf(configure, "CFLAGS"), "-D__ACCELERATE__")
	assert.Contains(t, envOf(configure, "CPPFLAGS"), "-I"+filepath.Join(fx.paths.OptPath("gettext"), "include"))
	assert.Contains(t, envOf(configure, "PATH"), filepath.Join(fx.paths.OptPath("pkg-config"), "bin"))
	assert.True(t, strings.HasSuffix(envOf(configure, "PATH"), ":/usr/bin:/bin"))
	assert.Empty(t, envOf(configure, "AWS_SECRET_ACCESS_KEY"), "only passthrough variables reach phases")

	build, _ := fx.runner.command("build")
	install, _ := fx.runner.command("install")
	assert.Equal(t, "-j4", envOf(build, "MAKEFLAGS"))
	assert.Equal(t, "-j1", envOf(install, "MAKEFLAGS"))
	nmath, _ := fx.runner.command("nmath-build")
	assert.Equal(t, "-j4", envOf(nmath, "MAKEFLAGS"), "serial override does not leak into later phases")

	assert.Equal(t, []string{"install-source"}, types.ExecutionRecord{Phases: rec.Phases}.Skipped())

	makeconf, err := os.ReadFile(filepath.Join(keg, "lib", "R", "etc", "Makeconf"))
	require.NoError(t, err)
	prefix := fx.paths.Prefix()
	assert.Contains(t, string(makeconf), "CPPFLAGS = -I/usr/local/include -I"+prefix+"/include\n")
	assert.Contains(t, string(makeconf), "LDFLAGS = -L/usr/local/lib -L"+prefix+"/lib\n")
	assert.Contains(t, string(makeconf), "SHLIB_LDFLAGS = -shared $(LDFLAGS)\n")
	assert.Contains(t, string(makeconf), "CC = "+fx.paths.OptPath("gcc")+"/bin/gcc\n")
	require.Len(t, rec.Patches, 1)
	assert.Len(t, rec.Patches[0].Entries, 4)

	dest, err := os.Readlink(filepath.Join(prefix, "bin", "R"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(keg, "bin", "R"), dest)
	dest, err = os.Readlink(filepath.Join(keg, "lib", "libR.dylib"))
	require.NoError(t, err)
	assert.Equal(t, "R/lib/libR.dylib", dest)
	dest, err = os.Readlink(fx.paths.OptPath("r-daily"))
	require.NoError(t, err)
	assert.Equal(t, keg, dest)

	require.NotNil(t, rec.Tests)
	assert.True(t, rec.Tests.Passed())
	assert.False(t, rec.Options["openblas"])
	assert.True(t, rec.Options["recommended-packages"])
	assert.ElementsMatch(t, rDailyDeps, rec.Dependencies)
	assert.NotEmpty(t, rec.RunID)

	stored, err := fx.engine.Cellar().ReadReceipt("r-daily", "devel")
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, stored.RunID)
	assert.True(t, fx.engine.Cellar().IsInstalled("r-daily"))
}

func TestUnknownOptionSpawnsNothing(t *testing.T) {
	fx := newFixture(t)
	fx.rDaily(t)

	_, err := fx.engine.Install(context.Background(), "r-daily", engine.InstallOptions{
		Overrides: []options.Override{{Name: "bogus", Enable: true}},
		SourceDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrUnknownOption))
	assert.Equal(t, errors.ExitResolution, errors.ExitCode(err))
	assert.Empty(t, fx.runner.phases())
}

func TestConflictingPackageBlocksInstall(t *testing.T) {
	fx := newFixture(t)
	fx.rDaily(t)
	fx.markInstalled(t, "r", "4.4.1")

	_, err := fx.engine.Install(context.Background(), "r-daily", engine.InstallOptions{SourceDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConflictingPackage))
	assert.Empty(t, fx.runner.phases())
	assert.False(t, fx.engine.Cellar().IsInstalled("r-daily"))
}

func TestDryRunWritesNothing(t *testing.T) {
	fx := newFixture(t)
	keg := fx.rDaily(t)

	rec, err := fx.engine.Install(context.Background(), "r-daily", engine.InstallOptions{DryRun: true})
	require.NoError(t, err)

	assert.Empty(t, fx.runner.phases())
	require.NotEmpty(t, rec.Phases)
	assert.Equal(t, types.PhaseDryRun, rec.Phases[0].Status)
	assert.Contains(t, rec.Phases[0].Argv, "--prefix="+keg)
	_, err = os.Stat(keg)
	assert.True(t, os.IsNotExist(err))
}

func TestConfigureFailureLeavesNothingInstalled(t *testing.T) {
	fx := newFixture(t)
	keg := fx.rDaily(t)
	fx.runner.handle = func(cmd executor.Command) (executor.Result, error) {
		if cmd.Phase == "configure" {
			return executor.Result{ExitCode: 1, Stderr: "configure: error: no acceptable C compiler\n"}, nil
		}
		return executor.Result{}, nil
	}

	rec, err := fx.engine.Install(context.Background(), "r-daily", engine.InstallOptions{SourceDir: t.TempDir()})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrPhaseFailed))
	assert.Equal(t, errors.ExitBuild, errors.ExitCode(err))
	assert.Equal(t, []string{"configure"}, fx.runner.phases())
	require.NotNil(t, rec)
	assert.Equal(t, types.PhaseFailed, rec.Phases[0].Status)

	assert.False(t, fx.engine.Cellar().IsInstalled("r-daily"))
	_, err = os.Stat(keg)
	assert.True(t, os.IsNotExist(err))
}

func TestAlreadyInstalled(t *testing.T) {
	fx := newFixture(t)
	fx.rDaily(t)
	fx.markInstalled(t, "r-daily", "devel")

	_, err := fx.engine.Install(context.Background(), "r-daily", engine.InstallOptions{SourceDir: t.TempDir()})
	assert.True(t, errors.IsErrorCode(err, errors.ErrAlreadyExists))
}

// twoFormulas registers hello, which depends on libgreet. Their install
// phases create a binary and a library in their kegs.
func (fx *fixture) twoFormulas(t *testing.T, helloTests []formula.TestAssertion) {
	t.Helper()
	require.NoError(t, fx.loader.Add(&formula.Formula{
		Name:    "libgreet",
		Version: "1.0",
		Phases:  []formula.BuildPhase{{Name: "install", Command: []string{"make", "install", "PREFIX=${prefix}"}}},
	}))
	require.NoError(t, fx.loader.Add(&formula.Formula{
		Name:         "hello",
		Version:      "2.12",
		Dependencies: []formula.Dependency{{Name: "libgreet", Kind: formula.KindRequired, Version: ">= 1.0"}},
		Phases:       []formula.BuildPhase{{Name: "install", Command: []string{"make", "install", "PREFIX=${prefix}", "GREET=${libgreet.lib}"}}},
		Tests:        helloTests,
	}))

	fx.runner.handle = func(cmd executor.Command) (executor.Result, error) {
		if cmd.Phase != "install" {
			return executor.Result{ExitCode: 1}, nil
		}
		prefix := strings.TrimPrefix(cmd.Argv[2], "PREFIX=")
		if strings.Contains(prefix, "libgreet") {
			writeFile(t, filepath.Join(prefix, "lib", "libgreet.a"), "")
		} else {
			writeFile(t, filepath.Join(prefix, "bin", "hello"), "")
		}
		return executor.Result{}, nil
	}
}

func TestMissingDependencyIsBuiltFirst(t *testing.T) {
	fx := newFixture(t)
	fx.twoFormulas(t, nil)

	res, err := fx.engine.Plan("hello", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"libgreet", "hello"}, res.Plan.Names())

	_, err = fx.engine.Install(context.Background(), "hello", engine.InstallOptions{})
	require.NoError(t, err)

	require.Len(t, fx.runner.cmds, 2)
	assert.Contains(t, fx.runner.cmds[0].Argv, "PREFIX="+fx.paths.Keg("libgreet", "1.0"))
	assert.Contains(t, fx.runner.cmds[1].Argv, "GREET="+filepath.Join(fx.paths.OptPath("libgreet"), "lib"))
	assert.True(t, fx.engine.Cellar().IsInstalled("libgreet"))
	assert.True(t, fx.engine.Cellar().IsInstalled("hello"))

	_, err = os.Lstat(filepath.Join(fx.paths.Prefix(), "lib", "libgreet.a"))
	assert.NoError(t, err)
}

func TestUninstallRespectsDependents(t *testing.T) {
	fx := newFixture(t)
	fx.twoFormulas(t, nil)
	_, err := fx.engine.Install(context.Background(), "hello", engine.InstallOptions{})
	require.NoError(t, err)

	err = fx.engine.Uninstall(context.Background(), "libgreet", false)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
	assert.Equal(t, []string{"hello"}, fx.engine.Dependents("libgreet"))

	require.NoError(t, fx.engine.Uninstall(context.Background(), "hello", false))
	require.NoError(t, fx.engine.Uninstall(context.Background(), "libgreet", false))

	assert.Empty(t, fx.engine.Cellar().List())
	_, err = os.Lstat(filepath.Join(fx.paths.Prefix(), "bin", "hello"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(fx.paths.OptPath("libgreet"))
	assert.True(t, os.IsNotExist(err))

	err = fx.engine.Uninstall(context.Background(), "hello", false)
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}

func TestFailingTestKeepsInstallation(t *testing.T) {
	fx := newFixture(t)
	fx.twoFormulas(t, []formula.TestAssertion{
		{Name: "runs", Kind: formula.AssertSucceeds, Command: []string{"${bin}/hello"}},
	})

	rec, err := fx.engine.Install(context.Background(), "hello", engine.InstallOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrTestAssertionFailed))
	assert.Equal(t, errors.ExitTest, errors.ExitCode(err))
	require.NotNil(t, rec)
	assert.Equal(t, []string{"runs"}, rec.Tests.Failed())
	assert.True(t, fx.engine.Cellar().IsInstalled("hello"), "test failures do not roll back")

	report, err := fx.engine.Test(context.Background(), "hello")
	assert.True(t, errors.IsErrorCode(err, errors.ErrTestAssertionFailed))
	assert.Equal(t, []string{"runs"}, report.Failed())

	_, err = fx.engine.Test(context.Background(), "libgreet")
	assert.NoError(t, err, "formula without assertions passes")
}

func TestFailureAfterLinkingRemovesLinks(t *testing.T) {
	fx := newFixture(t)
	fx.twoFormulas(t, nil)
	base := fx.runner.handle
	fx.runner.handle = func(cmd executor.Command) (executor.Result, error) {
		res, err := base(cmd)
		prefix := strings.TrimPrefix(cmd.Argv[2], "PREFIX=")
		if strings.Contains(prefix, "hello") {
			// A directory in place of the receipt makes the final write fail.
			writeFile(t, filepath.Join(prefix, paths.ReceiptFileName, "blocker"), "")
		}
		return res, err
	}

	_, err := fx.engine.Install(context.Background(), "hello", engine.InstallOptions{})
	require.Error(t, err)
	assert.False(t, fx.engine.Cellar().IsInstalled("hello"))
	assert.True(t, fx.engine.Cellar().IsInstalled("libgreet"), "dependencies stay installed")

	_, err = os.Lstat(filepath.Join(fx.paths.Prefix(), "bin", "hello"))
	assert.True(t, os.IsNotExist(err), "prefix link of the rolled back keg is removed")
	_, err = os.Lstat(fx.paths.OptPath("hello"))
	assert.True(t, os.IsNotExist(err), "opt link of the rolled back keg is removed")
	_, err = os.Lstat(filepath.Join(fx.paths.Prefix(), "lib", "libgreet.a"))
	assert.NoError(t, err)
}

func TestCancelledTestRunKeepsInstallation(t *testing.T) {
	fx := newFixture(t)
	fx.twoFormulas(t, []formula.TestAssertion{
		{Name: "runs", Kind: formula.AssertSucceeds, Command: []string{"${bin}/hello"}},
		{Name: "greets", Kind: formula.AssertOutputContains, Command: []string{"${bin}/hello"}, Expected: "Hello"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := fx.runner.handle
	fx.runner.handle = func(cmd executor.Command) (executor.Result, error) {
		if strings.HasPrefix(cmd.Phase, "test:") {
			cancel()
			return executor.Result{}, nil
		}
		return base(cmd)
	}

	rec, err := fx.engine.Install(ctx, "hello", engine.InstallOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Tests)
	assert.Len(t, rec.Tests.Results, 1, "assertions after the cancellation do not run")

	assert.True(t, fx.engine.Cellar().IsInstalled("hello"), "an interrupted test run does not roll back")
	receipt, err := fx.engine.Cellar().ReadReceipt("hello", "2.12")
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Links.Links)

	target, err := os.Readlink(filepath.Join(fx.paths.Prefix(), "bin", "hello"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, fx.paths.Keg("hello", "2.12")))
	_, err = os.Lstat(fx.paths.OptPath("hello"))
	assert.NoError(t, err)
}
