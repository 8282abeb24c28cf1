// pkg/style/render_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: None
// PURPOSE: Test plain-text rendering of plans, records, reports and errors

package style_test

import (
	"testing"
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/resolver"
	"github.com/arthur-debert/formulary/pkg/style"
	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type source map[string]*formula.Formula

func (s source) Get(name string) (*formula.Formula, error) {
	if f, ok := s[name]; ok {
		return f, nil
	}
	return nil, errors.Newf(errors.ErrFormulaNotFound, "no formula named %q", name)
}

func (s source) Has(name string) bool { _, ok := s[name]; return ok }

type installed map[string]string

func (c installed) Lookup(name string) (string, error) {
	if v, ok := c[name]; ok {
		return v, nil
	}
	return "", errors.New(errors.ErrNotFound, name)
}

func (c installed) IsInstalled(name string) bool { _, ok := c[name]; return ok }

func init() {
	style.SetColor(false)
}

func TestRenderPlan(t *testing.T) {
	root := &formula.Formula{Name: "hello", Version: "2.12", Dependencies: []formula.Dependency{
		{Name: "gettext", Kind: formula.KindRequired},
		{Name: "pcre2", Kind: formula.KindRequired, Version: ">= 10"},
	}}
	src := source{
		"gettext": {Name: "gettext", Version: "0.22.5"},
		"pcre2":   {Name: "pcre2", Version: "10.43"},
	}
	plan, err := resolver.Resolve(root, installed{"gettext": "0.22.5"}, src)
	require.NoError(t, err)

	out := style.RenderPlan(plan, "--with-debug")
	assert.Contains(t, out, "hello --with-debug")
	assert.Contains(t, out, "gettext 0.22.5 installed")
	assert.Contains(t, out, "pcre2 10.43 (required, >= 10)")
	assert.Contains(t, out, "hello 2.12")
}

func TestRenderRecord(t *testing.T) {
	rec := &types.InstallationRecord{
		Formula: "r-daily",
		Version: "2024-06-01",
		Root:    "/opt/formulary/Cellar/r-daily/2024-06-01",
		Phases: []types.PhaseResult{
			{Name: "configure", Status: types.PhaseSucceeded, Duration: 1500 * time.Millisecond},
			{Name: "openblas", Status: types.PhaseSkipped},
		},
		Patches: []types.PatchLog{{File: "etc/Makeconf", Entries: make([]types.PatchEntry, 3)}},
		Links:   types.LinkLog{Links: make([]types.Link, 2)},
		Tests: &types.TestReport{Results: []types.AssertionResult{
			{Name: "version", Passed: true},
			{Name: "blas", Kind: "output_contains", Expected: "openblas", Actual: "Accelerate"},
		}},
	}

	out := style.RenderRecord(rec)
	assert.Contains(t, out, "r-daily 2024-06-01")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "patched 3 lines in 1 files")
	assert.Contains(t, out, "linked 2 files")
	assert.Contains(t, out, "tests 1/2 passed")
	assert.Contains(t, out, "expected: openblas")
	assert.Contains(t, out, rec.Root)
}

func TestRenderPhasesShowsFailures(t *testing.T) {
	out := style.RenderPhases([]types.PhaseResult{
		{Name: "make", Status: types.PhaseFailed, ExitCode: 2},
		{Name: "check", Status: types.PhaseTimedOut},
		{Name: "install", Status: types.PhaseDryRun, Argv: []string{"make", "install"}},
	})
	assert.Contains(t, out, "exit 2")
	assert.Contains(t, out, "timed out")
	assert.Contains(t, out, "make install")
}

func TestRenderError(t *testing.T) {
	err := errors.PhaseFailed("configure", 1, "lots of output", "checking for gfortran... no")
	out := style.RenderError(err)

	assert.Contains(t, out, "configure")
	assert.Contains(t, out, "checking for gfortran... no")
	assert.NotContains(t, out, "lots of output")
}

func TestRenderMarkdownFallsBackToPlain(t *testing.T) {
	out := style.RenderMarkdown("Run **R** with `R --vanilla`.", false, 80)
	assert.Contains(t, out, "R --vanilla")
}

func TestMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single tag", "Uninstalled [formula]hello[/formula] 2.12", "Uninstalled hello 2.12"},
		{"nested tags", "[bold]see [path]/opt/r[/path][/bold]", "see /opt/r"},
		{"unknown tag kept", "[blink]x[/blink]", "[blink]x[/blink]"},
		{"unclosed tag kept", "[formula]hello", "[formula]hello"},
		{"no tags", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, style.Markup(tt.in))
		})
	}
}
