package environment

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
)

// Selection records which candidate a selector picked.
type Selection struct {
	Selector  string
	Candidate string
}

// InstallEnvironment is the materialized environment of one build run.
// Values are never modified; the With* methods return derived copies.
type InstallEnvironment struct {
	vars       map[string]string
	args       []string
	selections []Selection
	scope      Scope
	jobs       int
}

// Get returns the value of an environment variable.
func (e *InstallEnvironment) Get(name string) (string, bool) {
	v, ok := e.vars[name]
	return v, ok
}

// Names returns the variable names, sorted.
func (e *InstallEnvironment) Names() []string {
	names := make([]string, 0, len(e.vars))
	for k := range e.vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Environ returns KEY=value pairs sorted by key, the form exec.Cmd takes.
func (e *InstallEnvironment) Environ() []string {
	names := e.Names()
	out := make([]string, len(names))
	for i, k := range names {
		out[i] = k + "=" + e.vars[k]
	}
	return out
}

// Map returns a copy of the variables.
func (e *InstallEnvironment) Map() map[string]string {
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// Args returns a copy of the configure arguments in order.
func (e *InstallEnvironment) Args() []string {
	out := make([]string, len(e.args))
	copy(out, e.args)
	return out
}

// Selections returns the selector choices in declaration order.
func (e *InstallEnvironment) Selections() []Selection {
	out := make([]Selection, len(e.selections))
	copy(out, e.selections)
	return out
}

// Scope returns the placeholders used to expand commands for this build.
func (e *InstallEnvironment) Scope() Scope {
	return e.scope.With()
}

// Jobs is the worker count of parallel phases.
func (e *InstallEnvironment) Jobs() int { return e.jobs }

// WithVar returns a copy of the environment with one variable replaced.
func (e *InstallEnvironment) WithVar(name, value string) *InstallEnvironment {
	c := e.clone()
	c.vars[name] = value
	return c
}

// WithJobs returns a copy with the worker hint for n workers applied.
func (e *InstallEnvironment) WithJobs(n int) *InstallEnvironment {
	if n < 1 {
		n = 1
	}
	c := e.clone()
	c.jobs = n
	c.vars["MAKEFLAGS"] = "-j" + strconv.Itoa(n)
	c.scope = c.scope.With("jobs", strconv.Itoa(n))
	return c
}

func (e *InstallEnvironment) clone() *InstallEnvironment {
	return &InstallEnvironment{
		vars:       e.Map(),
		args:       e.Args(),
		selections: e.Selections(),
		scope:      e.scope.With(),
		jobs:       e.jobs,
	}
}

// Materialize builds the environment for formula f.
//
// base holds the variables inherited from the caller (PATH, HOME and the
// other passthrough variables); deps lists the resolved dependencies in
// plan order.
func Materialize(f *formula.Formula, opts formula.OptionSet, deps []DependencyPath, layout Layout, base map[string]string) (*InstallEnvironment, error) {
	logger := logging.GetLogger("environment")

	jobs := layout.Jobs
	if jobs < 1 {
		jobs = 1
	}
	layout.Jobs = jobs

	scope := NewScope(layout, deps)
	vars := make(map[string]string, len(base)+8)
	for k, v := range base {
		vars[k] = v
	}
	env := &InstallEnvironment{vars: vars, scope: scope, jobs: jobs}

	for _, dep := range deps {
		apply(vars, formula.EnvPrependPath, "PATH", filepath.Join(dep.OptPrefix, "bin"))
		if !dep.KegOnly {
			continue
		}
		apply(vars, formula.EnvAppend, "CPPFLAGS", "-I"+filepath.Join(dep.OptPrefix, "include"))
		apply(vars, formula.EnvAppend, "LDFLAGS", "-L"+filepath.Join(dep.OptPrefix, "lib"))
		apply(vars, formula.EnvAppendPath, "PKG_CONFIG_PATH", filepath.Join(dep.OptPrefix, "lib", "pkgconfig"))
	}

	for _, rule := range f.Env {
		if !rule.When.Holds(opts) {
			continue
		}
		if err := applyRule(vars, scope, rule); err != nil {
			return nil, err
		}
	}
	for _, rule := range f.Args {
		if !rule.When.Holds(opts) {
			continue
		}
		args, err := scope.ExpandAll(rule.Args)
		if err != nil {
			return nil, err
		}
		env.args = append(env.args, args...)
	}

	for _, sel := range f.Selectors {
		cand, ok := choose(sel, opts)
		if !ok {
			continue
		}
		env.selections = append(env.selections, Selection{Selector: sel.Name, Candidate: cand.Name})
		logger.Debug().Str("selector", sel.Name).Str("candidate", cand.Name).Msg("Selected candidate")

		args, err := scope.ExpandAll(cand.Args)
		if err != nil {
			return nil, err
		}
		env.args = append(env.args, args...)
		for _, rule := range cand.Env {
			if !rule.When.Holds(opts) {
				continue
			}
			if err := applyRule(vars, scope, rule); err != nil {
				return nil, err
			}
		}
	}

	vars["MAKEFLAGS"] = "-j" + strconv.Itoa(jobs)

	logger.Debug().
		Str("formula", f.Name).
		Int("vars", len(vars)).
		Strs("args", env.args).
		Msg("Materialized build environment")
	return env, nil
}

// choose returns the highest-priority candidate whose condition holds;
// earlier candidates win ties.
func choose(sel formula.Selector, opts formula.OptionSet) (formula.Candidate, bool) {
	best := -1
	for i, c := range sel.Candidates {
		if !c.When.Holds(opts) {
			continue
		}
		if best < 0 || c.Priority > sel.Candidates[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return formula.Candidate{}, false
	}
	return sel.Candidates[best], true
}

func applyRule(vars map[string]string, scope Scope, rule formula.EnvRule) error {
	value, err := scope.Expand(rule.Value)
	if err != nil {
		return err
	}
	apply(vars, rule.Mode, rule.Var, value)
	return nil
}

func apply(vars map[string]string, mode formula.EnvMode, name, value string) {
	prev := vars[name]
	switch mode {
	case formula.EnvSet:
		vars[name] = value
	case formula.EnvAppendPath:
		vars[name] = joinNonEmpty(":", prev, value)
	case formula.EnvPrependPath:
		vars[name] = joinNonEmpty(":", value, prev)
	default:
		vars[name] = joinNonEmpty(" ", prev, value)
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
