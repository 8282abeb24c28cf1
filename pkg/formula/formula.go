package formula

import (
	"time"
)

// DependencyKind classifies when a dependency is needed.
type DependencyKind string

const (
	// KindBuild dependencies are needed to build but not at runtime.
	KindBuild DependencyKind = "build"
	// KindRequired dependencies are always needed.
	KindRequired DependencyKind = "required"
	// KindOptional dependencies are used only when their option is turned on.
	// Their option defaults to off.
	KindOptional DependencyKind = "optional"
	// KindRecommended dependencies are used unless their option is turned off.
	// Their option defaults to on.
	KindRecommended DependencyKind = "recommended"
)

// Gated reports whether the dependency is controlled by an option.
func (k DependencyKind) Gated() bool {
	return k == KindOptional || k == KindRecommended
}

// Valid reports whether k is a known kind.
func (k DependencyKind) Valid() bool {
	switch k {
	case KindBuild, KindRequired, KindOptional, KindRecommended:
		return true
	}
	return false
}

// OptionName names a build option. Names are checked against the formula's
// declared options when it is loaded, so a misspelt name in a condition is
// a load error rather than a silently false branch.
type OptionName string

// Dependency is one entry of a formula's dependency set.
type Dependency struct {
	Name string
	Kind DependencyKind
	// Version is an optional semver constraint such as ">= 0.3.20".
	Version string
}

// Option returns the option gating this dependency, or "" when the
// dependency is unconditional.
func (d Dependency) Option() OptionName {
	if d.Kind.Gated() {
		return OptionName(d.Name)
	}
	return ""
}

// Conflict names a package that cannot be installed alongside the formula.
type Conflict struct {
	Name    string
	Because string
}

// Option is a boolean build switch.
type Option struct {
	Name        OptionName
	Description string
	Default     bool
	// Group makes options mutually exclusive: at most one per group may be on.
	Group string
	// Implicit options were created for an optional or recommended dependency.
	Implicit bool
}

// Condition gates a phase, rule or candidate on the resolved options. An
// empty condition always holds.
type Condition struct {
	With    []OptionName
	Without []OptionName
}

// Empty reports whether the condition has no requirements.
func (c Condition) Empty() bool {
	return len(c.With) == 0 && len(c.Without) == 0
}

// Names returns every option referenced by the condition.
func (c Condition) Names() []OptionName {
	names := make([]OptionName, 0, len(c.With)+len(c.Without))
	names = append(names, c.With...)
	return append(names, c.Without...)
}

// OptionSet is the read side of a resolved option set.
type OptionSet interface {
	Enabled(name OptionName) bool
}

// Holds evaluates the condition against a resolved option set.
func (c Condition) Holds(opts OptionSet) bool {
	for _, name := range c.With {
		if !opts.Enabled(name) {
			return false
		}
	}
	for _, name := range c.Without {
		if opts.Enabled(name) {
			return false
		}
	}
	return true
}

// EnvMode says how an env rule combines with earlier values.
type EnvMode string

const (
	// EnvAppend adds a space separated value (compiler flags).
	EnvAppend EnvMode = "append"
	// EnvAppendPath adds a colon separated entry at the end.
	EnvAppendPath EnvMode = "append_path"
	// EnvPrependPath adds a colon separated entry at the front.
	EnvPrependPath EnvMode = "prepend_path"
	// EnvSet replaces any earlier value.
	EnvSet EnvMode = "set"
)

// Valid reports whether m is a known mode.
func (m EnvMode) Valid() bool {
	switch m {
	case EnvAppend, EnvAppendPath, EnvPrependPath, EnvSet:
		return true
	}
	return false
}

// EnvRule contributes a value to a build environment variable.
type EnvRule struct {
	Var   string
	Value string
	Mode  EnvMode
	When  Condition
}

// ArgRule contributes configure arguments.
type ArgRule struct {
	Args []string
	When Condition
}

// Candidate is one alternative of a Selector.
type Candidate struct {
	Name     string
	Priority int
	When     Condition
	Args     []string
	Env      []EnvRule
}

// Selector picks exactly one candidate: the highest-priority candidate whose
// condition holds, ties going to the one declared first. Every selector has
// an unconditional fallback.
type Selector struct {
	Name       string
	Candidates []Candidate
}

// Parallelism is a phase's worker policy.
type Parallelism string

const (
	Parallel Parallelism = "parallel"
	Serial   Parallelism = "serial"
)

// BuildPhase is one external process step.
type BuildPhase struct {
	Name    string
	Command []string
	// Dir is relative to the build directory.
	Dir         string
	Parallelism Parallelism
	When        Condition
	// Timeout of zero means the configured default.
	Timeout time.Duration
}

// PatchRule rewrites matching lines of a file in the installed keg.
type PatchRule struct {
	// File is relative to the keg root.
	File    string
	Pattern string
	Replace string
	// Literal treats Pattern as plain text instead of a regular expression.
	Literal bool
	When    Condition
}

// SymlinkRule creates links inside the keg, e.g. exposing lib/R/lib/* in lib.
type SymlinkRule struct {
	// Source is a glob relative to the keg root.
	Source string
	// Target is a directory relative to the keg root.
	Target string
}

// AssertionKind is the check a test assertion performs.
type AssertionKind string

const (
	AssertOutputEquals   AssertionKind = "output_equals"
	AssertOutputContains AssertionKind = "output_contains"
	AssertOutputMatches  AssertionKind = "output_matches"
	AssertSucceeds       AssertionKind = "succeeds"
	AssertFileExists     AssertionKind = "file_exists"
)

// Valid reports whether k is a known assertion kind.
func (k AssertionKind) Valid() bool {
	switch k {
	case AssertOutputEquals, AssertOutputContains, AssertOutputMatches, AssertSucceeds, AssertFileExists:
		return true
	}
	return false
}

// NeedsCommand reports whether the assertion runs a command.
func (k AssertionKind) NeedsCommand() bool {
	return k != AssertFileExists
}

// TestAssertion is one smoke test run against an installed keg.
type TestAssertion struct {
	Name     string
	Kind     AssertionKind
	Command  []string
	Expected string
	Path     string
}

// Resource is an extra source archive extracted into the build directory.
type Resource struct {
	Name   string
	URL    string
	SHA256 string
}

// Formula is the parsed, validated description of one package. Formulas
// are owned by the registry and must not be modified after loading.
type Formula struct {
	Name        string
	Description string
	Homepage    string
	License     string
	Version     string
	URL         string
	SHA256      string
	KegOnly     bool
	Caveats     string

	Resources    []Resource
	Dependencies []Dependency
	Conflicts    []Conflict
	Options      []Option
	Env          []EnvRule
	Args         []ArgRule
	Selectors    []Selector
	Phases       []BuildPhase
	PostInstall  []BuildPhase
	Patches      []PatchRule
	Symlinks     []SymlinkRule
	Tests        []TestAssertion

	// Path is the file the formula was loaded from, if any.
	Path string
}

// Option looks up a declared option.
func (f *Formula) Option(name OptionName) (Option, bool) {
	for _, o := range f.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Dependency looks up a declared dependency.
func (f *Formula) Dependency(name string) (Dependency, bool) {
	for _, d := range f.Dependencies {
		if d.Name == name {
			return d, true
		}
	}
	return Dependency{}, false
}

// ConflictsWith returns the declared conflict for name, if any.
func (f *Formula) ConflictsWith(name string) (Conflict, bool) {
	for _, c := range f.Conflicts {
		if c.Name == name {
			return c, true
		}
	}
	return Conflict{}, false
}
