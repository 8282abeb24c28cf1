// Package resolver turns a formula's dependency declarations into an
// ordered install plan.
//
// Resolution is a pure function of the formula, the formula source and the
// installed-package query: nothing is spawned or written. Conflicts are
// checked before anything else. Dependencies reached only through one of
// the root formula's optional or recommended dependencies stay in the plan
// as gated steps until Plan.Select applies the resolved options.
package resolver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/options"
	"github.com/goombaio/dag"
)

// Installed is the read-only view of installed packages.
type Installed interface {
	Lookup(name string) (string, error)
	IsInstalled(name string) bool
}

// Action says what a plan step requires.
type Action string

const (
	// ActionInstall means the package has to be built.
	ActionInstall Action = "install"
	// ActionSatisfied means an acceptable version is already installed.
	ActionSatisfied Action = "satisfied"
)

// Step is one package of the plan.
type Step struct {
	Name string
	// Kind of the first edge that reached the package. Empty for the root.
	Kind formula.DependencyKind
	// Gate is the root option that brought the package in, if any.
	Gate       formula.OptionName
	Constraint string
	// Installed is the version found in the cellar, if any.
	Installed string
	// Version is the formula version that would be installed.
	Version string
	Action  Action
	Root    bool
}

type edgeKey struct {
	from, to string
}

// Plan is a topologically ordered list of steps: every package comes after
// all of its dependencies and the root formula comes last. The dependency
// edges behind the order are kept as a DAG whose successors follow
// declaration order.
type Plan struct {
	root  string
	steps []Step
	graph *dag.DAG
	gates map[edgeKey]formula.OptionName
}

func newPlan(root string) *Plan {
	return &Plan{root: root, graph: dag.NewDAG(), gates: map[edgeKey]formula.OptionName{}}
}

func (p *Plan) vertex(name string) (*dag.Vertex, error) {
	if v, err := p.graph.GetVertex(name); err == nil {
		return v, nil
	}
	v := dag.NewVertex(name, nil)
	if err := p.graph.AddVertex(v); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "cannot add %s to the dependency graph", name)
	}
	return v, nil
}

// connect records that from depends on to, behind gate when set.
func (p *Plan) connect(from, to string, gate formula.OptionName) error {
	tail, err := p.vertex(from)
	if err != nil {
		return err
	}
	head, err := p.vertex(to)
	if err != nil {
		return err
	}
	if err := p.graph.AddEdge(tail, head); err != nil {
		return errors.Wrapf(err, errors.ErrInternal, "cannot link %s to %s in the dependency graph", from, to)
	}
	if gate != "" {
		p.gates[edgeKey{from, to}] = gate
	}
	return nil
}

func (p *Plan) successors(name string) []string {
	v, err := p.graph.GetVertex(name)
	if err != nil {
		return nil
	}
	children, err := p.graph.Successors(v)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.ID)
	}
	return names
}

// Root returns the name of the formula the plan was made for.
func (p *Plan) Root() string { return p.root }

// Steps returns a copy of the ordered steps.
func (p *Plan) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Names returns the step names in order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Step looks up a step by package name.
func (p *Plan) Step(name string) (Step, bool) {
	for _, s := range p.steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Dependencies returns every step except the root.
func (p *Plan) Dependencies() []Step {
	var out []Step
	for _, s := range p.steps {
		if !s.Root {
			out = append(out, s)
		}
	}
	return out
}

// Missing returns the dependency steps that must be installed first.
func (p *Plan) Missing() []Step {
	var out []Step
	for _, s := range p.steps {
		if !s.Root && s.Action == ActionInstall {
			out = append(out, s)
		}
	}
	return out
}

// DependsOn returns the direct dependencies of a package in the plan.
func (p *Plan) DependsOn(name string) []string {
	return p.successors(name)
}

// Select drops the gated steps whose option is off in opts, together with
// anything only they depended on. Order is preserved.
func (p *Plan) Select(opts formula.OptionSet) *Plan {
	open := func(from, to string) bool {
		gate := p.gates[edgeKey{from, to}]
		return gate == "" || opts.Enabled(gate)
	}

	reachable := map[string]bool{}
	var walk func(name string)
	walk = func(name string) {
		if reachable[name] {
			return
		}
		reachable[name] = true
		for _, to := range p.successors(name) {
			if open(name, to) {
				walk(to)
			}
		}
	}
	walk(p.root)

	selected := newPlan(p.root)
	for _, s := range p.steps {
		if !reachable[s.Name] {
			continue
		}
		selected.steps = append(selected.steps, s)
		for _, to := range p.successors(s.Name) {
			if open(s.Name, to) {
				// Edges copied from a valid plan are unique and their
				// vertices are created on demand, so this cannot fail.
				_ = selected.connect(s.Name, to, "")
			}
		}
	}
	return selected
}

type resolver struct {
	source    formula.Source
	installed Installed
	opts      formula.OptionSet
	plan      *Plan
	state     map[string]visitState
	stack     []string
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	done
)

// Resolve builds the plan for f, keeping every gated dependency of the
// root as a gated step.
func Resolve(f *formula.Formula, installed Installed, source formula.Source) (*Plan, error) {
	return ResolveFor(f, installed, source, nil)
}

// ResolveFor builds the plan for f under resolved options: gated root
// dependencies whose option is off are not looked up at all, so they need
// neither a formula nor an installed keg. A nil opts behaves like Resolve.
func ResolveFor(f *formula.Formula, installed Installed, source formula.Source, opts formula.OptionSet) (*Plan, error) {
	logger := logging.GetLogger("resolver")

	if err := CheckConflicts(f, installed); err != nil {
		return nil, err
	}

	r := &resolver{
		source:    source,
		installed: installed,
		opts:      opts,
		plan:      newPlan(f.Name),
		state:     map[string]visitState{},
	}
	if err := r.visit(f, true); err != nil {
		return nil, err
	}
	r.plan.steps = append(r.plan.steps, Step{
		Name:    f.Name,
		Version: f.Version,
		Action:  ActionInstall,
		Root:    true,
	})

	logger.Debug().Str("formula", f.Name).Strs("order", r.plan.Names()).Msg("Resolved dependency plan")
	return r.plan, nil
}

// CheckConflicts fails with CONFLICTING_PACKAGE if anything f conflicts
// with is installed.
func CheckConflicts(f *formula.Formula, installed Installed) error {
	for _, c := range f.Conflicts {
		if installed.IsInstalled(c.Name) {
			return errors.ConflictingPackage(c.Name, c.Because).WithDetail("formula", f.Name)
		}
	}
	return nil
}

func (r *resolver) visit(f *formula.Formula, root bool) error {
	r.state[f.Name] = visiting
	r.stack = append(r.stack, f.Name)
	if _, err := r.plan.vertex(f.Name); err != nil {
		return err
	}

	var defaults *options.ResolvedOptionSet
	if !root {
		var err error
		if defaults, err = options.Defaults(f.Options); err != nil {
			return err
		}
	}

	for _, dep := range f.Dependencies {
		var gate formula.OptionName
		if dep.Kind.Gated() {
			if root {
				if r.opts != nil && !r.opts.Enabled(dep.Option()) {
					continue
				}
				gate = dep.Option()
			} else if !defaults.Enabled(dep.Option()) {
				continue
			}
		}

		switch r.state[dep.Name] {
		case visiting:
			return errors.CyclicDependency(r.cyclePath(dep.Name))
		case done:
			if err := r.plan.connect(f.Name, dep.Name, gate); err != nil {
				return err
			}
			continue
		}

		if err := r.add(f.Name, dep, gate); err != nil {
			return err
		}
		if err := r.plan.connect(f.Name, dep.Name, gate); err != nil {
			return err
		}
	}

	r.stack = r.stack[:len(r.stack)-1]
	r.state[f.Name] = done
	return nil
}

func (r *resolver) cyclePath(name string) []string {
	for i, n := range r.stack {
		if n == name {
			path := append([]string{}, r.stack[i:]...)
			return append(path, name)
		}
	}
	return []string{name, name}
}

// add resolves a dependency that has not been seen yet and appends its
// subtree to the plan.
func (r *resolver) add(parent string, dep formula.Dependency, gate formula.OptionName) error {
	step := Step{Name: dep.Name, Kind: dep.Kind, Gate: gate, Constraint: dep.Version}

	installedVersion, err := r.installed.Lookup(dep.Name)
	if err == nil {
		step.Installed = installedVersion
		ok, cerr := satisfies(installedVersion, dep.Version)
		if cerr != nil {
			return cerr
		}
		if ok {
			step.Action = ActionSatisfied
			r.state[dep.Name] = done
			r.plan.steps = append(r.plan.steps, step)
			return nil
		}
	}

	depFormula, ferr := r.source.Get(dep.Name)
	if ferr != nil {
		if step.Installed != "" {
			return versionConflict(parent, dep, step.Installed)
		}
		if errors.IsErrorCode(ferr, errors.ErrFormulaNotFound) {
			return errors.Newf(errors.ErrFormulaNotFound, "%s is required by %s, not installed and has no formula", dep.Name, parent).
				WithDetail("formula", dep.Name).
				WithDetail("required_by", parent)
		}
		return ferr
	}
	ok, cerr := satisfies(depFormula.Version, dep.Version)
	if cerr != nil {
		return cerr
	}
	if !ok {
		return versionConflict(parent, dep, depFormula.Version)
	}

	step.Version = depFormula.Version
	step.Action = ActionInstall
	if err := r.visit(depFormula, false); err != nil {
		return err
	}
	r.plan.steps = append(r.plan.steps, step)
	return nil
}

func satisfies(version, constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFormulaInvalid, "bad version constraint %q", constraint)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, nil
	}
	return c.Check(v), nil
}

func versionConflict(parent string, dep formula.Dependency, have string) error {
	return errors.Newf(errors.ErrVersionConflict, "%s needs %s %s, only %s is available", parent, dep.Name, dep.Version, have).
		WithDetails(map[string]interface{}{
			"formula":     dep.Name,
			"constraint":  dep.Version,
			"available":   have,
			"required_by": parent,
		})
}

// String renders the plan as "a b (satisfied) root".
func (p *Plan) String() string {
	s := ""
	for i, step := range p.steps {
		if i > 0 {
			s += " "
		}
		s += step.Name
		if step.Action == ActionSatisfied {
			s += fmt.Sprintf(" (%s)", step.Installed)
		}
	}
	return s
}
