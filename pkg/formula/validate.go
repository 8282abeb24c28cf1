package formula

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/arthur-debert/formulary/pkg/errors"
)

var (
	namePattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9@._+-]*$`)
	sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// ValidName reports whether s can be used as a formula or option name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// Validate checks the invariants of a loaded formula. All problems are
// collected into a single FORMULA_INVALID error, except a self-dependency
// which has its own code.
func (f *Formula) Validate() error {
	for _, dep := range f.Dependencies {
		if dep.Name == f.Name && f.Name != "" {
			return errors.Newf(errors.ErrSelfDependency, "formula %q depends on itself", f.Name).
				WithDetail("formula", f.Name)
		}
	}

	v := &validator{formula: f}
	v.header()
	v.dependencies()
	v.options()
	v.rules()
	v.phases("phases", f.Phases)
	v.phases("post_install", f.PostInstall)
	v.patches()
	v.symlinks()
	v.tests()

	if len(v.problems) == 0 {
		return nil
	}
	return errors.Newf(errors.ErrFormulaInvalid, "formula %q is invalid:\n  %s", f.Name, strings.Join(v.problems, "\n  ")).
		WithDetail("formula", f.Name).
		WithDetail("problems", v.problems)
}

type validator struct {
	formula  *Formula
	problems []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) header() {
	f := v.formula
	if f.Name == "" {
		v.addf("name is required")
	} else if !ValidName(f.Name) {
		v.addf("name %q must be lowercase letters, digits or @._+-", f.Name)
	}
	if f.Version == "" {
		v.addf("version is required and could not be derived from url")
	}
	if f.SHA256 != "" && !sha256Pattern.MatchString(f.SHA256) {
		v.addf("sha256 must be 64 hex characters")
	}
	if f.SHA256 != "" && f.URL == "" {
		v.addf("sha256 given without url")
	}

	seen := map[string]bool{}
	for i, r := range f.Resources {
		switch {
		case r.Name == "":
			v.addf("resources[%d]: name is required", i)
		case seen[r.Name]:
			v.addf("resources[%d]: duplicate resource %q", i, r.Name)
		case strings.ContainsAny(r.Name, `/\`):
			v.addf("resources[%d]: name %q must not contain path separators", i, r.Name)
		}
		seen[r.Name] = true
		if r.URL == "" {
			v.addf("resources[%d]: url is required", i)
		}
		if r.SHA256 != "" && !sha256Pattern.MatchString(r.SHA256) {
			v.addf("resources[%d]: sha256 must be 64 hex characters", i)
		}
	}
}

func (v *validator) dependencies() {
	f := v.formula
	seen := map[string]bool{}
	for i, dep := range f.Dependencies {
		if dep.Name == "" {
			v.addf("depends_on[%d]: name is required", i)
			continue
		}
		if seen[dep.Name] {
			v.addf("depends_on[%d]: duplicate dependency %q", i, dep.Name)
		}
		seen[dep.Name] = true
		if !dep.Kind.Valid() {
			v.addf("depends_on[%d] %q: unknown kind %q", i, dep.Name, dep.Kind)
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				v.addf("depends_on[%d] %q: bad version constraint %q: %v", i, dep.Name, dep.Version, err)
			}
		}
	}
	for i, c := range f.Conflicts {
		if c.Name == "" {
			v.addf("conflicts_with[%d]: name is required", i)
		} else if c.Name == f.Name {
			v.addf("conflicts_with[%d]: formula cannot conflict with itself", i)
		}
		if seen[c.Name] {
			v.addf("conflicts_with[%d]: %q is also a dependency", i, c.Name)
		}
	}
}

func (v *validator) options() {
	f := v.formula
	seen := map[OptionName]bool{}
	defaultOn := map[string][]OptionName{}
	for i, o := range f.Options {
		if !ValidName(string(o.Name)) {
			v.addf("options[%d]: invalid option name %q", i, o.Name)
		}
		if seen[o.Name] {
			v.addf("options[%d]: duplicate option %q", i, o.Name)
		}
		seen[o.Name] = true
		if o.Group != "" && o.Default {
			defaultOn[o.Group] = append(defaultOn[o.Group], o.Name)
		}
	}
	for group, names := range defaultOn {
		if len(names) > 1 {
			v.addf("group %q has more than one option on by default: %v", group, names)
		}
	}
}

func (v *validator) condition(where string, c Condition) {
	for _, name := range c.Names() {
		if _, ok := v.formula.Option(name); !ok {
			v.addf("%s: condition references undeclared option %q", where, name)
		}
	}
}

func (v *validator) envRule(where string, r EnvRule) {
	if r.Var == "" {
		v.addf("%s: var is required", where)
	}
	if !r.Mode.Valid() {
		v.addf("%s: unknown mode %q", where, r.Mode)
	}
	v.condition(where, r.When)
}

func (v *validator) rules() {
	f := v.formula
	for i, r := range f.Env {
		v.envRule(fmt.Sprintf("env[%d]", i), r)
	}
	for i, r := range f.Args {
		where := fmt.Sprintf("args[%d]", i)
		if len(r.Args) == 0 {
			v.addf("%s: values are required", where)
		}
		v.condition(where, r.When)
	}

	names := map[string]bool{}
	for i, s := range f.Selectors {
		where := fmt.Sprintf("select[%d] %q", i, s.Name)
		if s.Name == "" {
			v.addf("select[%d]: name is required", i)
		}
		if names[s.Name] {
			v.addf("%s: duplicate selector", where)
		}
		names[s.Name] = true

		fallback := false
		for j, c := range s.Candidates {
			cw := fmt.Sprintf("%s candidate[%d]", where, j)
			if c.Name == "" {
				v.addf("%s: name is required", cw)
			}
			if c.When.Empty() {
				fallback = true
			}
			v.condition(cw, c.When)
			for k, e := range c.Env {
				v.envRule(fmt.Sprintf("%s env[%d]", cw, k), e)
			}
		}
		if !fallback {
			v.addf("%s: needs an unconditional fallback candidate", where)
		}
	}
}

func (v *validator) phases(section string, phases []BuildPhase) {
	seen := map[string]bool{}
	for i, p := range phases {
		where := fmt.Sprintf("%s[%d] %q", section, i, p.Name)
		if p.Name == "" {
			v.addf("%s[%d]: name is required", section, i)
		} else if seen[p.Name] {
			v.addf("%s: duplicate phase name", where)
		}
		seen[p.Name] = true
		if len(p.Command) == 0 {
			v.addf("%s: command is required", where)
		}
		if p.Timeout < 0 {
			v.addf("%s: timeout must not be negative", where)
		}
		if escapes(p.Dir) {
			v.addf("%s: dir %q must stay inside the build directory", where, p.Dir)
		}
		v.condition(where, p.When)
	}
}

func (v *validator) patches() {
	for i, p := range v.formula.Patches {
		where := fmt.Sprintf("patches[%d]", i)
		if p.File == "" || escapes(p.File) {
			v.addf("%s: file %q must be a path inside the keg", where, p.File)
		}
		if p.Pattern == "" {
			v.addf("%s: pattern is required", where)
		} else if !p.Literal {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				v.addf("%s: bad pattern: %v", where, err)
			}
		}
		if strings.Contains(p.Replace, "\n") {
			v.addf("%s: replacement must not contain newlines", where)
		}
		v.condition(where, p.When)
	}
}

func (v *validator) symlinks() {
	for i, s := range v.formula.Symlinks {
		if s.Source == "" || escapes(s.Source) {
			v.addf("symlinks[%d]: source %q must be a path inside the keg", i, s.Source)
		} else if _, err := path.Match(s.Source, ""); err != nil {
			v.addf("symlinks[%d]: bad glob %q", i, s.Source)
		}
		if s.Target == "" || escapes(s.Target) {
			v.addf("symlinks[%d]: target %q must be a path inside the keg", i, s.Target)
		}
	}
}

func (v *validator) tests() {
	seen := map[string]bool{}
	for i, t := range v.formula.Tests {
		where := fmt.Sprintf("test[%d] %q", i, t.Name)
		if seen[t.Name] {
			v.addf("%s: duplicate assertion name", where)
		}
		seen[t.Name] = true
		if !t.Kind.Valid() {
			v.addf("%s: unknown kind %q", where, t.Kind)
			continue
		}
		if t.Kind.NeedsCommand() && len(t.Command) == 0 {
			v.addf("%s: command is required", where)
		}
		if t.Kind == AssertFileExists && t.Path == "" {
			v.addf("%s: path is required", where)
		}
		if t.Kind == AssertOutputMatches {
			if _, err := regexp.Compile(t.Expected); err != nil {
				v.addf("%s: bad expected pattern: %v", where, err)
			}
		}
	}
}

// escapes reports whether a relative path is absolute or climbs out of its
// root.
func escapes(p string) bool {
	if p == "" {
		return false
	}
	if path.IsAbs(p) {
		return true
	}
	clean := path.Clean(p)
	return clean == ".." || strings.HasPrefix(clean, "../")
}
