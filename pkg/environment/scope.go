package environment

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/arthur-debert/formulary/pkg/errors"
)

// placeholderPattern matches ${name}. Names must start with a letter or
// underscore, so regexp group references such as ${0} pass through.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.+@-]*)\}`)

// Scope holds the values ${name} placeholders expand to.
type Scope map[string]string

// Layout describes where a build happens and where it installs to.
type Layout struct {
	Name         string
	Version      string
	Prefix       string
	OptPrefix    string
	GlobalPrefix string
	BuildPath    string
	Jobs         int
}

// DependencyPath locates one resolved dependency.
type DependencyPath struct {
	Name      string
	Prefix    string
	OptPrefix string
	KegOnly   bool
}

// NewScope returns the placeholders available to a formula.
func NewScope(layout Layout, deps []DependencyPath) Scope {
	s := Scope{
		"name":          layout.Name,
		"version":       layout.Version,
		"prefix":        layout.Prefix,
		"opt_prefix":    layout.OptPrefix,
		"global_prefix": layout.GlobalPrefix,
		"buildpath":     layout.BuildPath,
		"jobs":          strconv.Itoa(layout.Jobs),
	}
	for _, dir := range []string{"bin", "sbin", "lib", "include", "share", "etc", "libexec"} {
		s[dir] = filepath.Join(layout.Prefix, dir)
	}
	for _, dep := range deps {
		s[dep.Name+".prefix"] = dep.Prefix
		s[dep.Name+".opt_prefix"] = dep.OptPrefix
		for _, dir := range []string{"bin", "lib", "include", "share"} {
			s[dep.Name+"."+dir] = filepath.Join(dep.OptPrefix, dir)
		}
	}
	return s
}

// With returns a copy of the scope with extra values.
func (s Scope) With(kv ...string) Scope {
	out := make(Scope, len(s)+len(kv)/2)
	for k, v := range s {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// Names returns the defined placeholders, sorted.
func (s Scope) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Expand replaces every ${name} in text. An undefined name fails with
// UNRESOLVED_VARIABLE.
func (s Scope) Expand(text string) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := s[name]; ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return m
	})
	if missing != "" {
		return "", errors.Newf(errors.ErrUnresolvedVariable, "unknown placeholder ${%s} in %q", missing, text).
			WithDetail("placeholder", missing)
	}
	return out, nil
}

// ExpandAll expands each element of list.
func (s Scope) ExpandAll(list []string) ([]string, error) {
	out := make([]string, len(list))
	for i, item := range list {
		v, err := s.Expand(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ExpandPattern expands text for use inside a regular expression: the
// substituted values are quoted so paths match literally.
func (s Scope) ExpandPattern(text string) (string, error) {
	quoted := make(Scope, len(s))
	for k, v := range s {
		quoted[k] = regexp.QuoteMeta(v)
	}
	return quoted.Expand(text)
}

// ExpandReplacement expands text for use as a regexp replacement template:
// a literal $ in a substituted value is doubled so it is not read as a
// group reference.
func (s Scope) ExpandReplacement(text string) (string, error) {
	escaped := make(Scope, len(s))
	for k, v := range s {
		escaped[k] = strings.ReplaceAll(v, "$", "$$")
	}
	return escaped.Expand(text)
}
