package formula

import (
	"bytes"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/kballard/go-shellquote"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the on-disk syntax of a formula declaration.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(p string) (Format, bool) {
	switch strings.ToLower(path.Ext(p)) {
	case ".toml":
		return FormatTOML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

type conditionDecl struct {
	With    []string `toml:"with" yaml:"with"`
	Without []string `toml:"without" yaml:"without"`
}

type envDecl struct {
	Var     string   `toml:"var" yaml:"var"`
	Value   string   `toml:"value" yaml:"value"`
	Mode    string   `toml:"mode" yaml:"mode"`
	With    []string `toml:"with" yaml:"with"`
	Without []string `toml:"without" yaml:"without"`
}

type argDecl struct {
	Values  []string `toml:"values" yaml:"values"`
	With    []string `toml:"with" yaml:"with"`
	Without []string `toml:"without" yaml:"without"`
}

type candidateDecl struct {
	Name     string    `toml:"name" yaml:"name"`
	Priority int       `toml:"priority" yaml:"priority"`
	With     []string  `toml:"with" yaml:"with"`
	Without  []string  `toml:"without" yaml:"without"`
	Args     []string  `toml:"args" yaml:"args"`
	Env      []envDecl `toml:"env" yaml:"env"`
}

type selectorDecl struct {
	Name       string          `toml:"name" yaml:"name"`
	Candidates []candidateDecl `toml:"candidates" yaml:"candidates"`
}

type phaseDecl struct {
	Name     string   `toml:"name" yaml:"name"`
	Command  []string `toml:"command" yaml:"command"`
	Run      string   `toml:"run" yaml:"run"`
	Dir      string   `toml:"dir" yaml:"dir"`
	Parallel *bool    `toml:"parallel" yaml:"parallel"`
	Timeout  string   `toml:"timeout" yaml:"timeout"`
	With     []string `toml:"with" yaml:"with"`
	Without  []string `toml:"without" yaml:"without"`
}

type patchDecl struct {
	File    string   `toml:"file" yaml:"file"`
	Pattern string   `toml:"pattern" yaml:"pattern"`
	Replace string   `toml:"replace" yaml:"replace"`
	Literal bool     `toml:"literal" yaml:"literal"`
	With    []string `toml:"with" yaml:"with"`
	Without []string `toml:"without" yaml:"without"`
}

type testDecl struct {
	Name     string   `toml:"name" yaml:"name"`
	Kind     string   `toml:"kind" yaml:"kind"`
	Command  []string `toml:"command" yaml:"command"`
	Run      string   `toml:"run" yaml:"run"`
	Expected string   `toml:"expected" yaml:"expected"`
	Path     string   `toml:"path" yaml:"path"`
}

type declaration struct {
	Name     string `toml:"name" yaml:"name"`
	Desc     string `toml:"desc" yaml:"desc"`
	Homepage string `toml:"homepage" yaml:"homepage"`
	License  string `toml:"license" yaml:"license"`
	Version  string `toml:"version" yaml:"version"`
	URL      string `toml:"url" yaml:"url"`
	SHA256   string `toml:"sha256" yaml:"sha256"`
	KegOnly  bool   `toml:"keg_only" yaml:"keg_only"`
	Caveats  string `toml:"caveats" yaml:"caveats"`

	Resources []struct {
		Name   string `toml:"name" yaml:"name"`
		URL    string `toml:"url" yaml:"url"`
		SHA256 string `toml:"sha256" yaml:"sha256"`
	} `toml:"resources" yaml:"resources"`

	DependsOn []struct {
		Name    string `toml:"name" yaml:"name"`
		Kind    string `toml:"kind" yaml:"kind"`
		Version string `toml:"version" yaml:"version"`
	} `toml:"depends_on" yaml:"depends_on"`

	ConflictsWith []struct {
		Name    string `toml:"name" yaml:"name"`
		Because string `toml:"because" yaml:"because"`
	} `toml:"conflicts_with" yaml:"conflicts_with"`

	Options []struct {
		Name        string `toml:"name" yaml:"name"`
		Description string `toml:"description" yaml:"description"`
		Default     *bool  `toml:"default" yaml:"default"`
		Group       string `toml:"group" yaml:"group"`
	} `toml:"options" yaml:"options"`

	Env         []envDecl      `toml:"env" yaml:"env"`
	Args        []argDecl      `toml:"args" yaml:"args"`
	Select      []selectorDecl `toml:"select" yaml:"select"`
	Phases      []phaseDecl    `toml:"phases" yaml:"phases"`
	PostInstall []phaseDecl    `toml:"post_install" yaml:"post_install"`
	Patches     []patchDecl    `toml:"patches" yaml:"patches"`
	Symlinks    []struct {
		Source string `toml:"source" yaml:"source"`
		Target string `toml:"target" yaml:"target"`
	} `toml:"symlinks" yaml:"symlinks"`
	Tests []testDecl `toml:"test" yaml:"test"`
}

// Parse decodes and validates a formula declaration. Unknown keys are
// rejected so that typos surface at load time.
func Parse(data []byte, format Format) (*Formula, error) {
	var decl declaration
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&decl); err != nil {
			return nil, errors.Wrap(err, errors.ErrFormulaParse, "failed to parse TOML formula")
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&decl); err != nil {
			return nil, errors.Wrap(err, errors.ErrFormulaParse, "failed to parse YAML formula")
		}
	default:
		return nil, errors.Newf(errors.ErrFormulaParse, "unsupported formula format %q", format)
	}

	f, err := decl.build()
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func condition(with, without []string) Condition {
	var c Condition
	for _, w := range with {
		c.With = append(c.With, OptionName(w))
	}
	for _, w := range without {
		c.Without = append(c.Without, OptionName(w))
	}
	return c
}

func (e envDecl) rule() EnvRule {
	mode := EnvMode(e.Mode)
	if mode == "" {
		mode = EnvAppend
	}
	return EnvRule{Var: e.Var, Value: e.Value, Mode: mode, When: condition(e.With, e.Without)}
}

func (p phaseDecl) phase(section string, idx int) (BuildPhase, error) {
	phase := BuildPhase{
		Name:        p.Name,
		Command:     p.Command,
		Dir:         p.Dir,
		Parallelism: Parallel,
		When:        condition(p.With, p.Without),
	}
	if p.Parallel != nil && !*p.Parallel {
		phase.Parallelism = Serial
	}
	if p.Run != "" {
		if len(p.Command) > 0 {
			return phase, errors.Newf(errors.ErrFormulaInvalid, "%s[%d] %q: set either command or run", section, idx, p.Name)
		}
		argv, err := shellquote.Split(p.Run)
		if err != nil {
			return phase, errors.Wrapf(err, errors.ErrFormulaInvalid, "%s[%d] %q: bad run string", section, idx, p.Name)
		}
		phase.Command = argv
	}
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return phase, errors.Wrapf(err, errors.ErrFormulaInvalid, "%s[%d] %q: bad timeout", section, idx, p.Name)
		}
		phase.Timeout = d
	}
	return phase, nil
}

func (d *declaration) build() (*Formula, error) {
	f := &Formula{
		Name:        d.Name,
		Description: d.Desc,
		Homepage:    d.Homepage,
		License:     d.License,
		Version:     d.Version,
		URL:         d.URL,
		SHA256:      strings.ToLower(d.SHA256),
		KegOnly:     d.KegOnly,
		Caveats:     d.Caveats,
	}
	if f.Version == "" {
		f.Version = VersionFromURL(f.URL)
	}

	for _, r := range d.Resources {
		f.Resources = append(f.Resources, Resource{Name: r.Name, URL: r.URL, SHA256: strings.ToLower(r.SHA256)})
	}

	for _, dep := range d.DependsOn {
		kind := DependencyKind(dep.Kind)
		if kind == "" {
			kind = KindRequired
		}
		f.Dependencies = append(f.Dependencies, Dependency{Name: dep.Name, Kind: kind, Version: dep.Version})
	}

	for _, c := range d.ConflictsWith {
		f.Conflicts = append(f.Conflicts, Conflict{Name: c.Name, Because: c.Because})
	}

	for i, o := range d.Options {
		if o.Default == nil {
			return nil, errors.Newf(errors.ErrFormulaInvalid, "option[%d] %q must declare its default", i, o.Name)
		}
		f.Options = append(f.Options, Option{
			Name:        OptionName(o.Name),
			Description: o.Description,
			Default:     *o.Default,
			Group:       o.Group,
		})
	}
	f.addImplicitOptions()

	for _, e := range d.Env {
		f.Env = append(f.Env, e.rule())
	}
	for _, a := range d.Args {
		f.Args = append(f.Args, ArgRule{Args: a.Values, When: condition(a.With, a.Without)})
	}
	for _, s := range d.Select {
		sel := Selector{Name: s.Name}
		for _, c := range s.Candidates {
			cand := Candidate{
				Name:     c.Name,
				Priority: c.Priority,
				When:     condition(c.With, c.Without),
				Args:     c.Args,
			}
			for _, e := range c.Env {
				cand.Env = append(cand.Env, e.rule())
			}
			sel.Candidates = append(sel.Candidates, cand)
		}
		f.Selectors = append(f.Selectors, sel)
	}

	for i, p := range d.Phases {
		phase, err := p.phase("phases", i)
		if err != nil {
			return nil, err
		}
		f.Phases = append(f.Phases, phase)
	}
	for i, p := range d.PostInstall {
		phase, err := p.phase("post_install", i)
		if err != nil {
			return nil, err
		}
		f.PostInstall = append(f.PostInstall, phase)
	}

	for _, p := range d.Patches {
		f.Patches = append(f.Patches, PatchRule{
			File:    p.File,
			Pattern: p.Pattern,
			Replace: p.Replace,
			Literal: p.Literal,
			When:    condition(p.With, p.Without),
		})
	}
	for _, s := range d.Symlinks {
		f.Symlinks = append(f.Symlinks, SymlinkRule{Source: s.Source, Target: s.Target})
	}

	for i, t := range d.Tests {
		a := TestAssertion{
			Name:     t.Name,
			Kind:     AssertionKind(t.Kind),
			Command:  t.Command,
			Expected: t.Expected,
			Path:     t.Path,
		}
		if t.Run != "" {
			argv, err := shellquote.Split(t.Run)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrFormulaInvalid, "test[%d]: bad run string", i)
			}
			a.Command = argv
		}
		if a.Name == "" {
			a.Name = string(a.Kind) + "-" + itoa(i+1)
		}
		f.Tests = append(f.Tests, a)
	}

	return f, nil
}

// addImplicitOptions declares an option for every optional or recommended
// dependency the formula did not declare one for explicitly.
func (f *Formula) addImplicitOptions() {
	for _, dep := range f.Dependencies {
		if !dep.Kind.Gated() {
			continue
		}
		if _, ok := f.Option(dep.Option()); ok {
			continue
		}
		f.Options = append(f.Options, Option{
			Name:        dep.Option(),
			Description: "Build with " + dep.Name + " support",
			Default:     dep.Kind == KindRecommended,
			Implicit:    true,
		})
	}
}

var versionPattern = regexp.MustCompile(`[-_]v?(\d+(?:\.\d+)+[a-z]?)(?:\.tar\.(?:gz|xz|bz2)|\.tgz|\.zip)$`)

// VersionFromURL extracts a version like "4.4.1" from an archive URL such
// as https://cran.r-project.org/src/base/R-4/R-4.4.1.tar.gz.
func VersionFromURL(url string) string {
	m := versionPattern.FindStringSubmatch(path.Base(url))
	if m == nil {
		return ""
	}
	return m[1]
}

func itoa(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	return itoa(i/10) + digits[i%10:i%10+1]
}
