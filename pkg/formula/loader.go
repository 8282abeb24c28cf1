package formula

import (
	"embed"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/registry"
	"github.com/arthur-debert/formulary/pkg/types"
)

//go:embed builtin/*.toml
var builtinFS embed.FS

// BuiltinSource is the Path prefix of formulas loaded from the embedded tap.
const BuiltinSource = "builtin:"

var extensions = []string{".toml", ".yaml", ".yml"}

// Source can look up formulas by name.
type Source interface {
	Get(name string) (*Formula, error)
	Has(name string) bool
}

// Loader finds, parses and caches formulas. Directories are searched in
// order and the embedded tap last; the first match wins.
type Loader struct {
	fs      types.FS
	dirs    []string
	builtin fs.FS
	cache   *registry.Registry[*Formula]
}

// NewLoader creates a loader over the given formula directories.
func NewLoader(filesystem types.FS, dirs ...string) *Loader {
	l := &Loader{
		fs:      filesystem,
		dirs:    dirs,
		builtin: builtinFS,
	}
	l.cache = registry.New[*Formula](l.load)
	return l
}

// WithoutBuiltin disables the embedded tap. Used by tests that need full
// control over which formulas exist.
func (l *Loader) WithoutBuiltin() *Loader {
	l.builtin = nil
	return l
}

// Add registers an already parsed formula, shadowing anything on disk.
func (l *Loader) Add(f *Formula) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if l.cache.Cached(f.Name) {
		return errors.Newf(errors.ErrAlreadyExists, "formula %q is already loaded", f.Name).WithDetail("formula", f.Name)
	}
	return l.cache.Register(f.Name, f)
}

// Get returns the formula called name.
func (l *Loader) Get(name string) (*Formula, error) {
	return l.cache.Get(name)
}

// Has reports whether a formula called name can be loaded.
func (l *Loader) Has(name string) bool {
	_, err := l.Get(name)
	return err == nil
}

func (l *Loader) load(name string) (*Formula, error) {
	logger := logging.GetLogger("formula.loader")
	if !ValidName(name) {
		return nil, errors.Newf(errors.ErrFormulaNotFound, "no formula named %q", name).WithDetail("formula", name)
	}

	for _, dir := range l.dirs {
		for _, ext := range extensions {
			p := filepath.Join(dir, name+ext)
			data, err := l.fs.ReadFile(p)
			if err != nil {
				continue
			}
			logger.Debug().Str("formula", name).Str("path", p).Msg("Loading formula")
			f, err := parseNamed(data, p, name)
			if err != nil {
				return nil, err
			}
			return f, nil
		}
	}

	if l.builtin != nil {
		for _, ext := range extensions {
			p := path.Join("builtin", name+ext)
			data, err := fs.ReadFile(l.builtin, p)
			if err != nil {
				continue
			}
			logger.Debug().Str("formula", name).Str("path", p).Msg("Loading builtin formula")
			return parseNamed(data, BuiltinSource+name+ext, name)
		}
	}

	return nil, errors.Newf(errors.ErrFormulaNotFound, "no formula named %q", name).
		WithDetail("formula", name).
		WithDetail("search_path", l.dirs)
}

func parseNamed(data []byte, source, name string) (*Formula, error) {
	format, ok := FormatFromPath(source)
	if !ok {
		return nil, errors.Newf(errors.ErrFormulaParse, "unknown formula format for %s", source)
	}
	f, err := Parse(data, format)
	if err != nil {
		if fe, ok := err.(*errors.FormularyError); ok {
			return nil, fe.WithDetail("path", source)
		}
		return nil, err
	}
	if f.Name != name {
		return nil, errors.Newf(errors.ErrFormulaInvalid, "%s declares name %q, expected %q", source, f.Name, name).
			WithDetail("path", source)
	}
	f.Path = source
	return f, nil
}

// ParseFile reads and parses a formula file.
func ParseFile(filesystem types.FS, p string) (*Formula, error) {
	format, ok := FormatFromPath(p)
	if !ok {
		return nil, errors.Newf(errors.ErrFormulaParse, "unknown formula format for %s", p)
	}
	data, err := filesystem.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFormulaNotFound, "cannot read %s", p)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	f.Path = p
	return f, nil
}

// Names lists every formula the loader can find, sorted.
func (l *Loader) Names() []string {
	set := map[string]bool{}
	for _, name := range l.cache.Names() {
		set[name] = true
	}
	for _, dir := range l.dirs {
		entries, err := l.fs.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if name, ok := formulaName(e.Name()); ok && !e.IsDir() {
				set[name] = true
			}
		}
	}
	if l.builtin != nil {
		if entries, err := fs.ReadDir(l.builtin, "builtin"); err == nil {
			for _, e := range entries {
				if name, ok := formulaName(e.Name()); ok {
					set[name] = true
				}
			}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formulaName(file string) (string, bool) {
	for _, ext := range extensions {
		if strings.HasSuffix(file, ext) {
			name := strings.TrimSuffix(file, ext)
			return name, ValidName(name)
		}
	}
	return "", false
}
