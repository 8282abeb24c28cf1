// Package linker exposes an installed keg: symlinks declared inside the
// keg, the stable opt/<name> link and, unless the formula is keg-only,
// links of the keg's files into the global prefix.
package linker

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/paths"
	"github.com/arthur-debert/formulary/pkg/types"
)

// Linker creates and removes links for kegs under one prefix.
type Linker struct {
	fs     types.FS
	prefix string
	optDir string
	cellar string
}

// New creates a linker. Global links go below prefix, opt links into
// optDir. Existing links into cellar belong to some keg and may be
// replaced by a newer version of the same package.
func New(filesystem types.FS, prefix, optDir, cellar string) *Linker {
	return &Linker{fs: filesystem, prefix: prefix, optDir: optDir, cellar: cellar}
}

// Keg is what the linker needs to know about an installed package.
type Keg struct {
	Name    string
	Path    string
	KegOnly bool
}

// LinkInKeg applies the formula's symlink rules inside the keg. Each rule
// source is a glob relative to the keg, its last element may contain
// wildcards. Links are relative so the keg stays relocatable.
func (l *Linker) LinkInKeg(kegPath string, rules []formula.SymlinkRule) ([]types.Link, error) {
	logger := logging.GetLogger("linker")
	var links []types.Link

	for _, rule := range rules {
		matches, err := l.glob(kegPath, rule.Source)
		if err != nil {
			return links, err
		}
		if len(matches) == 0 {
			logger.Warn().Str("source", rule.Source).Msg("Symlink rule matched nothing")
			continue
		}
		targetDir := filepath.Join(kegPath, rule.Target)
		if err := l.fs.MkdirAll(targetDir, 0755); err != nil {
			return links, errors.Wrapf(err, errors.ErrFileWrite, "cannot create %s", targetDir)
		}
		for _, src := range matches {
			rel, err := filepath.Rel(targetDir, src)
			if err != nil {
				return links, errors.Wrapf(err, errors.ErrInternal, "cannot relativise %s", src)
			}
			link := types.Link{Source: rel, Target: filepath.Join(targetDir, filepath.Base(src))}
			if err := l.place(link, ""); err != nil {
				return links, err
			}
			links = append(links, link)
		}
	}
	return links, nil
}

func (l *Linker) glob(root, pattern string) ([]string, error) {
	dir, base := path.Split(pattern)
	if strings.ContainsAny(dir, "*?[") {
		return nil, errors.Newf(errors.ErrFormulaInvalid, "symlink source %q: only the last element may contain wildcards", pattern)
	}
	abs := filepath.Join(root, filepath.FromSlash(dir))
	entries, err := l.fs.ReadDir(abs)
	if err != nil {
		return nil, nil
	}
	var out []string
	for _, e := range entries {
		ok, err := path.Match(base, e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrFormulaInvalid, "bad glob %q", pattern)
		}
		if ok {
			out = append(out, filepath.Join(abs, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Link creates the opt link and the global prefix links for a keg. All
// conflicts are detected before anything is created.
func (l *Linker) Link(keg Keg) (types.LinkLog, error) {
	logger := logging.GetLogger("linker")
	var planned []types.Link

	planned = append(planned, types.Link{Source: keg.Path, Target: filepath.Join(l.optDir, keg.Name)})

	if keg.KegOnly {
		logger.Info().Str("formula", keg.Name).Msg("Keg-only formula, not linking into prefix")
	} else {
		for _, dir := range paths.LinkedDirs {
			if err := l.collect(keg.Path, dir, &planned); err != nil {
				return types.LinkLog{}, err
			}
		}
	}

	for _, link := range planned {
		if err := l.check(link, keg.Name); err != nil {
			return types.LinkLog{}, err
		}
	}

	var log types.LinkLog
	for _, link := range planned {
		if err := l.fs.MkdirAll(filepath.Dir(link.Target), 0755); err != nil {
			return log, errors.Wrapf(err, errors.ErrFileWrite, "cannot create %s", filepath.Dir(link.Target))
		}
		if err := l.place(link, keg.Name); err != nil {
			return log, err
		}
		log.Links = append(log.Links, link)
	}
	logger.Info().Str("formula", keg.Name).Int("links", len(log.Links)).Msg("Linked keg")
	return log, nil
}

// collect walks keg/rel and plans a prefix link for every file or symlink.
func (l *Linker) collect(kegPath, rel string, planned *[]types.Link) error {
	abs := filepath.Join(kegPath, rel)
	info, err := l.fs.Lstat(abs)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		*planned = append(*planned, types.Link{Source: abs, Target: filepath.Join(l.prefix, rel)})
		return nil
	}
	entries, err := l.fs.ReadDir(abs)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "cannot read %s", abs)
	}
	for _, e := range entries {
		if err := l.collect(kegPath, filepath.Join(rel, e.Name()), planned); err != nil {
			return err
		}
	}
	return nil
}

// check fails with LINK_CONFLICT if link.Target exists and is not a link
// owned by the same package.
func (l *Linker) check(link types.Link, owner string) error {
	info, err := l.fs.Lstat(link.Target)
	if err != nil {
		return nil
	}
	if !filesystem.IsSymlink(info) {
		return linkConflict(link.Target, "")
	}
	current, err := l.fs.Readlink(link.Target)
	if err != nil {
		return linkConflict(link.Target, "")
	}
	if current == link.Source || l.ownedBy(current, owner) {
		return nil
	}
	return linkConflict(link.Target, current)
}

// place creates link, replacing an existing link owned by owner.
func (l *Linker) place(link types.Link, owner string) error {
	if info, err := l.fs.Lstat(link.Target); err == nil {
		if !filesystem.IsSymlink(info) {
			return linkConflict(link.Target, "")
		}
		current, _ := l.fs.Readlink(link.Target)
		if current == link.Source {
			return nil
		}
		if owner == "" || !l.ownedBy(current, owner) {
			return linkConflict(link.Target, current)
		}
		if err := l.fs.Remove(link.Target); err != nil {
			return errors.Wrapf(err, errors.ErrFileWrite, "cannot replace %s", link.Target)
		}
	}
	if err := l.fs.Symlink(link.Source, link.Target); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "cannot link %s", link.Target)
	}
	return nil
}

// ownedBy reports whether a link destination lies in one of name's kegs.
func (l *Linker) ownedBy(dest, name string) bool {
	if name == "" || l.cellar == "" {
		return false
	}
	return within(dest, filepath.Join(l.cellar, name))
}

// Unlink removes the recorded links that live outside the keg and still
// point into it. In-keg links go away with the keg.
func (l *Linker) Unlink(kegPath string, log types.LinkLog) error {
	logger := logging.GetLogger("linker")
	removed := 0
	for _, link := range log.Links {
		if within(link.Target, kegPath) {
			continue
		}
		current, err := l.fs.Readlink(link.Target)
		if err != nil || current != link.Source || !within(current, kegPath) {
			continue
		}
		if err := l.fs.Remove(link.Target); err != nil {
			return errors.Wrapf(err, errors.ErrFileWrite, "cannot unlink %s", link.Target)
		}
		removed++
	}
	logger.Info().Str("keg", kegPath).Int("removed", removed).Msg("Unlinked keg")
	return nil
}

func within(p, root string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func linkConflict(target, current string) error {
	e := errors.Newf(errors.ErrLinkConflict, "refusing to overwrite %s", target).WithDetail("path", target)
	if current != "" {
		e = e.WithDetail("points_to", current)
	}
	return e
}
