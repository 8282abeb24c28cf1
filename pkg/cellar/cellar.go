// Package cellar answers which packages are installed, and at which
// versions, by reading the receipts kegs carry under the cellar directory:
//
//	<cellar>/<name>/<version>/INSTALL_RECEIPT.json
//
// A keg without a receipt is an interrupted build and does not count as
// installed. Queries are safe for concurrent use.
package cellar

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/filesystem"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/arthur-debert/formulary/pkg/paths"
	"github.com/arthur-debert/formulary/pkg/types"
)

// Keg is one installed version of a package.
type Keg struct {
	Name    string
	Version string
	Path    string
}

// Cellar is the installed-package database.
type Cellar struct {
	fs   types.FS
	root string

	mu    sync.RWMutex
	cache map[string][]string
}

// New creates a cellar rooted at dir.
func New(filesystem types.FS, dir string) *Cellar {
	return &Cellar{fs: filesystem, root: dir}
}

// Root returns the cellar directory.
func (c *Cellar) Root() string { return c.root }

// KegPath returns where a version of a package is (or would be) installed.
func (c *Cellar) KegPath(name, version string) string {
	return filepath.Join(c.root, name, version)
}

// Lookup returns the newest installed version of name, or a NOT_FOUND error.
func (c *Cellar) Lookup(name string) (string, error) {
	versions := c.Versions(name)
	if len(versions) == 0 {
		return "", errors.Newf(errors.ErrNotFound, "%s is not installed", name).WithDetail("package", name)
	}
	return versions[len(versions)-1], nil
}

// IsInstalled reports whether any version of name is installed.
func (c *Cellar) IsInstalled(name string) bool {
	return len(c.Versions(name)) > 0
}

// Keg returns the newest installed keg of name.
func (c *Cellar) Keg(name string) (Keg, error) {
	version, err := c.Lookup(name)
	if err != nil {
		return Keg{}, err
	}
	return Keg{Name: name, Version: version, Path: c.KegPath(name, version)}, nil
}

// Versions returns the installed versions of name, oldest first.
func (c *Cellar) Versions(name string) []string {
	versions := c.snapshot()[name]
	out := make([]string, len(versions))
	copy(out, versions)
	return out
}

// List returns the newest keg of every installed package, sorted by name.
func (c *Cellar) List() []Keg {
	cache := c.snapshot()

	names := make([]string, 0, len(cache))
	for name := range cache {
		names = append(names, name)
	}
	sort.Strings(names)

	kegs := make([]Keg, 0, len(names))
	for _, name := range names {
		versions := cache[name]
		v := versions[len(versions)-1]
		kegs = append(kegs, Keg{Name: name, Version: v, Path: c.KegPath(name, v)})
	}
	return kegs
}

// Refresh drops the cached view so the next query rescans the cellar.
func (c *Cellar) Refresh() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// snapshot returns the current view, scanning the cellar if needed. The
// returned map is never modified.
func (c *Cellar) snapshot() map[string][]string {
	c.mu.RLock()
	cache := c.cache
	c.mu.RUnlock()
	if cache != nil {
		return cache
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = c.scan()
	}
	return c.cache
}

func (c *Cellar) scan() map[string][]string {
	logger := logging.GetLogger("cellar")
	cache := map[string][]string{}

	entries, err := c.fs.ReadDir(c.root)
	if err != nil {
		logger.Debug().Err(err).Str("cellar", c.root).Msg("Cellar not readable, treating as empty")
		return cache
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		kegs, err := c.fs.ReadDir(filepath.Join(c.root, name))
		if err != nil {
			continue
		}
		var versions []string
		for _, keg := range kegs {
			if !keg.IsDir() {
				continue
			}
			receipt := filepath.Join(c.root, name, keg.Name(), paths.ReceiptFileName)
			if !filesystem.Exists(c.fs, receipt) {
				logger.Debug().Str("keg", filepath.Join(name, keg.Name())).Msg("Skipping keg without receipt")
				continue
			}
			versions = append(versions, keg.Name())
		}
		if len(versions) > 0 {
			sortVersions(versions)
			cache[name] = versions
		}
	}
	return cache
}

// sortVersions orders versions oldest first. Semantic versions compare
// numerically; anything unparsable sorts before them, lexically.
func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return lessVersion(versions[i], versions[j])
	})
}

func lessVersion(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		if va.Equal(vb) {
			return a < b
		}
		return va.LessThan(vb)
	case errA != nil && errB != nil:
		return a < b
	default:
		return errA != nil
	}
}

// WriteReceipt persists the record as the receipt of the keg at rec.Root.
// Writing the receipt is what marks a keg installed.
func (c *Cellar) WriteReceipt(rec *types.InstallationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to encode receipt")
	}
	data = append(data, '\n')

	target := filepath.Join(rec.Root, paths.ReceiptFileName)
	if err := filesystem.WriteFileAtomic(c.fs, target, data, 0644); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to write receipt %s", target)
	}

	c.Refresh()
	return nil
}

// ReadReceipt loads the receipt of an installed keg.
func (c *Cellar) ReadReceipt(name, version string) (*types.InstallationRecord, error) {
	p := filepath.Join(c.KegPath(name, version), paths.ReceiptFileName)
	data, err := c.fs.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrNotFound, "%s %s has no receipt", name, version).
			WithDetail("package", name)
	}
	var rec types.InstallationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "corrupt receipt %s", p)
	}
	return &rec, nil
}

// Remove deletes one keg, and the package directory once it is empty.
func (c *Cellar) Remove(name, version string) error {
	defer c.Refresh()

	if err := c.fs.RemoveAll(c.KegPath(name, version)); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to remove %s %s", name, version)
	}
	dir := filepath.Join(c.root, name)
	if entries, err := c.fs.ReadDir(dir); err == nil && len(entries) == 0 {
		_ = c.fs.Remove(dir)
	}
	return nil
}
