package filesystem

import (
	"io/fs"
	"os"

	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/spf13/afero"
)

// aferoFS adapts an afero.Fs to types.FS. Symlinks go through afero's
// optional Linker, LinkReader and Lstater interfaces, which OsFs has and
// MemMapFs lacks.
type aferoFS struct {
	base afero.Fs
}

// NewOS returns the real filesystem.
func NewOS() types.FS {
	return &aferoFS{base: afero.NewOsFs()}
}

// NewMemory returns an empty in-memory filesystem.
func NewMemory() types.FS {
	return &aferoFS{base: afero.NewMemMapFs()}
}

// NewAferoFS wraps any afero filesystem, e.g. a BasePathFs jail.
func NewAferoFS(base afero.Fs) types.FS {
	return &aferoFS{base: base}
}

func (a *aferoFS) Stat(name string) (fs.FileInfo, error) { return a.base.Stat(name) }

func (a *aferoFS) ReadFile(name string) ([]byte, error) {
	info, err := a.base.Stat(name)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrInvalid}
	}
	return afero.ReadFile(a.base, name)
}

func (a *aferoFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return afero.WriteFile(a.base, name, data, perm)
}

func (a *aferoFS) Rename(oldpath, newpath string) error { return a.base.Rename(oldpath, newpath) }

func (a *aferoFS) MkdirAll(path string, perm fs.FileMode) error { return a.base.MkdirAll(path, perm) }

// ReadDir returns entries sorted by name.
func (a *aferoFS) ReadDir(name string) ([]fs.DirEntry, error) {
	infos, err := afero.ReadDir(a.base, name)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

func (a *aferoFS) Symlink(oldname, newname string) error {
	if l, ok := a.base.(afero.Linker); ok {
		return l.SymlinkIfPossible(oldname, newname)
	}
	// No native links: keep the target as content.
	return afero.WriteFile(a.base, newname, []byte(oldname), 0777|os.ModeSymlink)
}

func (a *aferoFS) Readlink(name string) (string, error) {
	if r, ok := a.base.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(name)
	}
	target, err := afero.ReadFile(a.base, name)
	if err != nil {
		return "", err
	}
	return string(target), nil
}

func (a *aferoFS) Remove(name string) error { return a.base.Remove(name) }

func (a *aferoFS) RemoveAll(path string) error { return a.base.RemoveAll(path) }

func (a *aferoFS) Lstat(name string) (fs.FileInfo, error) {
	if l, ok := a.base.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return a.base.Stat(name)
}
