package types

import (
	"io/fs"
)

// FS is the filesystem the cellar, linker, patcher and formula loader work
// through. Paths are absolute host paths.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	Lstat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	ReadFile(name string) ([]byte, error)

	WriteFile(name string, data []byte, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
	RemoveAll(path string) error

	// Symlink creates newname pointing at oldname.
	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)
}
