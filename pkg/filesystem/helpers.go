package filesystem

import (
	"io/fs"
	"path/filepath"

	"github.com/arthur-debert/formulary/pkg/types"
	"github.com/google/uuid"
)

// Exists reports whether anything, including a dangling symlink, is at p.
func Exists(fsys types.FS, p string) bool {
	_, err := fsys.Lstat(p)
	return err == nil
}

// IsSymlink reports whether info describes a symbolic link.
func IsSymlink(info fs.FileInfo) bool {
	return info.Mode()&fs.ModeSymlink != 0
}

// WriteFileAtomic writes data to a sibling temp file and renames it over
// p. Readers never see a partial file. Missing parent directories are
// created.
func WriteFileAtomic(fsys types.FS, p string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(p)
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(p)+"."+uuid.NewString()[:8])
	if err := fsys.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := fsys.Rename(tmp, p); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return nil
}
