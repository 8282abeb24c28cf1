package fetch

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Extract unpacks a tar archive (plain, gzip, xz or bzip2 compressed)
// into dest. When every entry lives under one top-level directory that
// directory is stripped. Entries escaping dest are rejected.
func Extract(archive, dest string) error {
	strip, err := commonRoot(archive)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "cannot create %s", dest)
	}

	return walk(archive, func(hdr *tar.Header, r io.Reader) error {
		name := cleanName(hdr.Name)
		if strip != "" {
			name = strings.TrimPrefix(strings.TrimPrefix(name, strip), "/")
		}
		if name == "" || name == "." {
			return nil
		}
		target, err := inside(dest, name)
		if err != nil {
			return err
		}

		mode := hdr.FileInfo().Mode().Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, mode|0700)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, r); err != nil {
				_ = out.Close()
				return err
			}
			return out.Close()
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return escapeError(archive, hdr.Name)
			}
			if _, err := inside(dest, filepath.Join(filepath.Dir(name), hdr.Linkname)); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(hdr.Linkname, target)
		case tar.TypeLink:
			linkName := cleanName(hdr.Linkname)
			if strip != "" {
				linkName = strings.TrimPrefix(strings.TrimPrefix(linkName, strip), "/")
			}
			src, err := inside(dest, linkName)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Link(src, target)
		}
		return nil
	})
}

func walk(archive string, fn func(*tar.Header, io.Reader) error) error {
	in, err := os.Open(archive)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFetchFailed, "cannot open %s", archive)
	}
	defer func() { _ = in.Close() }()

	r, err := decompress(archive, in)
	if err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, errors.ErrFetchFailed, "corrupt archive %s", archive)
		}
		if err := fn(hdr, tr); err != nil {
			if _, ok := err.(*errors.FormularyError); ok {
				return err
			}
			return errors.Wrapf(err, errors.ErrFileWrite, "cannot extract %s from %s", hdr.Name, archive)
		}
	}
}

func decompress(archive string, in io.Reader) (io.Reader, error) {
	name := strings.ToLower(archive)
	switch {
	case hasSuffix(name, ".tar.gz", ".tgz"):
		zr, err := gzip.NewReader(in)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrFetchFailed, "corrupt gzip archive %s", archive)
		}
		return zr, nil
	case hasSuffix(name, ".tar.xz", ".txz"):
		xr, err := xz.NewReader(in)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrFetchFailed, "corrupt xz archive %s", archive)
		}
		return xr, nil
	case hasSuffix(name, ".tar.bz2", ".tbz2", ".tbz"):
		return bzip2.NewReader(in), nil
	case hasSuffix(name, ".tar"):
		return in, nil
	}
	return nil, errors.Newf(errors.ErrFetchFailed, "unsupported archive format %s", filepath.Base(archive)).
		WithDetail("path", archive)
}

// commonRoot returns the single top-level directory shared by all entries,
// or "" when there is none.
func commonRoot(archive string) (string, error) {
	root := ""
	shared := true
	err := walk(archive, func(hdr *tar.Header, _ io.Reader) error {
		name := cleanName(hdr.Name)
		if name == "" || name == "." || !shared {
			return nil
		}
		first, _, nested := strings.Cut(name, "/")
		if first == ".." || (!nested && hdr.Typeflag != tar.TypeDir) {
			shared = false
			return nil
		}
		if root == "" {
			root = first
		} else if root != first {
			shared = false
		}
		return nil
	})
	if err != nil || !shared {
		return "", err
	}
	return root, nil
}

func cleanName(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	return strings.TrimSuffix(name, "/")
}

func inside(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", escapeError(dest, name)
	}
	return target, nil
}

func escapeError(archive, name string) error {
	return errors.Newf(errors.ErrFetchFailed, "archive entry %q escapes the extraction directory", name).
		WithDetail("path", archive)
}
