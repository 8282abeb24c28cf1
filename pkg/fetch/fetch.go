// Package fetch downloads source archives into the download cache, checks
// their sha256 and unpacks them into the build directory.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/formula"
	"github.com/arthur-debert/formulary/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// Options configures a Fetcher.
type Options struct {
	// CacheDir receives downloaded archives.
	CacheDir string
	Client   *http.Client
	// Concurrency bounds parallel downloads. Zero means one per archive.
	Concurrency int
}

// Fetcher retrieves archives.
type Fetcher struct {
	cacheDir    string
	client      *http.Client
	concurrency int
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	f := &Fetcher{cacheDir: opts.CacheDir, client: opts.Client, concurrency: opts.Concurrency}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	return f
}

// Archive is one thing to download and where to unpack it.
type Archive struct {
	// Name prefixes the cached file.
	Name   string
	URL    string
	SHA256 string
	// Dest is the directory the archive is extracted into.
	Dest string
}

// Archives lists the formula's source and resources. The source unpacks
// into buildDir, each resource into buildDir/<resource name>.
func Archives(f *formula.Formula, buildDir string) []Archive {
	var out []Archive
	if f.URL != "" {
		out = append(out, Archive{Name: f.Name + "--" + f.Version, URL: f.URL, SHA256: f.SHA256, Dest: buildDir})
	}
	for _, r := range f.Resources {
		out = append(out, Archive{
			Name:   f.Name + "--" + r.Name,
			URL:    r.URL,
			SHA256: r.SHA256,
			Dest:   filepath.Join(buildDir, r.Name),
		})
	}
	return out
}

// FetchAll downloads and extracts archives concurrently. The first failure
// cancels the rest.
func (f *Fetcher) FetchAll(ctx context.Context, archives []Archive) error {
	g, ctx := errgroup.WithContext(ctx)
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for _, a := range archives {
		a := a
		g.Go(func() error {
			file, err := f.Download(ctx, a)
			if err != nil {
				return err
			}
			return Extract(file, a.Dest)
		})
	}
	return g.Wait()
}

// Download places the archive in the cache and returns its path. A cached
// copy is reused only when a checksum is declared and still matches.
func (f *Fetcher) Download(ctx context.Context, a Archive) (string, error) {
	logger := logging.GetLogger("fetch")

	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return "", errors.Wrapf(err, errors.ErrFileWrite, "cannot create download cache %s", f.cacheDir)
	}
	dest := filepath.Join(f.cacheDir, a.Name+"--"+archiveBase(a.URL))

	if a.SHA256 != "" {
		if sum, err := fileSHA256(dest); err == nil && sum == a.SHA256 {
			logger.Debug().Str("path", dest).Msg("Using cached download")
			return dest, nil
		}
	}

	logger.Info().Str("url", a.URL).Msg("Downloading")
	tmp, err := os.CreateTemp(f.cacheDir, ".download-*")
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrFileWrite, "cannot create temp file in %s", f.cacheDir)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	copyErr := f.copyFrom(ctx, a.URL, io.MultiWriter(tmp, h))
	closeErr := tmp.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", errors.Wrapf(closeErr, errors.ErrFileWrite, "cannot write %s", tmp.Name())
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if a.SHA256 != "" && sum != a.SHA256 {
		return "", errors.Newf(errors.ErrChecksumMismatch, "checksum mismatch for %s", a.URL).
			WithDetail("url", a.URL).
			WithDetail("expected", a.SHA256).
			WithDetail("actual", sum)
	}
	if a.SHA256 == "" {
		logger.Warn().Str("url", a.URL).Str("sha256", sum).Msg("No checksum declared")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", errors.Wrapf(err, errors.ErrFileWrite, "cannot move download to %s", dest)
	}
	return dest, nil
}

func (f *Fetcher) copyFrom(ctx context.Context, rawURL string, w io.Writer) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFetchFailed, "bad url %q", rawURL)
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFetchFailed, "bad url %q", rawURL)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFetchFailed, "cannot download %s", rawURL).WithDetail("url", rawURL)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return errors.Newf(errors.ErrFetchFailed, "cannot download %s: %s", rawURL, resp.Status).
				WithDetail("url", rawURL).
				WithDetail("status", resp.StatusCode)
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return errors.Wrapf(err, errors.ErrFetchFailed, "download of %s interrupted", rawURL).WithDetail("url", rawURL)
		}
		return nil
	case "file", "":
		p := u.Path
		if u.Scheme == "" {
			p = rawURL
		}
		in, err := os.Open(p)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFetchFailed, "cannot open %s", p).WithDetail("url", rawURL)
		}
		defer func() { _ = in.Close() }()
		if _, err := io.Copy(w, in); err != nil {
			return errors.Wrapf(err, errors.ErrFetchFailed, "cannot read %s", p)
		}
		return nil
	}
	return errors.Newf(errors.ErrFetchFailed, "unsupported url scheme %q", u.Scheme).WithDetail("url", rawURL)
}

func archiveBase(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return filepath.Base(rawURL)
}

func fileSHA256(p string) (string, error) {
	in, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, in); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256 returns the hex sha256 of a file. Used by `create` to fill in a
// new formula's checksum.
func SHA256(p string) (string, error) {
	sum, err := fileSHA256(p)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", p, err)
	}
	return sum, nil
}

func hasSuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
