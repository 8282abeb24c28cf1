// Package lock serialises builds of the same keg prefix across processes.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/arthur-debert/formulary/pkg/errors"
	"github.com/arthur-debert/formulary/pkg/logging"
	"github.com/gofrs/flock"
)

const retryDelay = 100 * time.Millisecond

// Lock is a held prefix lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the exclusive lock at path, waiting up to timeout. A zero
// timeout tries once. Failure to get the lock in time returns
// PREFIX_LOCKED.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	logger := logging.GetLogger("lock")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileWrite, "cannot create lock directory for %s", path)
	}
	fl := flock.New(path)

	var locked bool
	var err error
	if timeout <= 0 {
		locked, err = fl.TryLock()
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		locked, err = fl.TryLockContext(waitCtx, retryDelay)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !locked && waitErr(err) {
		err = nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrPrefixLocked, "cannot lock %s", path).WithDetail("path", path)
	}
	if !locked {
		return nil, errors.Newf(errors.ErrPrefixLocked, "%s is locked by another build", path).
			WithDetail("path", path).
			WithDetail("waited", timeout.String())
	}

	logger.Debug().Str("path", path).Msg("Acquired prefix lock")
	return &Lock{fl: fl}, nil
}

func waitErr(err error) bool {
	return err == context.DeadlineExceeded || err == context.Canceled
}

// Release drops the lock. Calling it more than once is harmless.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "cannot unlock %s", l.fl.Path())
	}
	logger := logging.GetLogger("lock")
	logger.Debug().Str("path", l.fl.Path()).Msg("Released prefix lock")
	return nil
}

// Path is the lock file.
func (l *Lock) Path() string {
	return l.fl.Path()
}
