package lockfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	logx "homecron/pkg/logx"
)

// ErrLocked reports that another instance already holds the lock file.
// A stale file from a crashed daemon triggers it too; removing the file
// is the operator's call.
var ErrLocked = errors.New("lock file exists")

// Lock is a held exclusive-create lock file. One lock per schedule file
// keeps a second daemon from double-running the same user's jobs.
type Lock struct {
	path string
	f    *os.File
	log  logx.Logger
}

// Acquire creates path with O_EXCL. An existing file means another
// instance already holds it; the returned error wraps ErrLocked so
// callers can tell that case apart from filesystem trouble.
func Acquire(path string, log logx.Logger) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_TRUNC, 0o200)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("already running: %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("create lock file %s: %w", path, err)
	}
	if !log.IsZero() {
		log.Debug("lock acquired", logx.String("path", path))
	}
	return &Lock{path: path, f: f, log: log}, nil
}

func (l *Lock) Path() string { return l.path }

// Release closes and removes the lock file. A close failure is
// returned; a failed remove only leaves a stale file behind for the
// operator, so it is logged and swallowed.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	closeErr := l.f.Close()
	l.f = nil
	if err := os.Remove(l.path); err != nil && !l.log.IsZero() {
		l.log.Error("failed to remove lock file", logx.String("path", l.path), logx.Err(err))
	}
	if closeErr != nil {
		return fmt.Errorf("close lock file %s: %w", l.path, closeErr)
	}
	return nil
}
