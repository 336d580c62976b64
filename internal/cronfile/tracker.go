package cronfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Tracker detects schedule file changes by modification time.
//
// The stored mtime is the exact value from the last successful stat,
// compared at full precision. A missing file is the zero time, distinct
// from any real mtime, so create and remove both count as changes.
type Tracker struct {
	path  string
	mtime time.Time
}

func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

func (tr *Tracker) Path() string { return tr.path }

// Changed reports whether the file's mtime differs from the last
// observation and updates the stored value when it does. A stat failure
// other than not-exist is returned as an error and treated as unchanged;
// the stored value is left alone so the next poll compares against the
// same baseline.
func (tr *Tracker) Changed() (bool, error) {
	fi, err := os.Stat(tr.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if !tr.mtime.IsZero() {
				tr.mtime = time.Time{}
				return true, nil
			}
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", tr.path, err)
	}
	if mt := fi.ModTime(); !mt.Equal(tr.mtime) {
		tr.mtime = mt
		return true, nil
	}
	return false, nil
}
