package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	logx "homecron/pkg/logx"
)

func TestAcquireExclusive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".crontab.lock")

	l1, err := Acquire(path, logx.Nop())
	if err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing after Acquire: %v", err)
	}

	if _, err := Acquire(path, logx.Nop()); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() = %v, want ErrLocked", err)
	}

	if err := l1.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("lock file still present after Release: %v", err)
	}

	// Once released the path is free again.
	l2, err := Acquire(path, logx.Nop())
	if err != nil {
		t.Fatalf("reacquire error: %v", err)
	}
	if err := l2.Release(); err != nil {
		t.Fatalf("final Release() error: %v", err)
	}
}

func TestAcquireBadDirectory(t *testing.T) {
	t.Parallel()

	_, err := Acquire(filepath.Join(t.TempDir(), "missing", "x.lock"), logx.Nop())
	if err == nil {
		t.Fatalf("Acquire() in missing directory succeeded")
	}
	if errors.Is(err, ErrLocked) {
		t.Fatalf("Acquire() = %v, want a non-contention failure", err)
	}
}

func TestReleaseNil(t *testing.T) {
	t.Parallel()

	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("nil Release() error: %v", err)
	}
}
