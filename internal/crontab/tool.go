package crontab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"

	"homecron/internal/cronfile"
	logx "homecron/pkg/logx"
)

// Tool implements the schedule file operations: list, replace, edit,
// remove. All writes go through a temp file next to the schedule and
// land with a rename, so the daemon never observes a half-written file.
type Tool struct {
	paths cronfile.Paths
	log   logx.Logger

	stdin  io.Reader
	stdout io.Writer

	editor func(ctx context.Context, editor, path string) error
}

func New(paths cronfile.Paths, log logx.Logger) *Tool {
	t := &Tool{
		paths:  paths,
		log:    log,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	t.editor = runEditor
	return t
}

// List streams the schedule file to stdout unmodified.
func (t *Tool) List() error {
	f, err := os.Open(t.paths.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no crontab: %s", t.paths.File)
		}
		return fmt.Errorf("open %s: %w", t.paths.File, err)
	}
	_, copyErr := io.Copy(t.stdout, f)
	if err := f.Close(); copyErr == nil && err != nil {
		copyErr = err
	}
	if copyErr != nil {
		return fmt.Errorf("read %s: %w", t.paths.File, copyErr)
	}
	return nil
}

// Remove deletes the schedule file. A missing file is an error; there
// is nothing to remove.
func (t *Tool) Remove() error {
	if err := os.Remove(t.paths.File); err != nil {
		return fmt.Errorf("remove %s: %w", t.paths.File, err)
	}
	return nil
}

// Replace installs a new schedule from stdin.
func (t *Tool) Replace() error {
	return t.install(t.stdin)
}

// ReplaceFile installs a new schedule from the named file.
func (t *Tool) ReplaceFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return t.install(f)
}

// Edit copies the current schedule (if any) to the temp file, runs the
// editor on it, and installs the result. The editor must exit 0; on
// failure the temp file is left in place so the edit is recoverable.
func (t *Tool) Edit(ctx context.Context, editor string) error {
	if err := t.ensureDir(); err != nil {
		return err
	}
	if err := t.copyCurrentToTemp(); err != nil {
		return err
	}
	if err := t.editor(ctx, editor, t.paths.Edit); err != nil {
		return fmt.Errorf("editor %s: %w", editor, err)
	}
	if err := os.Rename(t.paths.Edit, t.paths.File); err != nil {
		return fmt.Errorf("install %s: %w", t.paths.File, err)
	}
	if !t.log.IsZero() {
		t.log.Debug("crontab updated", logx.String("path", t.paths.File))
	}
	return nil
}

func (t *Tool) install(src io.Reader) error {
	if err := t.ensureDir(); err != nil {
		return err
	}
	out, err := os.Create(t.paths.Edit)
	if err != nil {
		return fmt.Errorf("create %s: %w", t.paths.Edit, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", t.paths.Edit, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.paths.Edit, err)
	}
	if err := os.Rename(t.paths.Edit, t.paths.File); err != nil {
		return fmt.Errorf("install %s: %w", t.paths.File, err)
	}
	if !t.log.IsZero() {
		t.log.Debug("crontab updated", logx.String("path", t.paths.File))
	}
	return nil
}

func (t *Tool) ensureDir() error {
	if err := os.Mkdir(t.paths.Dir, 0o700); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create %s: %w", t.paths.Dir, err)
	}
	return nil
}

// copyCurrentToTemp seeds the edit buffer with the live schedule. No
// schedule yet means the editor starts on a new file.
func (t *Tool) copyCurrentToTemp() error {
	in, err := os.Open(t.paths.File)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", t.paths.File, err)
	}
	defer in.Close()

	out, err := os.Create(t.paths.Edit)
	if err != nil {
		return fmt.Errorf("create %s: %w", t.paths.Edit, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", t.paths.Edit, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.paths.Edit, err)
	}
	return nil
}

func runEditor(ctx context.Context, editor, path string) error {
	cmd := exec.CommandContext(ctx, editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
