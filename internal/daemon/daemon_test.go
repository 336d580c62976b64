package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"
	"time"

	"homecron/internal/cronfile"
	"homecron/internal/eventbus"
	"homecron/internal/lockfile"
	"homecron/internal/runner"
	logx "homecron/pkg/logx"
)

type nopMail struct{}

func (nopMail) Send(context.Context, string, []byte) error { return nil }

func newTestDaemon(t *testing.T, watch bool) (*Daemon, cronfile.Paths, *[]string) {
	t.Helper()
	paths := cronfile.FromHome(t.TempDir())
	if err := os.Mkdir(paths.Dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	run := runner.New(runner.Config{}, nopMail{}, logx.Nop())
	d := New(Config{Paths: paths, Watch: watch}, run, eventbus.New(), logx.Nop())

	var mu sync.Mutex
	states := []string{}
	d.notify = func(state string) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	}
	return d, paths, &states
}

func TestSecondsUntilNextMinute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sec  int
		want int
	}{
		{sec: 0, want: 60},
		{sec: 1, want: 59},
		{sec: 30, want: 30},
		{sec: 59, want: 1},
	}
	for _, tt := range tests {
		now := time.Date(2023, 6, 1, 12, 30, tt.sec, 0, time.UTC)
		if got := secondsUntilNextMinute(now); got != tt.want {
			t.Fatalf("secondsUntilNextMinute(:%02d) = %d, want %d", tt.sec, got, tt.want)
		}
	}
}

func TestReloadTransitions(t *testing.T) {
	t.Parallel()

	d, paths, _ := newTestDaemon(t, false)

	// No file: nothing to load, no error.
	d.reload()
	if d.failed || len(d.entries) != 0 {
		t.Fatalf("reload on missing file: failed=%v entries=%d", d.failed, len(d.entries))
	}

	if err := os.WriteFile(paths.File, []byte("0 0 1 1 0 true\n# note\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d.reload()
	if d.failed {
		t.Fatalf("reload failed: %v", d.firstErr)
	}
	if len(d.entries) != 1 || d.entries[0].Command != "true" {
		t.Fatalf("entries = %+v, want one entry running true", d.entries)
	}

	// Unchanged file keeps the list as-is.
	before := &d.entries[0]
	d.reload()
	if len(d.entries) != 1 || &d.entries[0] != before {
		t.Fatalf("no-op reload replaced the entry list")
	}

	// A touch forces a fresh parse.
	later := time.Now().Add(5 * time.Second)
	if err := os.Chtimes(paths.File, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	d.reload()
	if len(d.entries) != 1 || &d.entries[0] == before {
		t.Fatalf("touched reload kept the old list")
	}

	// Removal empties the list.
	if err := os.Remove(paths.File); err != nil {
		t.Fatalf("remove: %v", err)
	}
	d.reload()
	if d.failed || len(d.entries) != 0 {
		t.Fatalf("reload after remove: failed=%v entries=%d", d.failed, len(d.entries))
	}
}

func TestLaunchDueMatchesOnly(t *testing.T) {
	t.Parallel()

	d, paths, _ := newTestDaemon(t, false)

	// One entry matches every minute, one never matches the test's
	// runtime (February 31st does not exist).
	if err := os.WriteFile(paths.File, []byte("* * * * * true\n0 0 31 2 * true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d.reload()
	if len(d.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(d.entries))
	}

	d.launchDue(time.Now())
	if err := d.run.Stop(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := d.run.Counters().Started; got != 1 {
		t.Fatalf("started = %d, want 1", got)
	}
}

func TestFailIsMonotonic(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDaemon(t, false)

	first := errors.New("first")
	d.fail("stat", first)
	d.fail("load", errors.New("second"))

	if !d.failed {
		t.Fatalf("failed = false after fail()")
	}
	if !errors.Is(d.firstErr, first) {
		t.Fatalf("firstErr = %v, want wrapped first error", d.firstErr)
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	t.Parallel()

	d, paths, _ := newTestDaemon(t, false)

	held, err := lockfile.Acquire(paths.Lock, logx.Nop())
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer held.Release()

	err = d.Run(context.Background())
	if !errors.Is(err, lockfile.ErrLocked) {
		t.Fatalf("Run() = %v, want lock contention", err)
	}
}

func TestRunStartStop(t *testing.T) {
	t.Parallel()

	d, paths, states := newTestDaemon(t, false)
	if err := os.WriteFile(paths.File, []byte("* * * * * true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The first cycle loads the schedule and fires the every-minute
	// entry; wait for the launch before stopping.
	deadline := time.Now().Add(5 * time.Second)
	for d.run.Counters().Started == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no job launched within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not stop")
	}

	// Lock released on the way out.
	if _, err := os.Stat(paths.Lock); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("lock still present after Run: %v", err)
	}
	if got := *states; len(got) != 2 || got[0] != "READY=1" || got[1] != "STOPPING=1" {
		t.Fatalf("notify states = %v, want READY then STOPPING", got)
	}
}

func TestRunWakeReloadsWithoutRefiring(t *testing.T) {
	t.Parallel()

	// The assertions below count launches within a single wall-clock
	// minute; start clear of the boundary so the next minute's
	// legitimate launches stay out of the window.
	if s := time.Now().Second(); s >= 55 {
		time.Sleep(time.Duration(61-s) * time.Second)
	}

	d, paths, _ := newTestDaemon(t, false)
	if err := os.WriteFile(paths.File, []byte("* * * * * true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for d.run.Counters().Started == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no job launched within deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Rewrite the schedule and wake the loop: the new file must load,
	// but the current minute's entries must not fire a second time.
	if err := os.WriteFile(paths.File, []byte("* * * * * true\n* * * * * true\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	d.bus.Publish(eventbus.Event{Reason: eventbus.ReasonSignal})
	time.Sleep(500 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not stop")
	}

	// Run has returned; its state is safe to inspect now.
	if len(d.entries) != 2 {
		t.Fatalf("entries = %d after wake, want reloaded 2", len(d.entries))
	}
	if got := d.run.Counters().Started; got != 1 {
		t.Fatalf("started = %d after wake, want still 1", got)
	}
}
