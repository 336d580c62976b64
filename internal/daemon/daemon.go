// Package daemon drives the per-minute scheduling loop: reload the
// schedule when its file changes, launch due entries through the
// runner, and shut down cleanly on stop signals.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"homecron/internal/cronfile"
	"homecron/internal/eventbus"
	"homecron/internal/lockfile"
	"homecron/internal/runner"
	"homecron/internal/runtime/supervisor"
	"homecron/internal/schedule"
	logx "homecron/pkg/logx"
)

type Config struct {
	Paths cronfile.Paths

	// Watch adds filesystem notification on the schedule file so edits
	// wake the loop ahead of the minute poll.
	Watch bool

	// DrainTimeout bounds the shutdown wait for running jobs and their
	// mail deliveries. Zero waits without limit.
	DrainTimeout time.Duration
}

// Daemon owns the main loop. All of its mutable state is touched only
// by Run's goroutine; signals and file events reach it as wake messages
// on the bus.
type Daemon struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	run *runner.Runner

	tracker *cronfile.Tracker
	entries []schedule.Entry

	// lastLaunch is the last minute whose due entries were launched.
	// Early wakes re-check the file without re-firing the minute.
	lastLaunch time.Time

	failed   bool
	firstErr error

	notify func(state string)
}

func New(cfg Config, run *runner.Runner, bus eventbus.Bus, log logx.Logger) *Daemon {
	return &Daemon{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		run:     run,
		tracker: cronfile.NewTracker(cfg.Paths.File),
		notify:  sdNotify,
	}
}

// Run drives the daemon until ctx is canceled or a daemon-level error
// is recorded. The returned error mirrors the process exit status: nil
// only if no error was ever recorded.
func (d *Daemon) Run(ctx context.Context) error {
	lock, err := lockfile.Acquire(d.cfg.Paths.Lock, d.log)
	if err != nil {
		d.log.Error("cannot start", logx.Err(err))
		return err
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(d.log))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	sup.Go0("sighup", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				d.bus.Publish(eventbus.Event{Reason: eventbus.ReasonSignal})
			}
		}
	})

	if d.cfg.Watch {
		w := cronfile.NewWatcher(d.cfg.Paths.File, d.bus, d.log)
		sup.GoRestart("watcher", time.Second, time.Minute, w.Run)
	}

	wake, unsub := d.bus.Subscribe(8)
	defer unsub()

	// Readiness means the lock is held and the first load attempt is
	// behind us; the loop's own reload is then a no-op until the file
	// changes again.
	d.reload()
	if !d.failed {
		d.notify(sd.SdNotifyReady)
		d.log.Info("crond started",
			logx.String("schedule", d.cfg.Paths.File),
			logx.Bool("watch", d.cfg.Watch))
	}

	for !d.failed && ctx.Err() == nil {
		d.reload()

		now := time.Now()
		if minute := now.Truncate(time.Minute); !minute.Equal(d.lastLaunch) {
			d.launchDue(now)
			d.lastLaunch = minute
		}
		now = time.Now()

		if d.failed || ctx.Err() != nil {
			break
		}
		d.sleep(ctx, now, wake)
		d.reapFinished()
	}

	d.notify(sd.SdNotifyStopping)
	d.log.Info("crond stopping", logx.Int64("jobs_running", d.run.Counters().Active))

	// Watcher and signal forwarder first, then in-flight jobs. Jobs and
	// their mail normally run to completion; an expired drain bound
	// abandons them to die with the process.
	if err := sup.Stop(context.Background()); err != nil {
		d.fail("stop watchers", err)
	}
	drainCtx := context.Background()
	if d.cfg.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, d.cfg.DrainTimeout)
		defer cancel()
	}
	if err := d.run.Stop(drainCtx); err != nil {
		d.log.Warn("drain window expired; abandoning jobs",
			logx.Int64("jobs_running", d.run.Counters().Active), logx.Err(err))
	}
	d.reapFinished()

	if err := lock.Release(); err != nil {
		d.fail("release lock", err)
	}

	if d.failed {
		return d.firstErr
	}
	return nil
}

// reload swaps in a fresh entry list when the schedule file changed.
// The whole list is discarded on any change, including removal.
func (d *Daemon) reload() {
	changed, err := d.tracker.Changed()
	if err != nil {
		d.fail("check schedule", err)
		return
	}
	if !changed {
		return
	}
	entries, err := cronfile.Load(d.tracker.Path(), d.log)
	if err != nil {
		d.entries = nil
		d.fail("load schedule", err)
		return
	}
	d.entries = entries
	d.log.Info("schedule loaded",
		logx.String("path", d.tracker.Path()),
		logx.Int("entries", len(entries)))
}

// launchDue starts every entry matching now, in file order.
func (d *Daemon) launchDue(now time.Time) {
	for i := range d.entries {
		if d.entries[i].Matches(now) {
			d.run.Launch(d.entries[i])
		}
	}
}

// secondsUntilNextMinute floors at 1 so a snapshot taken on the minute
// boundary still yields a real sleep.
func secondsUntilNextMinute(now time.Time) int {
	secs := 60 - now.Second()
	if secs < 1 {
		secs = 1
	}
	return secs
}

// sleep pauses until the top of the next minute, a wake event, or
// cancellation.
func (d *Daemon) sleep(ctx context.Context, now time.Time, wake <-chan eventbus.Event) {
	dur := time.Duration(secondsUntilNextMinute(now)) * time.Second
	if !d.log.IsZero() {
		d.log.Debug("sleeping", logx.Duration("for", dur))
	}

	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case ev := <-wake:
		if !d.log.IsZero() {
			d.log.Debug("woken early", logx.String("reason", ev.Reason))
		}
	case <-t.C:
	}
}

// reapFinished drains completion records. Job failures stay job-local;
// they never flip the daemon's status.
func (d *Daemon) reapFinished() {
	for _, c := range d.run.Reap() {
		if c.Err != nil {
			d.log.Error("job failed to run",
				logx.String("command", c.Command), logx.Err(c.Err))
			continue
		}
		if !d.log.IsZero() {
			d.log.Debug("job finished",
				logx.String("command", c.Command),
				logx.Int("output_bytes", c.Output),
				logx.Bool("mailed", c.Mailed),
				logx.Duration("took", c.Duration))
		}
	}
}

// fail records a daemon-level error. The status is monotonic: once
// failed, the loop winds down and the first error becomes the exit
// status.
func (d *Daemon) fail(op string, err error) {
	d.log.Error(op+" failed", logx.Err(err))
	d.failed = true
	if d.firstErr == nil {
		d.firstErr = fmt.Errorf("%s: %w", op, err)
	}
}

// sdNotify reports lifecycle state to systemd when running under it.
// Outside systemd the call is a no-op.
func sdNotify(state string) {
	_, _ = sd.SdNotify(false, state)
}
