package cronfile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"homecron/internal/eventbus"
	logx "homecron/pkg/logx"
)

// Watcher wakes the daemon early when something touches the schedule
// file. It watches the containing directory (the crontab tool replaces
// the file by rename, which a file watch would lose) and publishes wake
// events on the bus.
//
// The watcher is advisory: the mtime poll stays the source of truth, so
// a missed, dropped, or rate-limited wake costs at most one poll cycle.
type Watcher struct {
	path    string
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewWatcher(path string, bus eventbus.Bus, log logx.Logger) *Watcher {
	return &Watcher{
		path: path,
		bus:  bus,
		log:  log,
		// One wake per two seconds sustained is plenty for a file that
		// is polled every minute anyway.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Run watches until ctx is canceled. It returns an error when the
// watcher breaks so the caller's restart policy can recreate it with
// backoff.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if !w.log.IsZero() {
		w.log.Debug("schedule watcher started", logx.String("dir", dir), logx.String("file", file))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watch events channel closed")
			}
			// Compare by basename (robust across absolute/relative paths).
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				w.kick()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watch errors channel closed")
			}
			if err == nil {
				continue
			}
			// Overflow means we may have missed events for our file;
			// wake once and keep the watcher alive.
			if strings.Contains(strings.ToLower(err.Error()), "overflow") {
				w.kick()
				continue
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}

// kick schedules a debounced wake so editors that write in bursts
// produce a single event.
func (w *Watcher) kick() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(250*time.Millisecond, func() {
		if !w.limiter.Allow() {
			if !w.log.IsZero() {
				w.log.Debug("wake suppressed (rate limit)", logx.String("path", w.path))
			}
			return
		}
		if !w.log.IsZero() {
			w.log.Debug("schedule change detected; waking poll", logx.String("path", w.path))
		}
		w.bus.Publish(eventbus.Event{Reason: eventbus.ReasonFSEvent})
	})
}
