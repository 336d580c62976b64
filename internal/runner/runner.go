package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"homecron/internal/schedule"
	logx "homecron/pkg/logx"
)

// Mailer is the delivery side of the pipeline. Output-producing jobs
// result in exactly one Send.
type Mailer interface {
	Send(ctx context.Context, command string, body []byte) error
}

type Config struct {
	Shell string // shell binary for -c invocation; default /bin/sh
}

// Completion describes one finished job, reported back to the daemon
// loop for logging.
type Completion struct {
	Command  string
	Err      error // monitor failure (spawn, stdin feed, wait); a nonzero exit is not an error
	Output   int   // captured stdout+stderr bytes
	Mailed   bool
	Duration time.Duration
}

// Counters is a point-in-time snapshot of runner activity.
type Counters struct {
	Active  int64
	Started uint64
}

// Runner executes schedule entries. Each Launch spawns a monitor
// goroutine that runs the command under the shell, feeds it the entry's
// stdin payload, captures combined stdout+stderr, and mails any output.
//
// Jobs are deliberately detached from the daemon's shutdown context: a
// stop request never kills a running command or its pending mail. Stop
// bounds how long we wait for them instead.
type Runner struct {
	cfg  Config
	log  logx.Logger
	mail Mailer

	wg      sync.WaitGroup
	active  atomic.Int64
	started atomic.Uint64
	done    chan Completion
}

func New(cfg Config, mail Mailer, log logx.Logger) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	return &Runner{
		cfg:  cfg,
		log:  log,
		mail: mail,
		done: make(chan Completion, 128),
	}
}

func (r *Runner) Counters() Counters {
	return Counters{Active: r.active.Load(), Started: r.started.Load()}
}

// Launch starts the entry's command and returns immediately.
func (r *Runner) Launch(e schedule.Entry) {
	if !r.log.IsZero() {
		r.log.Debug("running job", logx.String("command", e.Command))
	}
	r.wg.Add(1)
	r.active.Add(1)
	r.started.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.active.Add(-1)
		r.monitor(e)
	}()
}

// Reap drains completion records without blocking. The daemon loop
// calls it once per cycle.
func (r *Runner) Reap() []Completion {
	var out []Completion
	for {
		select {
		case c := <-r.done:
			out = append(out, c)
		default:
			return out
		}
	}
}

// Stop waits for in-flight jobs and their mail deliveries to finish, or
// for ctx to expire, whichever comes first.
func (r *Runner) Stop(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) monitor(e schedule.Entry) {
	start := time.Now()
	c := Completion{Command: e.Command}

	// One buffer for both streams keeps the interleaving a shared
	// output pipe would produce.
	var buf bytes.Buffer
	cmd := exec.Command(r.cfg.Shell, "-c", e.Command)
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.Err = err
		c.Duration = time.Since(start)
		r.report(c)
		return
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		c.Err = err
		c.Duration = time.Since(start)
		r.report(c)
		return
	}

	// The payload is written before waiting. A command that exits
	// without consuming it breaks the pipe; that abandons the monitor
	// like any other primitive failure, so the job's output is lost.
	if len(e.Stdin) > 0 {
		if _, err := stdin.Write(e.Stdin); err != nil {
			c.Err = fmt.Errorf("write stdin: %w", err)
		}
	}
	if err := stdin.Close(); err != nil && c.Err == nil {
		c.Err = fmt.Errorf("close stdin: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		// A nonzero exit is a job outcome, not a monitor failure; the
		// output still gets mailed.
		if _, ok := err.(*exec.ExitError); !ok && c.Err == nil {
			c.Err = err
		}
	}
	c.Output = buf.Len()
	c.Duration = time.Since(start)

	if c.Err == nil && buf.Len() > 0 {
		// Delivery happens even while the daemon is shutting down, so
		// it runs outside any cancelable context.
		if err := r.mail.Send(context.Background(), e.Command, buf.Bytes()); err != nil {
			if !r.log.IsZero() {
				r.log.Error("mail delivery failed",
					logx.String("command", e.Command), logx.Err(err))
			}
		} else {
			c.Mailed = true
		}
	}
	r.report(c)
}

func (r *Runner) report(c Completion) {
	select {
	case r.done <- c:
	default:
		// Completions are logging-only; dropping under pressure is fine.
	}
}
