package runner

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"homecron/internal/schedule"
	logx "homecron/pkg/logx"
)

type fakeMail struct {
	mu    sync.Mutex
	calls []struct {
		command string
		body    string
	}
	err error
}

func (f *fakeMail) Send(_ context.Context, command string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		command string
		body    string
	}{command, string(body)})
	return f.err
}

func (f *fakeMail) sent() []struct {
	command string
	body    string
} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(f.calls[:0:0], f.calls...)
}

func drain(t *testing.T, r *Runner) []Completion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	return r.Reap()
}

func TestLaunchMailsCombinedOutput(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	r.Launch(schedule.Entry{Command: "echo out; echo err 1>&2"})
	comps := drain(t, r)

	sent := mail.sent()
	if len(sent) != 1 {
		t.Fatalf("Send calls = %d, want 1", len(sent))
	}
	if sent[0].command != "echo out; echo err 1>&2" {
		t.Fatalf("Send command = %q", sent[0].command)
	}
	if sent[0].body != "out\nerr\n" {
		t.Fatalf("Send body = %q, want %q", sent[0].body, "out\nerr\n")
	}

	if len(comps) != 1 {
		t.Fatalf("Reap() = %d completions, want 1", len(comps))
	}
	if comps[0].Err != nil {
		t.Fatalf("completion error: %v", comps[0].Err)
	}
	if !comps[0].Mailed {
		t.Fatalf("completion not marked mailed")
	}
	if comps[0].Output != len("out\nerr\n") {
		t.Fatalf("completion output = %d bytes, want %d", comps[0].Output, len("out\nerr\n"))
	}
}

func TestLaunchSilentJobSendsNothing(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	r.Launch(schedule.Entry{Command: "true"})
	comps := drain(t, r)

	if got := mail.sent(); len(got) != 0 {
		t.Fatalf("Send calls = %d, want 0", len(got))
	}
	if len(comps) != 1 || comps[0].Mailed || comps[0].Output != 0 {
		t.Fatalf("completion = %+v, want unmailed zero-output", comps)
	}
}

func TestLaunchFeedsStdinPayload(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	r.Launch(schedule.Entry{Command: "cat", Stdin: []byte("line one\nline two\n")})
	drain(t, r)

	sent := mail.sent()
	if len(sent) != 1 {
		t.Fatalf("Send calls = %d, want 1", len(sent))
	}
	if sent[0].body != "line one\nline two\n" {
		t.Fatalf("Send body = %q, want payload echoed back", sent[0].body)
	}
}

func TestLaunchNonzeroExitStillMails(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	r.Launch(schedule.Entry{Command: "echo oops; exit 3"})
	comps := drain(t, r)

	sent := mail.sent()
	if len(sent) != 1 || sent[0].body != "oops\n" {
		t.Fatalf("Send calls = %+v, want one with body %q", sent, "oops\n")
	}
	if len(comps) != 1 {
		t.Fatalf("Reap() = %d completions, want 1", len(comps))
	}
	if comps[0].Err != nil {
		t.Fatalf("nonzero exit reported as error: %v", comps[0].Err)
	}
}

func TestLaunchPayloadToNonReader(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	// The command never reads stdin, but a payload this small parks in
	// the pipe buffer, so the write succeeds and delivery proceeds.
	r.Launch(schedule.Entry{Command: "echo ignored stdin", Stdin: []byte("unused\n")})
	drain(t, r)

	sent := mail.sent()
	if len(sent) != 1 || sent[0].body != "ignored stdin\n" {
		t.Fatalf("Send calls = %+v, want one with body %q", sent, "ignored stdin\n")
	}
}

func TestLaunchBrokenStdinPipeAbandonsDelivery(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	// Larger than any pipe buffer, against a command that exits without
	// reading: the blocked write breaks when the command dies, and the
	// failed monitor must not deliver the output it captured.
	payload := bytes.Repeat([]byte("x"), 1<<20)
	r.Launch(schedule.Entry{Command: "echo produced", Stdin: payload})
	comps := drain(t, r)

	if got := mail.sent(); len(got) != 0 {
		t.Fatalf("Send calls = %d, want 0 after stdin failure", len(got))
	}
	if len(comps) != 1 {
		t.Fatalf("Reap() = %d completions, want 1", len(comps))
	}
	if comps[0].Err == nil {
		t.Fatalf("completion error = nil, want broken pipe")
	}
	if comps[0].Mailed {
		t.Fatalf("completion marked mailed")
	}
	if comps[0].Output != len("produced\n") {
		t.Fatalf("completion output = %d bytes, want %d", comps[0].Output, len("produced\n"))
	}
}

func TestMailFailureKeepsCompletion(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{err: errors.New("no transport")}
	r := New(Config{}, mail, logx.Nop())

	r.Launch(schedule.Entry{Command: "echo x"})
	comps := drain(t, r)

	if len(comps) != 1 {
		t.Fatalf("Reap() = %d completions, want 1", len(comps))
	}
	if comps[0].Mailed {
		t.Fatalf("completion marked mailed despite delivery failure")
	}
	if comps[0].Err != nil {
		t.Fatalf("delivery failure leaked into completion error: %v", comps[0].Err)
	}
}

func TestStopHonorsDeadline(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	r.Launch(schedule.Entry{Command: "sleep 1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() = %v, want deadline exceeded", err)
	}

	// Let the job finish so the test binary exits cleanly.
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
	if got := r.Counters(); got.Active != 0 || got.Started != 1 {
		t.Fatalf("Counters() = %+v, want idle with one started", got)
	}
}

func TestCountersTrackLaunches(t *testing.T) {
	t.Parallel()

	mail := &fakeMail{}
	r := New(Config{}, mail, logx.Nop())

	for i := 0; i < 3; i++ {
		r.Launch(schedule.Entry{Command: "true"})
	}
	drain(t, r)

	if got := r.Counters(); got.Active != 0 || got.Started != 3 {
		t.Fatalf("Counters() = %+v, want 3 started, 0 active", got)
	}
}
