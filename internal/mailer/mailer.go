package mailer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	logx "homecron/pkg/logx"
)

const (
	defaultProg = "mailx"

	// Classic cron kept the whole subject line in an 80-byte buffer.
	// We keep the visible truncation behavior.
	maxSubject = 79
)

type Config struct {
	Prog string // mail submission program; default mailx
	To   string // recipient, usually user@host

	// Timeout kills a hung mail program; zero means no limit.
	Timeout time.Duration
}

// Mailer delivers captured job output to the user by piping it into a
// mail program as the message body.
type Mailer struct {
	cfg Config
	log logx.Logger

	spawn func(ctx context.Context, prog string, args []string, body []byte) error
}

func New(cfg Config, log logx.Logger) *Mailer {
	if cfg.Prog == "" {
		cfg.Prog = defaultProg
	}
	m := &Mailer{cfg: cfg, log: log}
	m.spawn = runProg
	return m
}

// Subject renders the classic "Cron <recipient> command" line, cut to
// the historical buffer size. Truncation is on bytes, not runes.
func Subject(to, command string) string {
	s := fmt.Sprintf("Cron <%s> %s", to, command)
	if len(s) > maxSubject {
		s = s[:maxSubject]
	}
	return s
}

// Send mails body as the output of command. Callers decide whether a
// body is worth sending; Send always spawns.
func (m *Mailer) Send(ctx context.Context, command string, body []byte) error {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	subject := Subject(m.cfg.To, command)
	if !m.log.IsZero() {
		m.log.Debug("mailing job output",
			logx.String("to", m.cfg.To),
			logx.String("command", command),
			logx.Int("bytes", len(body)))
	}
	if err := m.spawn(ctx, m.cfg.Prog, []string{"-s", subject, m.cfg.To}, body); err != nil {
		return fmt.Errorf("mail to %s: %w", m.cfg.To, err)
	}
	return nil
}

func runProg(ctx context.Context, prog string, args []string, body []byte) error {
	cmd := exec.CommandContext(ctx, prog, args...)
	cmd.Stdin = bytes.NewReader(body)
	return cmd.Run()
}
