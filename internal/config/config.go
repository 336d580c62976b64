package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"time"
)

// Options is the daemon's optional settings file. Everything has a
// working default; a missing file is a fully default configuration.
type Options struct {
	Logging LoggingOptions `json:"logging"`

	// Watch enables filesystem notification on the schedule file so
	// edits take effect without waiting out the current minute.
	Watch bool `json:"watch"`

	// Shell overrides $SHELL for job execution.
	Shell string `json:"shell,omitempty"`

	// DrainTimeout bounds how long shutdown waits for running jobs and
	// their mail (Go duration string). Empty or "0s" waits without
	// limit; expiring abandons whatever is still running.
	DrainTimeout string `json:"drain_timeout,omitempty"`

	Mailer MailerOptions `json:"mailer"`
}

type LoggingOptions struct {
	Level string `json:"level,omitempty"` // trace|debug|info|warn|error
	File  string `json:"file,omitempty"`  // optional JSON log sink
}

type MailerOptions struct {
	Prog string `json:"prog,omitempty"` // mail program; default mailx
	To   string `json:"to,omitempty"`   // overrides the derived user@host

	// Timeout kills a hung mail program after this long (Go duration
	// string). Empty or "0s" means no limit.
	Timeout string `json:"timeout,omitempty"`
}

// DefaultPath is the options file next to the schedule file.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "crond.yaml")
}

// Load reads and strictly decodes the options file. A missing file is
// not an error; it yields defaults.
func Load(path string) (*Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Options{}, nil
		}
		return nil, fmt.Errorf("read options %s: %w", path, err)
	}

	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}

	var opts Options
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}
	// reject trailing tokens (e.g. concatenated documents)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse options %s: trailing data", path)
		}
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}

	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("options %s: %w", path, err)
	}
	return &opts, nil
}

func (o *Options) validate() error {
	switch o.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", o.Logging.Level)
	}
	if _, err := parseDurationField("drain_timeout", o.DrainTimeout); err != nil {
		return err
	}
	if _, err := parseDurationField("mailer.timeout", o.Mailer.Timeout); err != nil {
		return err
	}
	return nil
}

// ResolveDrainTimeout returns the parsed shutdown bound; zero means
// wait without limit. Load has already validated the field.
func (o *Options) ResolveDrainTimeout() time.Duration {
	if o == nil {
		return 0
	}
	d, _ := parseDurationField("drain_timeout", o.DrainTimeout)
	return d
}

// ResolveMailTimeout returns the parsed mail program bound; zero means
// no limit.
func (o *Options) ResolveMailTimeout() time.Duration {
	if o == nil {
		return 0
	}
	d, _ := parseDurationField("mailer.timeout", o.Mailer.Timeout)
	return d
}

// ResolveShell picks the job shell: options override, then $SHELL, then
// /bin/sh.
func (o *Options) ResolveShell() string {
	if o != nil && o.Shell != "" {
		return o.Shell
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// ResolveMailTo picks the delivery address: options override, then the
// classic user@host derived from $LOGNAME (user database as fallback)
// and the hostname.
func (o *Options) ResolveMailTo() string {
	if o != nil && o.Mailer.To != "" {
		return o.Mailer.To
	}
	name := os.Getenv("LOGNAME")
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return name + "@" + host
}

// ResolveEditor picks the interactive editor for schedule editing:
// $EDITOR, then vi.
func ResolveEditor() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}
