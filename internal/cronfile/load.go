package cronfile

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"homecron/internal/schedule"
	logx "homecron/pkg/logx"
)

// Load reads and parses the schedule file into an entry list, in file
// order. Malformed lines are dropped with a diagnostic; they never abort
// the rest of the file.
//
// A file that cannot be opened yields an empty list and no error: a
// missing crontab is an empty schedule, and a file that vanished since
// the stat gets picked up by the next poll. A read or close failure
// discards everything parsed so far and returns the error.
func Load(path string, log logx.Logger) ([]schedule.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !log.IsZero() {
			log.Debug("crontab not readable", logx.String("path", path), logx.Err(err))
		}
		return nil, nil
	}

	var entries []schedule.Entry
	lineNo := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		e, err := schedule.ParseLine(sc.Text())
		if err != nil {
			if !log.IsZero() {
				log.Debug("dropping malformed crontab line",
					logx.String("path", path),
					logx.Int("line", lineNo),
					logx.Err(err))
			}
			continue
		}
		if e == nil {
			continue
		}
		entries = append(entries, *e)
	}
	if err := sc.Err(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	return entries, nil
}
