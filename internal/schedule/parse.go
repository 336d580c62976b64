package schedule

import (
	"fmt"
	"strings"
)

// specials maps @keywords to their field patterns. Matched by prefix, in
// order. Every pattern uses only the field's first value or the full set,
// so a bool per field is enough.
var specials = []struct {
	keyword string
	star    [5]bool // minute, hour, day, month, weekday
}{
	{"yearly", [5]bool{false, false, false, false, true}},   /* 0 0 1 1 * */
	{"annually", [5]bool{false, false, false, false, true}}, /* 0 0 1 1 * */
	{"monthly", [5]bool{false, false, false, true, true}},   /* 0 0 1 * * */
	{"weekly", [5]bool{false, false, true, true, false}},    /* 0 0 * * 0 */
	{"daily", [5]bool{false, false, true, true, true}},      /* 0 0 * * * */
	{"midnight", [5]bool{false, false, true, true, true}},   /* 0 0 * * * */
	{"hourly", [5]bool{false, true, true, true, true}},      /* 0 * * * * */
}

// ParseLine parses one crontab line.
//
// Returns (nil, nil) for blank and comment lines, (nil, err) for
// malformed lines, and a populated entry otherwise. The caller decides
// what to do with malformed lines; parsing one never affects another.
func ParseLine(line string) (*Entry, error) {
	i := 0
	skipBlanks(line, &i)
	if i >= len(line) || line[i] == '#' {
		return nil, nil
	}

	e := &Entry{}
	if line[i] == '@' {
		i++
		if err := parseSpecial(line, &i, e); err != nil {
			return nil, err
		}
	} else {
		fields := []struct {
			name   string
			set    []bool
			offset int
		}{
			{"minute", e.Minute[:], 0},
			{"hour", e.Hour[:], 0},
			{"day", e.Day[:], 1},
			{"month", e.Month[:], 1},
			{"weekday", e.Weekday[:], 0},
		}
		for _, f := range fields {
			if err := parseField(line, &i, f.set, f.offset); err != nil {
				return nil, fmt.Errorf("%s field: %w", f.name, err)
			}
		}
	}

	skipBlanks(line, &i)
	parseCommand(line, i, e)
	return e, nil
}

func parseSpecial(line string, i *int, e *Entry) error {
	rest := line[*i:]
	for _, sp := range specials {
		if !strings.HasPrefix(rest, sp.keyword) {
			continue
		}
		sets := [5][]bool{e.Minute[:], e.Hour[:], e.Day[:], e.Month[:], e.Weekday[:]}
		for k, set := range sets {
			if sp.star[k] {
				fill(set)
			} else {
				set[0] = true
			}
		}
		*i += len(sp.keyword)
		return nil
	}
	return fmt.Errorf("invalid special command: %s", rest)
}

// parseField parses one field ('*' or a comma-separated list of values
// and ranges) into set. offset is 1 for the 1-based day and month fields
// and 0 otherwise. The field content must be followed by at least one
// blank; the line terminator does not count, it was stripped by the
// reader.
func parseField(line string, i *int, set []bool, offset int) error {
	if *i < len(line) && line[*i] == '*' {
		*i++
		fill(set)
	} else {
		for {
			v1, ok := parseNum(line, i)
			if !ok {
				return fmt.Errorf("expected number")
			}
			// -1 doubles as "no range": on 1-based fields a range end of
			// 0 underflows to the same sentinel, so "5-0" degrades to the
			// single value 5.
			d2 := -1
			if *i < len(line) && line[*i] == '-' {
				*i++
				v2, ok := parseNum(line, i)
				if !ok {
					return fmt.Errorf("expected number after '-'")
				}
				d2 = v2 - offset
			}
			d1 := v1 - offset
			if d1 < 0 || d1 >= len(set) {
				return fmt.Errorf("value %d out of range", v1)
			}
			if d2 == -1 {
				set[d1] = true
			} else {
				if d1 > d2 {
					d1, d2 = d2, d1
				}
				if d2 >= len(set) {
					d2 = len(set) - 1
				}
				for k := d1; k <= d2; k++ {
					set[k] = true
				}
			}
			if *i < len(line) && line[*i] == ',' {
				*i++
				continue
			}
			break
		}
	}
	if skipBlanks(line, i) == 0 {
		return fmt.Errorf("missing blank after field")
	}
	return nil
}

// parseNum consumes at most two decimal digits. A third digit stays in
// the stream and fails the field at the blank check.
func parseNum(line string, i *int) (int, bool) {
	v := 0
	n := 0
	for n < 2 && *i < len(line) && line[*i] >= '0' && line[*i] <= '9' {
		v = 10*v + int(line[*i]-'0')
		*i++
		n++
	}
	return v, n > 0
}

// parseCommand takes the rest of the line from start: the command runs
// up to the first unescaped '%'; anything after it is the stdin payload.
func parseCommand(line string, start int, e *Entry) {
	end := len(line)
	stdinStart := -1
	for j := start; j < len(line); j++ {
		if line[j] == '%' && j > 0 && line[j-1] != '\\' {
			end = j
			stdinStart = j + 1
			break
		}
	}
	e.Command = line[start:end]
	if stdinStart >= 0 {
		e.Stdin = unescapeStdin(line[stdinStart:])
	}
}

// unescapeStdin rewrites the payload template: '\' keeps the next
// character literal (and is dropped), a bare '%' becomes a newline, and
// exactly one newline is appended after the final byte.
func unescapeStdin(s string) []byte {
	out := make([]byte, 0, len(s)+1)
	for k := 0; k < len(s); k++ {
		if s[k] == '\\' && k+1 < len(s) {
			k++
			out = append(out, s[k])
			continue
		}
		if s[k] == '%' {
			out = append(out, '\n')
			continue
		}
		out = append(out, s[k])
	}
	return append(out, '\n')
}

func fill(set []bool) {
	for k := range set {
		set[k] = true
	}
}

func skipBlanks(line string, i *int) int {
	n := 0
	for *i < len(line) && (line[*i] == ' ' || line[*i] == '\t') {
		*i++
		n++
	}
	return n
}
