// Package schedule parses crontab lines and decides when entries run.
//
// # Line format
//
// One entry per line:
//
//	<minute> <hour> <day> <month> <weekday> <command>[%<stdin-lines>]
//	@<keyword> <command>[%<stdin-lines>]
//
// Blank lines and lines whose first non-blank character is '#' are
// ignored. Each of the five fields is either '*' or a comma-separated
// list of 1-2 digit values and inclusive ranges ("N" or "N-M"):
//
//   - minute 0-59, hour 0-23, day 1-31, month 1-12, weekday 0-6 (0 = Sunday)
//   - reversed ranges swap ("2-1" means "1-2")
//   - a range end past the field maximum clamps to it ("5-99" hours
//     means "5-23")
//   - a bare value out of range rejects the whole line
//
// Keywords: @yearly, @annually, @monthly, @weekly, @daily, @midnight,
// @hourly. Keyword matching is by prefix; trailing characters after a
// recognized keyword are consumed with it, so "@hourlyecho hi" runs
// "echo hi" hourly. Unknown keywords reject the line.
//
// Everything after the fields up to the first unescaped '%' is the
// command. Text after that '%' becomes the command's stdin: "\" escapes
// the next character, every remaining bare '%' becomes a newline, and
// exactly one trailing newline is appended.
//
// Malformed lines produce an error and no entry; parsing never aborts
// the rest of the file.
package schedule
