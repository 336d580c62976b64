// Package logx configures homecron's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable on stderr (short timestamp + short caller)
//   - Optional file output JSON-structured
//   - stdout untouched (the crontab tool writes schedule contents there)
package logx
