// Package logx configures the tracker's structured logging.
//
// Logger is a small wrapper on top of zerolog:
//   - console output is short-timestamped with a short caller
//   - file output is JSON
//   - an optional chat sink forwards warnings to the log channel, rate limited
package logx
