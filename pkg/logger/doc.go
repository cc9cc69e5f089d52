// Package logger provides the structured logging interface used across
// tsscraper.
//
// It wraps zerolog. Output is a console writer when stdout is a terminal
// and JSON lines otherwise; an optional log file receives the same events.
//
//	logger.Initialize(&cfg.Logging)
//	logger.WithField("handle", handle).Info("Starting harvest")
//
// Tests can use NewTestLogger to capture messages or NewNopLogger to
// discard them.
package logger
