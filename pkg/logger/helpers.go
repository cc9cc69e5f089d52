package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogPageSaved logs a persisted page
func LogPageSaved(l Logger, handle string, page, count, total int, cursor string) {
	l.InfoWithFields("Saved page", map[string]interface{}{
		"handle": handle,
		"page":   page,
		"count":  count,
		"total":  total,
		"cursor": cursor,
	})
}

// LogRetry logs a retry attempt before its backoff delay
func LogRetry(l Logger, attempt, maxRetries int, delay time.Duration, err error) {
	l.WithError(err).WarnWithFields("Fetch failed, backing off", map[string]interface{}{
		"retry":       attempt,
		"max_retries": maxRetries,
		"delay":       delay,
	})
}

// LogRunStopped logs the terminal reason of a harvest run
func LogRunStopped(l Logger, handle, reason string, pages, items int, err error) {
	fields := map[string]interface{}{
		"handle": handle,
		"reason": reason,
		"pages":  pages,
		"items":  items,
	}
	if err != nil {
		l.WithError(err).ErrorWithFields("Harvest stopped", fields)
		return
	}
	l.InfoWithFields("Harvest stopped", fields)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
