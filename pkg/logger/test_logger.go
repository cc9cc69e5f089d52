package logger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// TestLogger captures log messages so tests can assert on them
type TestLogger struct {
	*boundTestLogger
	sink *messageSink
}

// LogMessage represents a captured log message
type LogMessage struct {
	Level   string
	Message string
	Fields  map[string]interface{}
	Error   error
}

type messageSink struct {
	mu       sync.Mutex
	messages []LogMessage
}

// boundTestLogger carries the fields and error bound by WithField(s) and
// WithError; every copy writes to the same sink.
type boundTestLogger struct {
	sink   *messageSink
	fields map[string]interface{}
	err    error
}

// NewTestLogger creates a new test logger
func NewTestLogger() *TestLogger {
	sink := &messageSink{}
	return &TestLogger{
		boundTestLogger: &boundTestLogger{sink: sink},
		sink:            sink,
	}
}

// GetMessages returns a copy of all captured messages
func (l *TestLogger) GetMessages() []LogMessage {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	messages := make([]LogMessage, len(l.sink.messages))
	copy(messages, l.sink.messages)
	return messages
}

// GetMessagesByLevel returns all messages of a specific level
func (l *TestLogger) GetMessagesByLevel(level string) []LogMessage {
	var filtered []LogMessage
	for _, msg := range l.GetMessages() {
		if msg.Level == level {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// HasMessage checks if a message with the given text was logged
func (l *TestLogger) HasMessage(text string) bool {
	for _, msg := range l.GetMessages() {
		if msg.Message == text {
			return true
		}
	}
	return false
}

// HasError checks if an error-level message was logged
func (l *TestLogger) HasError() bool {
	return len(l.GetMessagesByLevel("ERROR")) > 0
}

// Clear drops all captured messages
func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	l.sink.messages = nil
	l.sink.mu.Unlock()
}

func (b *boundTestLogger) log(level, msg string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(b.fields)+len(fields))
	for k, v := range b.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	b.sink.mu.Lock()
	b.sink.messages = append(b.sink.messages, LogMessage{
		Level:   level,
		Message: msg,
		Fields:  merged,
		Error:   b.err,
	})
	b.sink.mu.Unlock()
}

func (b *boundTestLogger) with(fields map[string]interface{}, err error) *boundTestLogger {
	merged := make(map[string]interface{}, len(b.fields)+len(fields))
	for k, v := range b.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &boundTestLogger{sink: b.sink, fields: merged, err: err}
}

func (b *boundTestLogger) Debug(msg string) { b.log("DEBUG", msg, nil) }
func (b *boundTestLogger) Info(msg string)  { b.log("INFO", msg, nil) }
func (b *boundTestLogger) Warn(msg string)  { b.log("WARN", msg, nil) }
func (b *boundTestLogger) Error(msg string) { b.log("ERROR", msg, nil) }
func (b *boundTestLogger) Fatal(msg string) { b.log("FATAL", msg, nil) }

func (b *boundTestLogger) DebugWithFields(msg string, fields map[string]interface{}) {
	b.log("DEBUG", msg, fields)
}

func (b *boundTestLogger) InfoWithFields(msg string, fields map[string]interface{}) {
	b.log("INFO", msg, fields)
}

func (b *boundTestLogger) WarnWithFields(msg string, fields map[string]interface{}) {
	b.log("WARN", msg, fields)
}

func (b *boundTestLogger) ErrorWithFields(msg string, fields map[string]interface{}) {
	b.log("ERROR", msg, fields)
}

func (b *boundTestLogger) FatalWithFields(msg string, fields map[string]interface{}) {
	b.log("FATAL", msg, fields)
}

func (b *boundTestLogger) WithField(key string, value interface{}) Logger {
	return b.with(map[string]interface{}{key: value}, b.err)
}

func (b *boundTestLogger) WithFields(fields map[string]interface{}) Logger {
	return b.with(fields, b.err)
}

func (b *boundTestLogger) WithError(err error) Logger {
	return b.with(nil, err)
}

func (b *boundTestLogger) WithContext(ctx context.Context) Logger {
	return b
}

func (b *boundTestLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
