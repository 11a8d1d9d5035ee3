package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"duckrace/server/internal/config"
)

// ServiceName is attached to every record emitted by New.
const ServiceName = "duckrace"

var (
	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Level represents log verbosity ordering.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return levelNames[InfoLevel]
	}
	return levelNames[l]
}

// parseLevel maps DUCKRACE_LOG_LEVEL onto a Level. Blank means info and "warning" is accepted.
func parseLevel(raw string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "":
		return InfoLevel, nil
	case "warning":
		return WarnLevel, nil
	}
	for i, candidate := range levelNames {
		if candidate == name {
			return Level(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", raw)
}

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// String returns a string field.
func String(key, value string) Field { return Field{Key: key, Value: value} }

// Strings returns a string slice field.
func Strings(key string, values []string) Field { return Field{Key: key, Value: values} }

// Int returns an int field.
func Int(key string, value int) Field { return Field{Key: key, Value: value} }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

// Float64 returns a float field.
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Duration returns a duration field rendered in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: float64(value) / float64(time.Millisecond)}
}

// Bool returns a bool field.
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Error returns an error field. The message is stored so it survives JSON encoding.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags records with the subsystem that emitted them.
func Component(name string) Field { return Field{Key: "component", Value: name} }

// RaceID tags records with the race they describe.
func RaceID(id string) Field { return Field{Key: "race_id", Value: id} }

// Mode tags records with a tuning preset name.
func Mode(mode string) Field { return Field{Key: "mode", Value: mode} }

// Seed tags records with the seed a race was simulated from.
func Seed(seed int64) Field { return Field{Key: "seed", Value: seed} }

// Subscriber tags records with a spectator's relay identity.
func Subscriber(id string) Field { return Field{Key: "subscriber", Value: id} }

// reserved keys lead every record in this order and cannot be overridden by fields.
var reserved = [...]string{"timestamp", "level", "message"}

// Logger emits one JSON object per line. Reserved keys come first, then fields sorted by key,
// so records diff cleanly. Derived loggers share the parent's writer and its lock.
type Logger struct {
	mu     *sync.Mutex
	level  Level
	writer syncWriter
	fields map[string]any
	now    func() time.Time
}

// syncWriter describes a writer that can flush to durable storage.
type syncWriter interface {
	io.Writer
	Sync() error
}

// fanout mirrors every record to each writer. A failing mirror does not silence the others.
type fanout []syncWriter

func (f fanout) Write(p []byte) (int, error) {
	var errs []error
	for _, w := range f {
		if _, err := w.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

func (f fanout) Sync() error {
	var errs []error
	for _, w := range f {
		errs = append(errs, w.Sync())
	}
	return errors.Join(errs...)
}

// New constructs a JSON logger configured with on-disk rotation and stdout mirroring.
func New(cfg config.LoggingConfig) (*Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logging path must be specified")
	}
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	writer, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	combined := fanout{writer}
	if os.Stdout != nil {
		combined = append(combined, os.Stdout)
	}
	logger := &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: combined,
		fields: map[string]any{"service": ServiceName},
		now:    time.Now,
	}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return newNopLogger()
}

// NewWriterLogger emits records to w at the given level. Tests use it to assert on output.
func NewWriterLogger(w io.Writer, level Level) *Logger {
	return &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: writerSync{w},
		fields: map[string]any{"service": ServiceName},
		now:    time.Now,
	}
}

func newNopLogger() *Logger {
	return &Logger{
		mu:     &sync.Mutex{},
		level:  DebugLevel,
		writer: discardSyncWriter{},
		fields: make(map[string]any),
		now:    time.Now,
	}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	clone := &Logger{
		mu:     l.mu,
		level:  l.level,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+len(fields)),
		now:    l.now,
	}
	for k, v := range l.fields {
		clone.fields[k] = v
	}
	for _, field := range fields {
		clone.fields[field.Key] = field.Value
	}
	return clone
}

// Sync flushes buffered output to durable storage.
func (l *Logger) Sync() error {
	if l == nil || l.writer == nil {
		return nil
	}
	return l.writer.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.log(DebugLevel, message, fields...) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.log(InfoLevel, message, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.log(WarnLevel, message, fields...) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.log(ErrorLevel, message, fields...) }

// Fatal logs a fatal message and exits the process.
func (l *Logger) Fatal(message string, fields ...Field) { l.log(FatalLevel, message, fields...) }

// WithClock returns a copy of the logger that stamps records with clock.
func (l *Logger) WithClock(clock func() time.Time) *Logger {
	clone := l.With()
	if clock != nil {
		clone.now = clock
	}
	return clone
}

func (l *Logger) log(level Level, message string, fields ...Field) {
	if l == nil {
		L().log(level, message, fields...)
		return
	}
	if level < l.level {
		return
	}
	line := l.encode(level, message, fields)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(line)
	if level == FatalLevel {
		_ = l.writer.Sync()
		os.Exit(1)
	}
}

// encode renders one record terminated by a newline.
func (l *Logger) encode(level Level, message string, fields []Field) []byte {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, field := range fields {
		merged[field.Key] = field.Value
	}
	for _, key := range reserved {
		delete(merged, key)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := l.now
	if now == nil {
		now = time.Now
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writePair(&buf, reserved[0], now().UTC().Format(time.RFC3339Nano))
	writePair(&buf, reserved[1], level.String())
	writePair(&buf, reserved[2], message)
	for _, k := range keys {
		writePair(&buf, k, merged[k])
	}
	buf.WriteString("}\n")
	return buf.Bytes()
}

// writePair appends "key":value. Values JSON cannot encode fall back to their %v text so one bad
// field never drops the record.
func writePair(buf *bytes.Buffer, key string, value any) {
	if buf.Len() > 1 {
		buf.WriteByte(',')
	}
	encodedKey, _ := json.Marshal(key)
	buf.Write(encodedKey)
	buf.WriteByte(':')
	encoded, err := json.Marshal(value)
	if err != nil {
		encoded, _ = json.Marshal(fmt.Sprintf("%v", value))
	}
	buf.Write(encoded)
}

type discardSyncWriter struct{}

func (discardSyncWriter) Write(p []byte) (int, error) { return len(p), nil }

func (discardSyncWriter) Sync() error { return nil }

// writerSync adapts a plain writer that has nothing to flush.
type writerSync struct{ io.Writer }

func (writerSync) Sync() error { return nil }
