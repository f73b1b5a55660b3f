package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a Level.
// Unknown names fall back to LevelInfo.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects how log lines are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type field struct {
	key   string
	value any
}

// sink is shared by a logger and every child created with With, so that
// concurrent connection handlers never interleave partial lines.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger is a leveled printf-style logger.
//
// A Logger is created once at process start and handed to every component
// at construction. Children created with With share the parent's output.
// All methods are safe for concurrent use.
type Logger struct {
	sink   *sink
	level  Level
	format Format
	fields []field
	now    func() time.Time
}

// New creates a Logger writing to out.
func New(out io.Writer, level Level, format Format) *Logger {
	if format != FormatJSON {
		format = FormatText
	}
	return &Logger{
		sink:   &sink{out: out},
		level:  level,
		format: format,
		now:    time.Now,
	}
}

// Open creates a Logger for the given output name: "stdout", "stderr" or a
// file path (opened for append). The returned closer releases the file and is
// a no-op for the standard streams.
func Open(output string, level Level, format Format) (*Logger, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return New(os.Stdout, level, format), nopCloser{}, nil
	case "stderr":
		return New(os.Stderr, level, format), nopCloser{}, nil
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
	}
	return New(f, level, format), f, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, LevelError+1, FormatText)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// With returns a child logger that attaches key=value to every line.
func (l *Logger) With(key string, value any) *Logger {
	fields := make([]field, len(l.fields), len(l.fields)+1)
	copy(fields, l.fields)

	child := *l
	child.fields = append(fields, field{key: key, value: value})
	return &child
}

// Level returns the minimum level this logger emits.
func (l *Logger) Level() Level {
	return l.level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) log(level Level, format string, v ...any) {
	if !l.Enabled(level) {
		return
	}

	timestamp := l.now()
	message := fmt.Sprintf(format, v...)

	var line string
	if l.format == FormatJSON {
		line = l.jsonLine(timestamp, level, message)
	} else {
		line = l.textLine(timestamp, level, message)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = io.WriteString(l.sink.out, line)
}

func (l *Logger) textLine(ts time.Time, level Level, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", ts.Format("2006-01-02 15:04:05"), level.String(), message)
	for _, f := range l.fields {
		fmt.Fprintf(&b, " %s=%v", f.key, f.value)
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) jsonLine(ts time.Time, level Level, message string) string {
	entry := make(map[string]any, len(l.fields)+3)
	for _, f := range l.fields {
		entry[f.key] = fmt.Sprint(f.value)
	}
	entry["time"] = ts.Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = message

	data, err := json.Marshal(entry)
	if err != nil {
		return l.textLine(ts, level, message)
	}
	return string(data) + "\n"
}

func (l *Logger) Debug(format string, v ...any) {
	l.log(LevelDebug, format, v...)
}

func (l *Logger) Info(format string, v ...any) {
	l.log(LevelInfo, format, v...)
}

func (l *Logger) Warn(format string, v ...any) {
	l.log(LevelWarn, format, v...)
}

func (l *Logger) Error(format string, v ...any) {
	l.log(LevelError, format, v...)
}
