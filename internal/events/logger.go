package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/TheMichaelB/chaosvault/internal/config"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides structured logging.
type Logger struct {
	mu       *sync.Mutex
	level    LogLevel
	format   string
	output   io.Writer
	fields   map[string]interface{}
	hostname string
	colorize bool
}

// NewLogger creates a logger from config.
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	var output io.Writer = os.Stderr
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
	}

	hostname, _ := os.Hostname()

	return &Logger{
		mu:       &sync.Mutex{},
		level:    parseLevel(cfg.Level),
		format:   cfg.Format,
		output:   output,
		fields:   make(map[string]interface{}),
		hostname: hostname,
		colorize: cfg.Color && cfg.File == "" && !color.NoColor,
	}, nil
}

// NewTestLogger creates a logger for testing.
func NewTestLogger(level LogLevel, format string, output io.Writer) *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		level:    level,
		format:   format,
		output:   output,
		fields:   make(map[string]interface{}),
		hostname: "test-host",
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewTestLogger(ErrorLevel+1, "text", io.Discard)
}

// Level returns the minimum level that is written.
func (l *Logger) Level() LogLevel {
	return l.level
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	child := *l
	child.fields = newFields
	if child.mu == nil {
		child.mu = &sync.Mutex{}
	}
	return &child
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) {
	l.log(DebugLevel, msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string) {
	l.log(InfoLevel, msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string) {
	l.log(WarnLevel, msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string) {
	l.log(ErrorLevel, msg)
}

func (l *Logger) log(level LogLevel, msg string) {
	if level < l.level || l.output == nil {
		return
	}

	entry := l.buildEntry(level, msg)

	var line string
	if l.format == "json" {
		line = l.formatJSON(entry)
	} else {
		line = l.formatText(level, entry)
	}

	if l.mu != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
	}
	_, _ = io.WriteString(l.output, line)
}

func (l *Logger) buildEntry(level LogLevel, msg string) map[string]interface{} {
	_, file, line, _ := runtime.Caller(3)
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}

	entry := map[string]interface{}{
		"time":     time.Now().UTC().Format(time.RFC3339Nano),
		"level":    levelString(level),
		"msg":      msg,
		"hostname": l.hostname,
		"caller":   fmt.Sprintf("%s:%d", file, line),
	}

	for k, v := range l.fields {
		entry[k] = v
	}

	return entry
}

// formatJSON renders one JSON object per line with keys in sorted order.
func (l *Logger) formatJSON(entry map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString("{")

	for i, k := range sortedKeys(entry) {
		if i > 0 {
			sb.WriteString(",")
		}
		key, _ := json.Marshal(k)
		sb.Write(key)
		sb.WriteString(":")

		switch val := entry[k].(type) {
		case string, bool, int, int64, uint32, uint64, float64:
			b, _ := json.Marshal(val)
			sb.Write(b)
		case time.Duration:
			b, _ := json.Marshal(val.String())
			sb.Write(b)
		default:
			b, _ := json.Marshal(fmt.Sprintf("%v", val))
			sb.Write(b)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// formatText renders: TIME [LEVEL] Message key=value key=value
func (l *Logger) formatText(level LogLevel, entry map[string]interface{}) string {
	tag := fmt.Sprintf("[%s]", strings.ToUpper(levelString(level)))
	if l.colorize {
		tag = levelColor(level).Sprint(tag)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s", entry["time"], tag, entry["msg"])

	for _, k := range sortedKeys(entry) {
		switch k {
		case "time", "level", "msg", "hostname", "caller":
			continue
		}
		fmt.Fprintf(&sb, " %s=%v", k, entry[k])
	}

	sb.WriteString("\n")
	return sb.String()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func levelColor(level LogLevel) *color.Color {
	switch level {
	case DebugLevel:
		return color.New(color.FgCyan)
	case WarnLevel:
		return color.New(color.FgYellow)
	case ErrorLevel:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgGreen)
	}
}

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func levelString(l LogLevel) string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}
