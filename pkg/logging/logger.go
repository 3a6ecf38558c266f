package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents different logging levels
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of Level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown values are an error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// Config configures a Logger
type Config struct {
	Level   string `yaml:"level" env:"LEVEL"`
	Format  string `yaml:"format" env:"FORMAT"` // "json" or "text"
	Service string `yaml:"service" env:"SERVICE"`
}

// Entry represents a structured log entry
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service,omitempty"`
	Component string         `json:"component,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// sink is the output state shared by a logger and its children
type sink struct {
	mu      sync.Mutex
	level   Level
	format  string
	output  io.Writer
	service string
	now     func() time.Time
}

// Logger provides structured logging capabilities
type Logger struct {
	sink   *sink
	fields []Field
}

// New creates a logger writing to out
func New(out io.Writer, cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return &Logger{sink: &sink{
		level:   level,
		format:  format,
		output:  out,
		service: cfg.Service,
		now:     time.Now,
	}}, nil
}

// NewStdout creates an info-level text logger on stdout
func NewStdout(service string) *Logger {
	l, _ := New(os.Stdout, Config{Service: service})
	return l
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	l, _ := New(io.Discard, Config{Level: "error"})
	l.sink.level = ERROR + 1
	return l
}

// SetLevel sets the logging level for this logger and its children
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields ...Field) *Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{sink: l.sink, fields: merged}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(DEBUG, msg, fields)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(INFO, msg, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(WARN, msg, fields)
}

// Error logs an error message
func (l *Logger) Error(msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, Err(err))
	}
	l.log(ERROR, msg, fields)
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	if l == nil || l.sink == nil {
		return
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	entry := &Entry{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   msg,
		Service:   s.service,
		Fields:    make(map[string]any),
	}
	for _, f := range l.fields {
		f.apply(entry)
	}
	for _, f := range fields {
		f.apply(entry)
	}

	var line string
	if s.format == "json" {
		if len(entry.Fields) == 0 {
			entry.Fields = nil
		}
		b, err := json.Marshal(entry)
		if err != nil {
			line = fmt.Sprintf("failed to marshal log entry: %v", err)
		} else {
			line = string(b)
		}
	} else {
		line = formatText(entry)
	}
	fmt.Fprintln(s.output, line)
}

func formatText(entry *Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", entry.Timestamp, entry.Level, entry.Message)
	if entry.Service != "" {
		fmt.Fprintf(&b, " service=%s", entry.Service)
	}
	if entry.Component != "" {
		fmt.Fprintf(&b, " component=%s", entry.Component)
	}

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}

	if entry.Error != "" {
		fmt.Fprintf(&b, " error=%q", entry.Error)
	}
	return b.String()
}

// Field represents a log field
type Field struct {
	key   string
	value any
	kind  fieldKind
}

type fieldKind int

const (
	kindValue fieldKind = iota
	kindError
	kindComponent
)

func (f Field) apply(entry *Entry) {
	switch f.kind {
	case kindError:
		entry.Error = fmt.Sprint(f.value)
	case kindComponent:
		entry.Component = fmt.Sprint(f.value)
	default:
		entry.Fields[f.key] = f.value
	}
}

// String creates a string field
func String(key, value string) Field {
	return Field{key: key, value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{key: key, value: value}
}

// Float creates a float field
func Float(key string, value float64) Field {
	return Field{key: key, value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{key: key, value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{key: key, value: value.String()}
}

// Err creates an error field
func Err(err error) Field {
	if err == nil {
		return Field{key: "error", value: "<nil>", kind: kindError}
	}
	return Field{key: "error", value: err.Error(), kind: kindError}
}

// Component creates a component field
func Component(component string) Field {
	return Field{key: "component", value: component, kind: kindComponent}
}
