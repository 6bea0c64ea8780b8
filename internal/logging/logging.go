// Package logging provides the structured logger used across the engine.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levelPriority = map[Level]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
}

// Format is the output format for log entries.
type Format string

const (
	// JSONFormat emits one JSON object per line.
	JSONFormat Format = "json"
	// HumanFormat emits a readable single-line format.
	HumanFormat Format = "human"
)

// Config holds logger configuration.
type Config struct {
	Format Format
	Level  Level
	Output io.Writer // defaults to stdout
}

// Logger provides leveled structured logging. Child loggers created with
// With share the parent's output and attach their fields to every entry.
type Logger struct {
	config Config
	writer io.Writer
	mu     *sync.Mutex
	fields map[string]interface{}
}

// NewLogger creates a logger with the given configuration.
func NewLogger(config Config) *Logger {
	writer := config.Output
	if writer == nil {
		writer = os.Stdout
	}
	if config.Level == "" {
		config.Level = InfoLevel
	}
	if config.Format == "" {
		config.Format = HumanFormat
	}
	return &Logger{
		config: config,
		writer: writer,
		mu:     &sync.Mutex{},
	}
}

// With returns a child logger that includes the given fields on every entry.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		config: l.config,
		writer: l.writer,
		mu:     l.mu,
		fields: merged,
	}
}

// Component is shorthand for a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return l.With(map[string]interface{}{"component": name})
}

type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) enabled(level Level) bool {
	return levelPriority[level] >= levelPriority[l.config.Level]
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	merged := fields
	if len(l.fields) > 0 {
		merged = make(map[string]interface{}, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     string(level),
		Message:   message,
		Fields:    merged,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.config.Format == JSONFormat {
		l.writeJSON(e)
	} else {
		l.writeHuman(e)
	}
}

func (l *Logger) writeJSON(e entry) {
	data, err := json.Marshal(e)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to marshal log entry: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(l.writer, string(data))
}

func (l *Logger) writeHuman(e entry) {
	_, _ = fmt.Fprintf(l.writer, "%s [%s] %s", e.Timestamp, e.Level, e.Message)
	if len(e.Fields) > 0 {
		_, _ = fmt.Fprint(l.writer, " |")
		for k, v := range e.Fields {
			_, _ = fmt.Fprintf(l.writer, " %s=%v", k, v)
		}
	}
	_, _ = fmt.Fprintln(l.writer)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.log(DebugLevel, message, fields)
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.log(InfoLevel, message, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.log(WarnLevel, message, fields)
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.log(ErrorLevel, message, fields)
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard() *Logger {
	return NewLogger(Config{Format: JSONFormat, Level: ErrorLevel, Output: io.Discard})
}
