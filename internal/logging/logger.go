// Package logging provides simple leveled logging for the rpmsg-nnrt runtime.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support and chainable context fields.
type Logger struct {
	logger *log.Logger
	level  LogLevel
	format string
	fields string
	mu     *sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "text" (default) or "json"
	Output  io.Writer
	Sync    bool // reserved for callers that want synchronous flushing semantics
	NoColor bool // reserved; this backend never colors output
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
		format: format,
		mu:     &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithSession returns a derived logger that tags every line with the
// given session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.withField(fmt.Sprintf("session_id=%s", sessionID))
}

// WithCorrelation returns a derived logger tagged with a correlation id.
func (l *Logger) WithCorrelation(id int64) *Logger {
	return l.withField(fmt.Sprintf("correlation_id=%d", id))
}

// WithKind returns a derived logger tagged with a request kind.
func (l *Logger) WithKind(kind string) *Logger {
	return l.withField(fmt.Sprintf("kind=%s", kind))
}

// WithError returns a derived logger that will append the error's message
// to every subsequent line.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.withField(fmt.Sprintf("error=%q", err.Error()))
}

func (l *Logger) withField(field string) *Logger {
	fields := field
	if l.fields != "" {
		fields = l.fields + " " + field
	}
	return &Logger{logger: l.logger, level: l.level, format: l.format, fields: fields, mu: l.mu}
}

// formatArgs converts key-value pairs to a string.
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) log(level LogLevel, prefix, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	extra := formatArgs(args)
	if l.fields != "" {
		extra = " " + l.fields + extra
	}

	if l.format == "json" {
		l.logger.Printf("{\"level\":%q,\"msg\":%q%s}", levelName(level), msg, jsonTail(l.fields, args))
		return
	}
	l.logger.Printf("%s %s%s", prefix, msg, extra)
}

func levelName(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

func jsonTail(fields string, args []any) string {
	// Minimal JSON-ish tail; good enough for a structured log sink to parse
	// without pulling in a JSON-logging dependency the corpus doesn't show.
	tail := ""
	if fields != "" {
		tail += ",\"fields\":\"" + fields + "\""
	}
	if kv := formatArgs(args); kv != "" {
		tail += ",\"kv\":\"" + kv[1:] + "\""
	}
	return tail
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG]", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR]", msg, args...) }

// Printf-style logging.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...)) }

// Printf for compatibility with callers that expect a plain printf sink.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
