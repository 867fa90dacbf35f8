package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{name: "default config", config: nil, want: "text"},
		{
			name:   "json format",
			config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}},
			want:   "json",
		},
		{
			name:   "text format",
			config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}},
			want:   "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.format != tt.want {
				t.Errorf("format = %s, want %s", logger.format, tt.want)
			}
		})
	}
}

func TestLoggerWithSession(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf}
	logger := NewLogger(config)

	sessionLogger := logger.WithSession("sess-42")
	sessionLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "session_id=sess-42") {
		t.Errorf("Expected session_id=sess-42 in output, got: %s", output)
	}

	buf.Reset()
	correlated := sessionLogger.WithCorrelation(7)
	correlated.Info("correlation message")

	output = buf.String()
	if !strings.Contains(output, "session_id=sess-42") {
		t.Errorf("Expected session_id=sess-42 in chained output, got: %s", output)
	}
	if !strings.Contains(output, "correlation_id=7") {
		t.Errorf("Expected correlation_id=7 in output, got: %s", output)
	}
}

func TestLoggerWithKind(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf}
	logger := NewLogger(config)

	kindLogger := logger.WithKind("INFERENCE_REQ")
	kindLogger.Debug("processing request")

	output := buf.String()
	if !strings.Contains(output, "kind=INFERENCE_REQ") {
		t.Errorf("Expected kind=INFERENCE_REQ in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf}
	logger := NewLogger(config)

	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf}
	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("Expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("Expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("Expected error message, got: %s", buf.String())
	}
}
