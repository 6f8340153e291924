package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{"none", LevelNone},
		{"NONE", LevelNone},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelNone, "NONE"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.expected)
			}
		})
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "refsync.log")

	l, err := New(LevelInfo, logPath, "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l.Info("test message")
	l.Debug("should not appear")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	out := string(content)

	if !strings.Contains(out, "test message") {
		t.Errorf("Log file missing info message")
	}
	if strings.Contains(out, "should not appear") {
		t.Errorf("Log file contains debug message when level is INFO")
	}
	if !strings.Contains(out, "[INFO] [test]") {
		t.Errorf("Log file missing level or prefix, got: %s", out)
	}
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(LevelInfo, &buf, "parent")
	child := parent.WithPrefix("child")

	child.Info("first")
	child.Debug("hidden")

	parent.SetLevel(LevelDebug)
	child.Debug("visible")

	out := buf.String()
	if !strings.Contains(out, "[parent:child] first") {
		t.Errorf("missing combined prefix, got: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line logged before level change")
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("child did not observe parent's level change")
	}
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	// These should not panic or error
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
}

func TestCloseIsIdempotent(t *testing.T) {
	l, err := New(LevelInfo, filepath.Join(t.TempDir(), "x.log"), "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	l.Info("after close")
}

func TestGlobalLogger(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}

	// Should not panic
	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "slog")

	sl := slog.New(NewSlogHandler(l)).With("workspace", "ws-1").WithGroup("req")
	sl.Debug("dropped")
	sl.Warn("slow write", "client", "c1")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("debug record should be filtered at info level")
	}
	if !strings.Contains(out, "[WARN] [slog] slow write workspace=ws-1 req.client=c1") {
		t.Errorf("unexpected slog output: %s", out)
	}
}

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelDebug, &buf, "http")

	StdLogger(l, slog.LevelError).Printf("http: TLS handshake error")

	if !strings.Contains(buf.String(), "[ERROR] [http] http: TLS handshake error") {
		t.Errorf("unexpected std logger output: %s", buf.String())
	}
}

func TestNewSlogHandlerNil(t *testing.T) {
	if NewSlogHandler(nil) != nil {
		t.Errorf("expected nil handler for nil logger")
	}
}
