package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("DefaultLogger", func(t *testing.T) {
		l := NewDefaultLogger()
		if l == nil {
			t.Fatal("NewDefaultLogger returned nil")
		}

		if l.level != INFO {
			t.Errorf("Expected level INFO, got %v", l.level)
		}

		if !l.consoleEnable {
			t.Error("Console should be enabled by default")
		}

		l.Close()
	})

	t.Run("CustomLogger", func(t *testing.T) {
		cfg := &Config{
			Level:   DEBUG,
			Prefix:  "[test] ",
			Console: false,
			File:    false,
		}

		l, err := NewLogger(cfg)
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}

		if l.level != DEBUG {
			t.Errorf("Expected level DEBUG, got %v", l.level)
		}

		if l.consoleEnable {
			t.Error("Console should be disabled")
		}

		l.Close()
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"INFO", INFO},
		{"warn", WARN},
		{"WARN", WARN},
		{"error", ERROR},
		{"ERROR", ERROR},
		{"invalid", INFO}, // Default to INFO
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q): expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:   WARN,
		Prefix:  "",
		Console: false,
		File:    false,
	}

	l, _ := NewLogger(cfg)
	l.consoleWriter = &buf
	l.consoleEnable = true

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	output := buf.String()

	if strings.Contains(output, "debug message") {
		t.Error("DEBUG message should be filtered")
	}

	if strings.Contains(output, "info message") {
		t.Error("INFO message should be filtered")
	}

	if !strings.Contains(output, "warn message") {
		t.Error("WARN message should appear")
	}

	if !strings.Contains(output, "error message") {
		t.Error("ERROR message should appear")
	}

	l.Close()
}

func TestLogOutput(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:   INFO,
		Prefix:  "[test] ",
		Console: false,
		File:    false,
	}

	l, _ := NewLogger(cfg)
	l.consoleWriter = &buf
	l.consoleEnable = true

	l.Info("test message")

	output := buf.String()

	if !strings.Contains(output, "[test]") {
		t.Error("Output should contain prefix")
	}

	if !strings.Contains(output, "[INFO]") {
		t.Error("Output should contain level")
	}

	if !strings.Contains(output, "test message") {
		t.Error("Output should contain message")
	}

	l.Close()
}

func TestPrintBypassesLevel(t *testing.T) {
	var buf bytes.Buffer

	cfg := &Config{
		Level:   ERROR,
		Prefix:  "",
		Console: false,
		File:    false,
	}

	l, _ := NewLogger(cfg)
	l.printWriter = &buf

	l.Print("banner line %d", 7)

	output := buf.String()
	if !strings.Contains(output, "banner line 7") {
		t.Error("Print should bypass level filtering")
	}
	if strings.Contains(output, "[ERROR]") || strings.Contains(output, "[INFO]") {
		t.Error("Print output should not carry a level tag")
	}

	l.Close()
}

func TestFileLogging(t *testing.T) {
	tempFile := os.TempDir() + "/resolve-ai-test-log-" + strings.ReplaceAll(t.Name(), "/", "_") + ".log"
	defer os.Remove(tempFile)

	cfg := &Config{
		Level:    INFO,
		Prefix:   "[test] ",
		Console:  false,
		File:     true,
		FilePath: tempFile,
	}

	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l.Info("test message to file")
	l.Close()

	data, err := os.ReadFile(tempFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	if !strings.Contains(string(data), "test message to file") {
		t.Error("Log file should contain the message")
	}
}

func TestWithPrefix(t *testing.T) {
	l := NewDefaultLogger()

	l2 := l.WithPrefix("[gateway] ")
	if l2.prefix != "[gateway] " {
		t.Errorf("Expected prefix '[gateway] ', got '%s'", l2.prefix)
	}

	if l.prefix != "[resolve-ai] " {
		t.Errorf("Original prefix should be unchanged")
	}

	l.Close()
}
