package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "key=value") {
		t.Errorf("expected warn line with key/value, got %q", out)
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "chatty")
	logger.Debug("debug line")
	logger.Info("info line")
	if strings.Contains(buf.String(), "debug line") {
		t.Error("debug should be filtered by default")
	}
	if !strings.Contains(buf.String(), "info line") {
		t.Error("info should be logged by default")
	}
}

func TestTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "acp.trace")
	logger, closeFn, err := TraceFile(path)
	if err != nil {
		t.Fatalf("TraceFile: %v", err)
	}
	logger.Debug("traced")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(data), "traced") {
		t.Errorf("trace file missing entry: %q", data)
	}
}
