package errors

import (
	"strings"
	"testing"
)

func TestNewIncludesCallSite(t *testing.T) {
	err := New("bad %s", "thing")
	if !strings.HasPrefix(err.Error(), "[errors_test.go:") {
		t.Errorf("expected call-site prefix, got %q", err.Error())
	}
	if !strings.HasSuffix(err.Error(), "bad thing") {
		t.Errorf("expected formatted message, got %q", err.Error())
	}
}

func TestWrapfKeepsSentinel(t *testing.T) {
	err := Wrapf(ErrUnknownTool, "tool %q", "nope")
	if !Is(err, ErrUnknownTool) {
		t.Fatalf("expected wrapped error to match ErrUnknownTool: %v", err)
	}
	if !strings.Contains(err.Error(), `tool "nope": unknown tool`) {
		t.Errorf("unexpected message %q", err.Error())
	}

	twice := Wrapf(err, "dispatch")
	if !Is(twice, ErrUnknownTool) {
		t.Errorf("expected double wrap to keep sentinel")
	}
}

func TestWrapfNil(t *testing.T) {
	if Wrapf(nil, "ignored") != nil {
		t.Error("expected nil for nil error")
	}
}
