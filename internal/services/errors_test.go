package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"iencode/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "encoding", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"encoding", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "downloading", "get", "503", nil), true},
		{"wrapped transient", fmt.Errorf("outer: %w", services.Wrap(services.ErrTransient, "uploading", "put", "reset", nil)), true},
		{"validation", services.Wrap(services.ErrValidation, "encoding", "probe", "no duration", nil), false},
		{"timeout beats transient", services.Wrap(services.ErrTimeout, "encoding", "", "", services.ErrTransient), false},
		{"external tool", services.Wrap(services.ErrExternalTool, "encoding", "ffmpeg", "exit 1", nil), false},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHint(t *testing.T) {
	if services.Hint(nil) != "" {
		t.Fatal("expected empty hint for nil error")
	}
	if hint := services.Hint(services.Wrap(services.ErrPersistence, "", "put", "", nil)); !strings.Contains(hint, "store") {
		t.Fatalf("unexpected persistence hint %q", hint)
	}
}
