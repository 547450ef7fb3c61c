package utils

import (
	"strings"
	"testing"
)

func TestSanitizeNotes(t *testing.T) {
	tests := []struct {
		name     string
		notes    string
		expected string
	}{
		{"empty", "", ""},
		{"plain text", "restored the gateway", "restored the gateway"},
		{"trims whitespace", "  fixed  ", "fixed"},
		{"keeps newlines", "step 1\nstep 2", "step 1\nstep 2"},
		{"strips control characters", "fix\x00ed\x1b[31m", "fixed[31m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeNotes(tt.notes)
			if result != tt.expected {
				t.Errorf("SanitizeNotes(%q) = %q; want %q", tt.notes, result, tt.expected)
			}
		})
	}

	t.Run("caps length", func(t *testing.T) {
		long := strings.Repeat("a", maxNotesLength+500)
		if got := SanitizeNotes(long); len(got) != maxNotesLength {
			t.Errorf("len = %d, want %d", len(got), maxNotesLength)
		}
	})
}

func TestEscapeForLogging(t *testing.T) {
	got := EscapeForLogging("line1\nline2\ttab", 100)
	if got != "line1\\nline2\\ttab" {
		t.Errorf("got %q", got)
	}

	truncated := EscapeForLogging(strings.Repeat("x", 20), 10)
	if truncated != strings.Repeat("x", 10)+"..." {
		t.Errorf("got %q", truncated)
	}
}
