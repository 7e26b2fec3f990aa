package logger

import (
	"strings"
	"testing"
)

func TestTruncateForLog(t *testing.T) {
	cases := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"short string untouched", "hello", 10, "hello"},
		{"trimmed before measuring", "  hello  ", 10, "hello"},
		{"truncated with ellipsis", "hello world", 5, "hello..."},
		{"zero limit", "hello", 0, ""},
		{"multibyte runes", strings.Repeat("ã", 10), 4, "ãããã..."},
	}

	for _, tc := range cases {
		if got := TruncateForLog(tc.input, tc.limit); got != tc.want {
			t.Fatalf("%s: TruncateForLog(%q, %d) = %q, want %q", tc.name, tc.input, tc.limit, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, json := range []bool{true, false} {
		log, err := New(json, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if log == nil {
			t.Fatalf("expected a logger")
		}
	}
}
