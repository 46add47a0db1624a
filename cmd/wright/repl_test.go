package main

import (
	"strings"
	"testing"
	"time"
)

func TestCompactArgs(t *testing.T) {
	if got := compactArgs(nil); got != "" {
		t.Errorf("nil input = %q, want empty", got)
	}

	got := compactArgs(map[string]any{"command": "ls -la\npwd"})
	if got != "ls -la …" {
		t.Errorf("multiline command = %q", got)
	}

	got = compactArgs(map[string]any{"path": "/tmp/notes.md"})
	if got != "/tmp/notes.md" {
		t.Errorf("single path = %q", got)
	}

	// Two keys fall through to JSON, which sorts map keys.
	got = compactArgs(map[string]any{"path": "/x", "mode": "w"})
	if got != `{"mode":"w","path":"/x"}` {
		t.Errorf("json form = %q", got)
	}
}

func TestCompactArgsTruncatesLongInput(t *testing.T) {
	got := compactArgs(map[string]any{"data": strings.Repeat("a", 200)})
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("long input not truncated: %q", got)
	}
	if n := len([]rune(got)); n != 121 {
		t.Errorf("truncated length = %d runes, want 121", n)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("single"); got != "single" {
		t.Errorf("single line = %q", got)
	}
	if got := firstLine("first\nsecond\nthird"); got != "first …" {
		t.Errorf("multiline = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("short string changed: %q", got)
	}
	if got := truncate("exactly10!", 10); got != "exactly10!" {
		t.Errorf("exact length changed: %q", got)
	}
	// Multi-byte runes must not be split.
	if got := truncate("héllo wörld", 5); got != "héll…" {
		t.Errorf("rune truncation = %q", got)
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Now()
	cases := []struct {
		t    time.Time
		want string
	}{
		{now, "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tc := range cases {
		if got := relativeTime(tc.t); got != tc.want {
			t.Errorf("relativeTime(%v) = %q, want %q", tc.t, got, tc.want)
		}
	}
}

func TestRenderFallsBackWithoutRenderer(t *testing.T) {
	r := &repl{}
	in := "**not** rendered"
	if got := r.render(in); got != in {
		t.Errorf("render without renderer = %q, want passthrough", got)
	}
}
