package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGrepTool_Definition(t *testing.T) {
	t.Parallel()

	tool := GrepTool()

	if tool.Name != "grep" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if tool.Destructive {
		t.Error("grep must not be destructive")
	}
}

func TestGrepTool_Execute_MissingPattern(t *testing.T) {
	t.Parallel()

	_, err := executeGrep(context.Background(), map[string]any{})
	if err == nil {
		t.Error("expected error for missing pattern")
	}
}

func TestGrepTool_Execute_InvalidRegex(t *testing.T) {
	t.Parallel()

	_, err := executeGrep(context.Background(), map[string]any{
		"pattern": "[unclosed",
		"path":    t.TempDir(),
	})
	if err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestGrepTool_Execute_FindsMatches(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "a.go"), []byte("package a\n// TODO: fix this\nfunc A() {}\n"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "b.go"), []byte("package b\nfunc B() {}\n"), 0644)

	result, err := executeGrep(context.Background(), map[string]any{
		"pattern": "TODO",
		"path":    tmpDir,
	})
	if err != nil {
		t.Fatalf("executeGrep error: %v", err)
	}

	if !strings.Contains(result, "a.go:2:") {
		t.Errorf("expected file:line prefix, got %q", result)
	}
	if !strings.Contains(result, "TODO: fix this") {
		t.Errorf("expected matching line, got %q", result)
	}
	if strings.Contains(result, "b.go") {
		t.Errorf("b.go has no match, got %q", result)
	}
}

func TestGrepTool_Execute_IncludeFilter(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "code.go"), []byte("needle\n"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("needle\n"), 0644)

	result, err := executeGrep(context.Background(), map[string]any{
		"pattern": "needle",
		"path":    tmpDir,
		"include": "*.go",
	})
	if err != nil {
		t.Fatalf("executeGrep error: %v", err)
	}

	if !strings.Contains(result, "code.go") {
		t.Errorf("expected code.go match, got %q", result)
	}
	if strings.Contains(result, "notes.txt") {
		t.Errorf("include filter should skip notes.txt, got %q", result)
	}
}

func TestGrepTool_Execute_HeadLimit(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("needle\n")
	}
	os.WriteFile(filepath.Join(tmpDir, "many.txt"), []byte(sb.String()), 0644)

	result, err := executeGrep(context.Background(), map[string]any{
		"pattern":    "needle",
		"path":       tmpDir,
		"head_limit": float64(5),
	})
	if err != nil {
		t.Fatalf("executeGrep error: %v", err)
	}

	lines := strings.Count(strings.TrimSpace(result), "\n") + 1
	if lines != 5 {
		t.Errorf("head_limit 5 should cap output, got %d lines", lines)
	}
}

func TestGrepTool_Execute_IgnoreCase(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "f.txt"), []byte("Needle in haystack\n"), 0644)

	result, err := executeGrep(context.Background(), map[string]any{
		"pattern":     "needle",
		"path":        tmpDir,
		"ignore_case": true,
	})
	if err != nil {
		t.Fatalf("executeGrep error: %v", err)
	}

	if strings.Contains(result, "No matches") {
		t.Errorf("ignore_case should match Needle, got %q", result)
	}
}

func TestGrepTool_Execute_NoMatches(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "f.txt"), []byte("nothing here\n"), 0644)

	result, err := executeGrep(context.Background(), map[string]any{
		"pattern": "absent_zzz",
		"path":    tmpDir,
	})
	if err != nil {
		t.Fatalf("executeGrep error: %v", err)
	}

	if !strings.Contains(result, "No matches found for pattern") {
		t.Errorf("expected no-match message, got %q", result)
	}
}

func TestGrepTool_Execute_SingleFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "one.txt")
	os.WriteFile(target, []byte("alpha\nbeta\n"), 0644)

	result, err := executeGrep(context.Background(), map[string]any{
		"pattern": "beta",
		"path":    target,
	})
	if err != nil {
		t.Fatalf("executeGrep error: %v", err)
	}

	if !strings.Contains(result, "one.txt:2:") {
		t.Errorf("expected match at line 2, got %q", result)
	}
}
