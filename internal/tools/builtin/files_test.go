package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// READ FILE TOOL TESTS
// =============================================================================

func TestReadFileTool_Definition(t *testing.T) {
	t.Parallel()

	tool := ReadFileTool()

	if tool.Name != "read_file" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if tool.Destructive {
		t.Error("read_file must not be destructive")
	}
	if tool.Execute == nil {
		t.Error("Execute should be set")
	}
}

func TestReadFileTool_Execute_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := executeReadFile(context.Background(), map[string]any{})
	if err == nil {
		t.Error("expected error for missing file_path")
	}
}

func TestReadFileTool_Execute_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := executeReadFile(context.Background(), map[string]any{
		"file_path": "/nonexistent/file.txt",
	})
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestReadFileTool_Execute_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	content := "Hello, World!\nSecond line."
	os.WriteFile(tmpFile, []byte(content), 0644)

	result, err := executeReadFile(context.Background(), map[string]any{
		"file_path": tmpFile,
	})
	if err != nil {
		t.Fatalf("executeReadFile error: %v", err)
	}

	if result != content {
		t.Errorf("got %q, want %q", result, content)
	}
}

func TestReadFileTool_Execute_OffsetAndLimit(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("line1\nline2\nline3\nline4\nline5"), 0644)

	// JSON-decoded numbers arrive as float64.
	result, err := executeReadFile(context.Background(), map[string]any{
		"file_path": tmpFile,
		"offset":    float64(2),
		"limit":     float64(2),
	})
	if err != nil {
		t.Fatalf("executeReadFile error: %v", err)
	}

	if result != "line2\nline3" {
		t.Errorf("got %q, want %q", result, "line2\nline3")
	}
}

// =============================================================================
// WRITE FILE TOOL TESTS
// =============================================================================

func TestWriteFileTool_Definition(t *testing.T) {
	t.Parallel()

	tool := WriteFileTool()

	if tool.Name != "write_file" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if !tool.Destructive {
		t.Error("write_file must be destructive")
	}
}

func TestWriteFileTool_Execute_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := executeWriteFile(context.Background(), map[string]any{
		"content": "test",
	})
	if err == nil {
		t.Error("expected error for missing file_path")
	}
}

func TestWriteFileTool_Execute_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "new_file.txt")

	result, err := executeWriteFile(context.Background(), map[string]any{
		"file_path": tmpFile,
		"content":   "Test content",
	})
	if err != nil {
		t.Fatalf("executeWriteFile error: %v", err)
	}

	if !strings.Contains(result, "Wrote") {
		t.Errorf("unexpected result: %s", result)
	}

	content, _ := os.ReadFile(tmpFile)
	if string(content) != "Test content" {
		t.Errorf("file content mismatch: got %q", string(content))
	}
}

func TestWriteFileTool_Execute_CreatesDirs(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "subdir", "nested", "file.txt")

	_, err := executeWriteFile(context.Background(), map[string]any{
		"file_path": tmpFile,
		"content":   "Nested content",
	})
	if err != nil {
		t.Fatalf("executeWriteFile error: %v", err)
	}

	if _, err := os.Stat(tmpFile); os.IsNotExist(err) {
		t.Error("file should have been created in nested directory")
	}
}

// =============================================================================
// EDIT FILE TOOL TESTS
// =============================================================================

func TestEditFileTool_Definition(t *testing.T) {
	t.Parallel()

	tool := EditFileTool()

	if tool.Name != "edit_file" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if !tool.Destructive {
		t.Error("edit_file must be destructive")
	}
}

func TestEditFileTool_Execute_MissingOldString(t *testing.T) {
	t.Parallel()

	_, err := executeEditFile(context.Background(), map[string]any{
		"file_path":  "/some/file.txt",
		"new_string": "new",
	})
	if err == nil {
		t.Error("expected error for missing old_string")
	}
}

func TestEditFileTool_Execute_ReplaceFirst(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("Hello OLD, goodbye OLD"), 0644)

	result, err := executeEditFile(context.Background(), map[string]any{
		"file_path":  tmpFile,
		"old_string": "OLD",
		"new_string": "NEW",
	})
	if err != nil {
		t.Fatalf("executeEditFile error: %v", err)
	}

	if !strings.Contains(result, "1 occurrence") {
		t.Errorf("unexpected result: %s", result)
	}

	content, _ := os.ReadFile(tmpFile)
	if string(content) != "Hello NEW, goodbye OLD" {
		t.Errorf("only the first occurrence should change, got %q", string(content))
	}
}

func TestEditFileTool_Execute_ReplaceAll(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("Hello OLD, goodbye OLD"), 0644)

	result, err := executeEditFile(context.Background(), map[string]any{
		"file_path":   tmpFile,
		"old_string":  "OLD",
		"new_string":  "NEW",
		"replace_all": true,
	})
	if err != nil {
		t.Fatalf("executeEditFile error: %v", err)
	}

	if !strings.Contains(result, "2 occurrence") {
		t.Errorf("unexpected result: %s", result)
	}

	content, _ := os.ReadFile(tmpFile)
	if strings.Contains(string(content), "OLD") {
		t.Errorf("all occurrences should change, got %q", string(content))
	}
}

func TestEditFileTool_Execute_NoMatch(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("Hello, World"), 0644)

	_, err := executeEditFile(context.Background(), map[string]any{
		"file_path":  tmpFile,
		"old_string": "NOTFOUND",
		"new_string": "NEW",
	})
	if err == nil {
		t.Error("expected error when old_string not found")
	}
}

// =============================================================================
// INSERT LINE TOOL TESTS
// =============================================================================

func TestInsertLineTool_Definition(t *testing.T) {
	t.Parallel()

	tool := InsertLineTool()

	if tool.Name != "insert_line" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if !tool.Destructive {
		t.Error("insert_line must be destructive")
	}
}

func TestInsertLineTool_Execute_Middle(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("one\ntwo\nthree"), 0644)

	_, err := executeInsertLine(context.Background(), map[string]any{
		"file_path":   tmpFile,
		"line_number": float64(2),
		"content":     "inserted",
	})
	if err != nil {
		t.Fatalf("executeInsertLine error: %v", err)
	}

	content, _ := os.ReadFile(tmpFile)
	if string(content) != "one\ninserted\ntwo\nthree" {
		t.Errorf("got %q", string(content))
	}
}

func TestInsertLineTool_Execute_Append(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("one\ntwo"), 0644)

	_, err := executeInsertLine(context.Background(), map[string]any{
		"file_path":   tmpFile,
		"line_number": float64(3),
		"content":     "three",
	})
	if err != nil {
		t.Fatalf("executeInsertLine error: %v", err)
	}

	content, _ := os.ReadFile(tmpFile)
	if string(content) != "one\ntwo\nthree" {
		t.Errorf("got %q", string(content))
	}
}

func TestInsertLineTool_Execute_OutOfRange(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test.txt")
	os.WriteFile(tmpFile, []byte("one"), 0644)

	_, err := executeInsertLine(context.Background(), map[string]any{
		"file_path":   tmpFile,
		"line_number": float64(10),
		"content":     "too far",
	})
	if err == nil {
		t.Error("expected error for out-of-range line number")
	}
}
