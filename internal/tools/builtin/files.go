package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codewright/internal/logging"
	"codewright/internal/tools"
)

// ReadFileTool returns a tool for reading file contents.
func ReadFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Category:    tools.CategoryFile,
		Execute:     executeReadFile,
		Schema: tools.ToolSchema{
			Required: []string{"file_path"},
			Properties: map[string]tools.Property{
				"file_path": {
					Type:        "string",
					Description: "The file path to read",
				},
				"offset": {
					Type:        "integer",
					Description: "Line number to start reading from (1-indexed, optional)",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum number of lines to read (optional)",
				},
			},
		},
	}
}

func executeReadFile(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "file_path")
	if path == "" {
		return "", fmt.Errorf("file_path is required")
	}

	logging.ToolsDebug("read_file: path=%s", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	result := string(content)

	offset, hasOffset := intArg(args, "offset")
	limit, hasLimit := intArg(args, "limit")

	if hasOffset || hasLimit {
		lines := strings.Split(result, "\n")

		if !hasOffset || offset < 1 {
			offset = 1
		}
		start := offset - 1
		if start > len(lines) {
			start = len(lines)
		}

		end := len(lines)
		if hasLimit && limit > 0 && start+limit < end {
			end = start + limit
		}

		result = strings.Join(lines[start:end], "\n")
	}

	logging.Tools("read_file completed: %s (%d bytes)", path, len(result))
	return result, nil
}

// WriteFileTool returns a tool for writing content to a file.
func WriteFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating it if it doesn't exist",
		Category:    tools.CategoryFile,
		Destructive: true,
		Execute:     executeWriteFile,
		Schema: tools.ToolSchema{
			Required: []string{"file_path", "content"},
			Properties: map[string]tools.Property{
				"file_path": {
					Type:        "string",
					Description: "The file path to write",
				},
				"content": {
					Type:        "string",
					Description: "The content to write",
				},
			},
		},
	}
}

func executeWriteFile(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "file_path")
	if path == "" {
		return "", fmt.Errorf("file_path is required")
	}

	content := stringArg(args, "content")

	logging.ToolsDebug("write_file: path=%s, size=%d", path, len(content))

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directories: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	logging.Tools("write_file completed: %s (%d bytes)", path, len(content))
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool returns a tool for editing files with search/replace.
func EditFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "edit_file",
		Description: "Edit a file by replacing text",
		Category:    tools.CategoryFile,
		Destructive: true,
		Execute:     executeEditFile,
		Schema: tools.ToolSchema{
			Required: []string{"file_path", "old_string", "new_string"},
			Properties: map[string]tools.Property{
				"file_path": {
					Type:        "string",
					Description: "The file path to edit",
				},
				"old_string": {
					Type:        "string",
					Description: "The text to find and replace",
				},
				"new_string": {
					Type:        "string",
					Description: "The replacement text",
				},
				"replace_all": {
					Type:        "boolean",
					Description: "Replace all occurrences (default: false, replaces first only)",
					Default:     false,
				},
			},
		},
	}
}

func executeEditFile(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "file_path")
	if path == "" {
		return "", fmt.Errorf("file_path is required")
	}

	oldString := stringArg(args, "old_string")
	if oldString == "" {
		return "", fmt.Errorf("old_string is required")
	}

	newString := stringArg(args, "new_string")
	replaceAll := boolArg(args, "replace_all", false)

	logging.ToolsDebug("edit_file: path=%s, old_len=%d, new_len=%d", path, len(oldString), len(newString))

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	contentStr := string(content)

	if !strings.Contains(contentStr, oldString) {
		return "", fmt.Errorf("old_string not found in file")
	}

	var newContent string
	var count int
	if replaceAll {
		count = strings.Count(contentStr, oldString)
		newContent = strings.ReplaceAll(contentStr, oldString, newString)
	} else {
		count = 1
		newContent = strings.Replace(contentStr, oldString, newString, 1)
	}

	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	logging.Tools("edit_file completed: %s (%d replacements)", path, count)
	return fmt.Sprintf("Replaced %d occurrence(s) in %s", count, path), nil
}

// InsertLineTool returns a tool for inserting text at a line number.
func InsertLineTool() *tools.Tool {
	return &tools.Tool{
		Name:        "insert_line",
		Description: "Insert text at a specific line number in a file",
		Category:    tools.CategoryFile,
		Destructive: true,
		Execute:     executeInsertLine,
		Schema: tools.ToolSchema{
			Required: []string{"file_path", "line_number", "content"},
			Properties: map[string]tools.Property{
				"file_path": {
					Type:        "string",
					Description: "The file path to modify",
				},
				"line_number": {
					Type:        "integer",
					Description: "Line number to insert at (1-indexed; the new text becomes this line)",
				},
				"content": {
					Type:        "string",
					Description: "The text to insert",
				},
			},
		},
	}
}

func executeInsertLine(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "file_path")
	if path == "" {
		return "", fmt.Errorf("file_path is required")
	}

	lineNumber, ok := intArg(args, "line_number")
	if !ok {
		return "", fmt.Errorf("line_number is required")
	}

	content := stringArg(args, "content")

	logging.ToolsDebug("insert_line: path=%s, line=%d", path, lineNumber)

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	if lineNumber < 1 || lineNumber > len(lines)+1 {
		return "", fmt.Errorf("line_number %d out of range (file has %d lines)", lineNumber, len(lines))
	}

	idx := lineNumber - 1
	updated := make([]string, 0, len(lines)+1)
	updated = append(updated, lines[:idx]...)
	updated = append(updated, content)
	updated = append(updated, lines[idx:]...)

	if err := os.WriteFile(path, []byte(strings.Join(updated, "\n")), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	logging.Tools("insert_line completed: %s:%d", path, lineNumber)
	return fmt.Sprintf("Inserted at %s:%d", path, lineNumber), nil
}
