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

// ListDirTool returns a tool for listing directory contents.
func ListDirTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_dir",
		Description: "List files and directories at a path",
		Category:    tools.CategoryFile,
		Execute:     executeListDir,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {
					Type:        "string",
					Description: "The directory path to list",
				},
				"include_hidden": {
					Type:        "boolean",
					Description: "Include hidden files (default: false)",
					Default:     false,
				},
			},
		},
	}
}

func executeListDir(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	includeHidden := boolArg(args, "include_hidden", false)

	logging.ToolsDebug("list_dir: path=%s", path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			names = append(names, name+"/")
		} else {
			names = append(names, name)
		}
	}

	logging.Tools("list_dir completed: %s (%d entries)", path, len(names))

	if len(names) == 0 {
		return "Directory is empty: " + path, nil
	}
	return strings.Join(names, "\n"), nil
}

// GlobTool returns a tool for finding files matching a pattern.
func GlobTool() *tools.Tool {
	return &tools.Tool{
		Name:        "glob",
		Description: "Find files matching a glob pattern",
		Category:    tools.CategorySearch,
		Execute:     executeGlob,
		Schema: tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Glob pattern (e.g., '**/*.go', 'src/*.ts')",
				},
				"path": {
					Type:        "string",
					Description: "Base directory for search (default: current directory)",
				},
				"head_limit": {
					Type:        "integer",
					Description: "Maximum number of results (default: 100)",
					Default:     100,
				},
			},
		},
	}
}

func executeGlob(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	basePath := "."
	if bp := stringArg(args, "path"); bp != "" {
		basePath = bp
	}

	maxResults := 100
	if mr, ok := intArg(args, "head_limit"); ok && mr > 0 {
		maxResults = mr
	}

	logging.ToolsDebug("glob: pattern=%s, base=%s", pattern, basePath)

	var matches []string

	// ** patterns need a recursive walk; filepath.Glob has no support.
	if strings.Contains(pattern, "**") {
		parts := strings.Split(pattern, "**")
		prefix := strings.TrimSuffix(parts[0], "/")
		suffix := ""
		if len(parts) > 1 {
			suffix = strings.TrimPrefix(parts[1], "/")
		}

		searchPath := basePath
		if prefix != "" {
			searchPath = filepath.Join(basePath, prefix)
		}

		err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // Skip errors
			}

			if len(matches) >= maxResults {
				return filepath.SkipAll
			}

			if info.IsDir() {
				if strings.HasPrefix(info.Name(), ".") && path != searchPath {
					return filepath.SkipDir
				}
				return nil
			}

			if suffix != "" {
				matched, _ := filepath.Match(suffix, info.Name())
				if !matched {
					relPath, _ := filepath.Rel(searchPath, path)
					matched, _ = filepath.Match(suffix, relPath)
				}
				if matched {
					relPath, _ := filepath.Rel(basePath, path)
					matches = append(matches, relPath)
				}
			} else {
				relPath, _ := filepath.Rel(basePath, path)
				matches = append(matches, relPath)
			}

			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		fullPattern := filepath.Join(basePath, pattern)
		globMatches, err := filepath.Glob(fullPattern)
		if err != nil {
			return "", fmt.Errorf("invalid glob pattern: %w", err)
		}

		for i, m := range globMatches {
			if i >= maxResults {
				break
			}
			relPath, _ := filepath.Rel(basePath, m)
			matches = append(matches, relPath)
		}
	}

	logging.Tools("glob completed: %s (%d matches)", pattern, len(matches))

	if len(matches) == 0 {
		return "No files found matching pattern: " + pattern, nil
	}

	return strings.Join(matches, "\n"), nil
}
